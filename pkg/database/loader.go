package database

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/huandu/go-sqlbuilder"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)?$`)

// Open connects to the warehouse. mariadb:// and mysql:// URLs are converted to the
// MySQL driver format, postgres:// and postgresql:// go through pgx, anything else is
// handed to the MySQL driver as a native DSN.
func Open(dsn string) (*sqlx.DB, sqlbuilder.Flavor, error) {
	driver, flavor, native, err := resolveDSN(dsn)
	if err != nil {
		return nil, 0, err
	}
	db, err := sqlx.Open(driver, native)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, flavor, nil
}

func resolveDSN(dsn string) (driver string, flavor sqlbuilder.Flavor, native string, err error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "pgx", sqlbuilder.PostgreSQL, dsn, nil
	}
	native, err = toMySQLDSN(dsn)
	if err != nil {
		return "", 0, "", err
	}
	return "mysql", sqlbuilder.MySQL, native, nil
}

func toMySQLDSN(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "mariadb://") || strings.HasPrefix(dsn, "mysql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse dsn: %w", err)
		}
		user := ""
		pass := ""
		if u.User != nil {
			user = u.User.Username()
			pw, _ := u.User.Password()
			pass = pw
		}
		host := u.Host
		db := strings.TrimPrefix(u.Path, "/")
		if user == "" || host == "" || db == "" {
			return "", fmt.Errorf("incomplete dsn (user/host/db)")
		}
		return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&loc=UTC&interpolateParams=true",
			user, pass, host, db), nil
	}
	return dsn, nil
}

func validIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}
