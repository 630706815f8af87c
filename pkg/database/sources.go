package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"lapse-cohort/pkg/calculator"
	"lapse-cohort/pkg/models"
)

// Tables names the warehouse relations a run reads. Every dimension table (or view)
// exposes the same column set; attributes a source does not carry are NULL.
type Tables struct {
	Ledger     string
	Charges    string
	Exclusions string
	Dimensions []DimensionTable
}

// DimensionTable is one dimension relation and the predicate applied to its rows.
type DimensionTable struct {
	Name   string
	Table  string
	Filter models.DimensionFilter
}

// SQLSource reads the run snapshots from the warehouse.
type SQLSource struct {
	db     *sqlx.DB
	flavor sqlbuilder.Flavor
	tables Tables
	cache  QueryCache
	logger ectologger.Logger
}

var _ calculator.Sources = (*SQLSource)(nil)

// NewSQLSource validates the table names. cache may be nil.
func NewSQLSource(db *sqlx.DB, flavor sqlbuilder.Flavor, tables Tables, cache QueryCache, logger ectologger.Logger) (*SQLSource, error) {
	names := []string{tables.Ledger, tables.Charges, tables.Exclusions}
	for _, dim := range tables.Dimensions {
		names = append(names, dim.Table)
	}
	for _, name := range names {
		if err := validIdentifier(name); err != nil {
			return nil, err
		}
	}
	return &SQLSource{db: db, flavor: flavor, tables: tables, cache: cache, logger: logger}, nil
}

type ledgerRow struct {
	SubscriberID sql.NullString      `db:"subscriber_id"`
	EventDate    sql.NullTime        `db:"event_date"`
	Category     sql.NullString      `db:"category"`
	BusinessLine sql.NullString      `db:"business_line"`
	AccountType  sql.NullString      `db:"account_type"`
	Amount       decimal.NullDecimal `db:"amount"`
	OfferID      sql.NullString      `db:"offer_id"`
}

type chargeRow struct {
	SubscriberID sql.NullString      `db:"subscriber_id"`
	Amount       decimal.NullDecimal `db:"amount"`
}

type dimensionRow struct {
	SubscriberID   sql.NullString `db:"subscriber_id"`
	ActivationDate sql.NullTime   `db:"activation_date"`
	Status         sql.NullString `db:"status"`
	StatusDate     sql.NullTime   `db:"status_date"`
	Region         sql.NullString `db:"region"`
	District       sql.NullString `db:"district"`
	Street         sql.NullString `db:"street"`
	DeviceCategory sql.NullString `db:"device_category"`
	DeviceType     sql.NullString `db:"device_type"`
	DeviceBrand    sql.NullString `db:"device_brand"`
	DeviceModel    sql.NullString `db:"device_model"`
	BirthYear      sql.NullInt64  `db:"birth_year"`
	Gender         sql.NullString `db:"gender"`
	Government     sql.NullBool   `db:"government"`
	Product        sql.NullString `db:"product"`
	ServiceNumber  sql.NullString `db:"service_number"`
}

type exclusionRow struct {
	SubscriberID sql.NullString `db:"subscriber_id"`
}

var dimensionColumns = []string{
	"subscriber_id", "activation_date", "status", "status_date", "region", "district",
	"street", "device_category", "device_type", "device_brand", "device_model",
	"birth_year", "gender", "government", "product", "service_number",
}

func (s *SQLSource) ledgerQuery(q calculator.LedgerQuery) *sqlbuilder.SelectBuilder {
	categories := make([]any, 0, len(q.Categories))
	for _, c := range q.Categories {
		categories = append(categories, strings.ToLower(strings.TrimSpace(c)))
	}

	sb := s.flavor.NewSelectBuilder()
	sb.Select("subscriber_id", "event_date", "category", "business_line", "account_type", "amount", "offer_id")
	sb.From(s.tables.Ledger)
	sb.Where(
		sb.GreaterEqualThan("event_date", q.From.UTC()),
		sb.LessEqualThan("event_date", q.To.UTC()),
		sb.In("LOWER(category)", categories...),
		sb.Equal("LOWER(business_line)", strings.ToLower(q.BusinessLine)),
		sb.Equal("LOWER(account_type)", strings.ToLower(q.AccountType)),
	)
	// total over every field a row can contribute to the output, so arrival order is
	// stable for rows that tie on date and amount
	sb.OrderBy("subscriber_id", "event_date", "amount DESC", "offer_id")
	return sb
}

func (s *SQLSource) chargesQuery() *sqlbuilder.SelectBuilder {
	sb := s.flavor.NewSelectBuilder()
	sb.Select("subscriber_id", "amount")
	sb.From(s.tables.Charges)
	return sb
}

func (s *SQLSource) dimensionQuery(table string) *sqlbuilder.SelectBuilder {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(dimensionColumns...)
	sb.From(table)
	return sb
}

func (s *SQLSource) exclusionsQuery() *sqlbuilder.SelectBuilder {
	sb := s.flavor.NewSelectBuilder()
	sb.Select("subscriber_id")
	sb.From(s.tables.Exclusions)
	return sb
}

func (s *SQLSource) LedgerEvents(ctx context.Context, q calculator.LedgerQuery) ([]models.TransactionEvent, error) {
	return fetch(ctx, s, "ledger", s.ledgerQuery(q), func(i int, r ledgerRow) models.TransactionEvent {
		return models.TransactionEvent{
			SubscriberID: r.SubscriberID.String,
			EventDate:    nullTimeValue(r.EventDate),
			Category:     r.Category.String,
			BusinessLine: r.BusinessLine.String,
			AccountType:  r.AccountType.String,
			Amount:       r.Amount.Decimal,
			OfferID:      nullString(r.OfferID),
			Seq:          i,
		}
	})
}

func (s *SQLSource) ChargeFacts(ctx context.Context) ([]models.ChargeFact, error) {
	return fetch(ctx, s, "charges", s.chargesQuery(), func(_ int, r chargeRow) models.ChargeFact {
		return models.ChargeFact{SubscriberID: r.SubscriberID.String, Amount: r.Amount.Decimal}
	})
}

func (s *SQLSource) Dimensions(ctx context.Context) ([]calculator.Dimension, error) {
	dims := make([]calculator.Dimension, 0, len(s.tables.Dimensions))
	for _, dt := range s.tables.Dimensions {
		records, err := fetch(ctx, s, "dimension:"+dt.Name, s.dimensionQuery(dt.Table), toDimensionRecord)
		if err != nil {
			return nil, err
		}
		dims = append(dims, calculator.Dimension{Name: dt.Name, Filter: dt.Filter, Records: records})
	}
	return dims, nil
}

func (s *SQLSource) Exclusions(ctx context.Context) ([]models.ExclusionEntry, error) {
	return fetch(ctx, s, "exclusions", s.exclusionsQuery(), func(_ int, r exclusionRow) models.ExclusionEntry {
		return models.ExclusionEntry{SubscriberID: r.SubscriberID.String}
	})
}

// fetch runs the query through the cache. Cache failures are logged and fall back to
// the database.
func fetch[R, M any](ctx context.Context, s *SQLSource, source string, sb *sqlbuilder.SelectBuilder, convert func(int, R) M) ([]M, error) {
	query, args := sb.Build()
	log := s.logger.WithContext(ctx).WithField("source", source)

	key := ""
	if s.cache != nil {
		k, err := CacheKey(query, args)
		if err != nil {
			return nil, err
		}
		key = k
		var cached []M
		hit, err := s.cache.Get(ctx, key, &cached)
		switch {
		case err != nil:
			log.WithError(err).Warn("Query cache read failed")
		case hit:
			log.WithField("rows", len(cached)).Debug("Query cache hit")
			return cached, nil
		}
	}

	var rows []R
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		log.WithError(err).Error("Failed to query source")
		return nil, fmt.Errorf("query %s: %w", source, err)
	}
	out := make([]M, len(rows))
	for i, r := range rows {
		out[i] = convert(i, r)
	}

	if key != "" {
		if err := s.cache.Put(ctx, key, out); err != nil {
			log.WithError(err).Warn("Query cache write failed")
		}
	}
	log.WithField("rows", len(out)).Debug("Loaded source rows")
	return out, nil
}

func toDimensionRecord(_ int, r dimensionRow) models.DimensionRecord {
	rec := models.DimensionRecord{
		SubscriberProfile: models.SubscriberProfile{
			SubscriberID: r.SubscriberID.String,
			ProfileAttributes: models.ProfileAttributes{
				ActivationDate: nullTime(r.ActivationDate),
				Status:         nullString(r.Status),
				StatusDate:     nullTime(r.StatusDate),
				Region:         nullString(r.Region),
				District:       nullString(r.District),
				Street:         nullString(r.Street),
				DeviceCategory: nullString(r.DeviceCategory),
				DeviceType:     nullString(r.DeviceType),
				DeviceBrand:    nullString(r.DeviceBrand),
				DeviceModel:    nullString(r.DeviceModel),
				Gender:         nullString(r.Gender),
			},
		},
		Government:    r.Government.Valid && r.Government.Bool,
		Product:       r.Product.String,
		ServiceNumber: r.ServiceNumber.String,
	}
	if r.BirthYear.Valid {
		y := int(r.BirthYear.Int64)
		rec.BirthYear = &y
	}
	return rec
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func nullTimeValue(v sql.NullTime) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return v.Time.UTC()
}
