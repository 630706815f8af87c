package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"lapse-cohort/pkg/models"
)

const dateLayout = "2006-01-02"

// Header lists the CSV columns in output order, without the optional group column.
var Header = []string{
	"subscriber_id", "last_refill_date", "refill_elapsed_days", "last_refill_amount",
	"last_topup_date", "topup_elapsed_days", "topup_amount", "topup_offer_id",
	"total_charge",
	"activation_date", "status", "status_date", "region", "district", "street",
	"device_category", "device_type", "device_brand", "device_model",
	"birth_year", "gender",
}

// WriteCSV writes the rows with a header line. Absent values are empty cells. When
// groups is non-nil it must be aligned with rows and adds a trailing group column.
func WriteCSV(w io.Writer, rows []models.SegmentationRow, groups []int) error {
	if groups != nil && len(groups) != len(rows) {
		return fmt.Errorf("groups has %d entries for %d rows", len(groups), len(rows))
	}

	writer := csv.NewWriter(w)
	header := Header
	if groups != nil {
		header = append(append([]string(nil), Header...), "group")
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for i, r := range rows {
		record := []string{
			r.SubscriberID,
			r.LastRefillDate.UTC().Format(dateLayout),
			strconv.Itoa(r.RefillElapsedDays),
			r.LastRefillAmount.String(),
			formatDate(r.LastTopUpDate),
			formatInt(r.TopUpElapsedDays),
			formatDecimal(r.TopUpAmount),
			formatString(r.TopUpOfferID),
			formatDecimal(r.TotalCharge),
			formatDate(r.ActivationDate),
			formatString(r.Status),
			formatDate(r.StatusDate),
			formatString(r.Region),
			formatString(r.District),
			formatString(r.Street),
			formatString(r.DeviceCategory),
			formatString(r.DeviceType),
			formatString(r.DeviceBrand),
			formatString(r.DeviceModel),
			formatInt(r.BirthYear),
			formatString(r.Gender),
		}
		if groups != nil {
			record = append(record, strconv.Itoa(groups[i]))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func formatDecimal(v *decimal.Decimal) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func formatString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
