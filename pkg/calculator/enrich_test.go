package calculator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lapse-cohort/pkg/models"
)

func dimRecord(id, status string, statusDate time.Time, region string) models.DimensionRecord {
	return models.DimensionRecord{
		SubscriberProfile: models.SubscriberProfile{
			SubscriberID: id,
			ProfileAttributes: models.ProfileAttributes{
				Status:     strPtr(status),
				StatusDate: &statusDate,
				Region:     strPtr(region),
			},
		},
		Product: "Mobile Phone",
	}
}

func TestEnrichProfiles_FilterAppliesBeforeJoin(t *testing.T) {
	gov := dimRecord("S2", "Active", daysAgo(10), "Tbilisi")
	gov.Government = true
	suspended := dimRecord("S3", "Suspended", daysAgo(10), "Batumi")
	landline := dimRecord("S4", "Active", daysAgo(10), "Kutaisi")
	landline.Product = "Fixed Line"
	listed := dimRecord("S5", "Partial", daysAgo(10), "Gori")
	listed.ServiceNumber = "555000"

	filter := models.DefaultDimensionFilter()
	filter.ExcludedServiceNumbers = []string{"555000"}
	dims := []Dimension{{
		Name:    "subscriber",
		Filter:  filter,
		Records: []models.DimensionRecord{dimRecord("S1", "active", daysAgo(10), "Tbilisi"), gov, suspended, landline, listed},
	}}

	got := EnrichProfiles([]string{"S1", "S2", "S3", "S4", "S5"}, dims, models.DropCounts{})

	require.Len(t, got, 5)
	require.NotNil(t, got["S1"].Region)
	assert.Equal(t, "Tbilisi", *got["S1"].Region)
	for _, id := range []string{"S2", "S3", "S4", "S5"} {
		assert.Equal(t, models.ProfileAttributes{}, got[id], id)
	}
}

func TestEnrichProfiles_DuplicateRowsPickMostRecentStatus(t *testing.T) {
	dims := []Dimension{{
		Name: "subscriber",
		Records: []models.DimensionRecord{
			dimRecord("S1", "Active", daysAgo(40), "Old"),
			dimRecord("S1", "Partial", daysAgo(5), "New"),
			dimRecord("S1", "Active", daysAgo(5), "SameDayLater"),
		},
	}}

	got := EnrichProfiles([]string{"S1"}, dims, models.DropCounts{})

	assert.Equal(t, "New", *got["S1"].Region)
	assert.Equal(t, "Partial", *got["S1"].Status)
}

func TestEnrichProfiles_SuccessiveSources(t *testing.T) {
	birth := 1985
	device := models.DimensionRecord{SubscriberProfile: models.SubscriberProfile{
		SubscriberID: "S1",
		ProfileAttributes: models.ProfileAttributes{
			Region:      strPtr("Device region"),
			DeviceBrand: strPtr("Nokia"),
			BirthYear:   &birth,
		},
	}}

	dims := []Dimension{
		{Name: "status", Records: []models.DimensionRecord{dimRecord("S1", "Active", daysAgo(3), "Status region")}},
		{Name: "device", Records: []models.DimensionRecord{device, {}}},
	}
	drops := models.DropCounts{}

	got := EnrichProfiles([]string{"S1", "S4"}, dims, drops)

	assert.Equal(t, "Status region", *got["S1"].Region, "earlier source wins")
	assert.Equal(t, "Nokia", *got["S1"].DeviceBrand)
	assert.Equal(t, 1985, *got["S1"].BirthYear)
	assert.Equal(t, models.ProfileAttributes{}, got["S4"])
	assert.Equal(t, 1, drops[models.DropKey{Source: "dimension:device", Reason: models.ReasonMissingSubscriber}])
}

func TestEnrichProfiles_NoDimensions(t *testing.T) {
	got := EnrichProfiles([]string{"S1"}, nil, models.DropCounts{})
	assert.Equal(t, map[string]models.ProfileAttributes{"S1": {}}, got)
}

func TestEnrichProfiles_FilterIsPerDimension(t *testing.T) {
	account := dimRecord("S2", "Active", daysAgo(10), "Tbilisi")
	device := models.DimensionRecord{SubscriberProfile: models.SubscriberProfile{
		SubscriberID:      "S2",
		ProfileAttributes: models.ProfileAttributes{DeviceBrand: strPtr("Nokia")},
	}}

	dims := []Dimension{
		{Name: "account", Filter: models.DefaultDimensionFilter(), Records: []models.DimensionRecord{account}},
		{Name: "device", Records: []models.DimensionRecord{device}},
	}
	out := EnrichProfiles([]string{"S2"}, dims, models.DropCounts{})

	require.NotNil(t, out["S2"].DeviceBrand)
	assert.Equal(t, "Nokia", *out["S2"].DeviceBrand)
	assert.Equal(t, "Active", *out["S2"].Status)

	// the account predicate would reject a row without status or product
	dims[1].Filter = models.DefaultDimensionFilter()
	out = EnrichProfiles([]string{"S2"}, dims, models.DropCounts{})
	assert.Nil(t, out["S2"].DeviceBrand)
}
