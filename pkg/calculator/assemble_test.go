package calculator

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lapse-cohort/pkg/models"
)

func TestAssembleRows(t *testing.T) {
	refills, err := AggregateRecency(context.Background(), sequence(refill("S2", 75, 10), refill("S3", 70, 4)), ref, 1)
	require.NoError(t, err)
	topups, err := AggregateRecency(context.Background(), sequence(topup("S2", 80, 5, "PROMO1")), ref, 1)
	require.NoError(t, err)

	charges := map[string]models.LifetimeChargeTotal{
		"S2": {SubscriberID: "S2", TotalCharge: decimal.NewFromInt(42)},
	}
	profiles := map[string]models.ProfileAttributes{
		"S3": {Gender: strPtr("F")},
	}

	rows := AssembleRows([]string{"S2", "S3"}, refills, topups, charges, profiles)

	require.Len(t, rows, 2)
	s2, s3 := rows[0], rows[1]

	assert.Equal(t, "S2", s2.SubscriberID)
	assert.Equal(t, 75, s2.RefillElapsedDays)
	assert.Equal(t, "10", s2.LastRefillAmount.String())
	require.NotNil(t, s2.TopUpAmount)
	assert.Equal(t, "5", s2.TopUpAmount.String())
	assert.Equal(t, "PROMO1", *s2.TopUpOfferID)
	assert.Equal(t, 80, *s2.TopUpElapsedDays)
	assert.Equal(t, "42", s2.TotalCharge.String())
	assert.Nil(t, s2.Gender)

	assert.Equal(t, "S3", s3.SubscriberID)
	assert.Nil(t, s3.LastTopUpDate)
	assert.Nil(t, s3.TopUpOfferID)
	assert.Nil(t, s3.TotalCharge)
	assert.Equal(t, "F", *s3.Gender)
}
