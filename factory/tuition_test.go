package factory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tuition-engine/billing"
	"github.com/warp/tuition-engine/generic"
)

func TestParseTuitionType_Defaults(t *testing.T) {
	// GIVEN: A tuition type with only id, name and amount
	f := NewTuitionTypeFactory()

	// WHEN: Parsed
	tt, err := f.ParseTuitionType(`{"id": "basic", "name": "Basic", "base_amount": 500}`)

	// THEN: Currency, due day and late fee take their defaults
	require.NoError(t, err)
	assert.Equal(t, "basic", tt.ID)
	assert.True(t, tt.BaseAmount.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, generic.CurrencyUSD, tt.Currency)
	assert.Equal(t, DefaultDueDay, tt.DueDay)
	assert.Equal(t, billing.LateFeeFixed, tt.LateFeeType)
	assert.True(t, tt.LateFeeValue.IsZero())
}

func TestParseTuitionType_Presets(t *testing.T) {
	f := NewTuitionTypeFactory()

	tests := []struct {
		name     string
		json     string
		feeType  billing.LateFeeType
		feeValue string
		dueDay   int
	}{
		{"monthly", MonthlyTuitionJSON("m", "Monthly", "450.50", 5), billing.LateFeeFixed, "0", 5},
		{"fixed fee", FixedLateFeeTuitionJSON("f", "Fixed", "500", 10, "25"), billing.LateFeeFixed, "25", 10},
		{"percentage fee", PercentageLateFeeTuitionJSON("p", "Pct", "500", 15, "5"), billing.LateFeePercentage, "5", 15},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tt, err := f.ParseTuitionType(tc.json)
			require.NoError(t, err)
			assert.Equal(t, tc.feeType, tt.LateFeeType)
			assert.True(t, tt.LateFeeValue.Equal(decimal.RequireFromString(tc.feeValue)))
			assert.Equal(t, tc.dueDay, tt.DueDay)
		})
	}
}

func TestParseTuitionType_Rejects(t *testing.T) {
	f := NewTuitionTypeFactory()

	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"id": `},
		{"non-numeric amount", `{"id": "x", "name": "X", "base_amount": "abc"}`},
		{"missing name", `{"id": "x", "base_amount": 100}`},
		{"negative amount", `{"id": "x", "name": "X", "base_amount": -1}`},
		{"due day out of range", `{"id": "x", "name": "X", "base_amount": 100, "due_day": 31}`},
		{"unknown late fee type", `{"id": "x", "name": "X", "base_amount": 100, "late_fee": {"type": "daily", "value": 1}}`},
		{"percentage over 100", `{"id": "x", "name": "X", "base_amount": 100, "late_fee": {"type": "percentage", "value": 150}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ParseTuitionType(tc.json)
			assert.Error(t, err)
		})
	}
}

func TestToJSON_RoundTrip(t *testing.T) {
	// GIVEN: A parsed tuition type
	f := NewTuitionTypeFactory()
	tt, err := f.ParseTuitionType(PercentageLateFeeTuitionJSON("p", "Pct", "500", 15, "5"))
	require.NoError(t, err)

	// WHEN: Encoded and parsed again
	raw, err := f.ToJSON(*tt)
	require.NoError(t, err)
	again, err := f.ParseTuitionType(raw)

	// THEN: The late-fee terms survive
	require.NoError(t, err)
	assert.Equal(t, tt.Snapshot().LateFeeType, again.Snapshot().LateFeeType)
	assert.True(t, tt.LateFeeValue.Equal(again.LateFeeValue))
	assert.Equal(t, tt.DueDay, again.DueDay)
}
