package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaffStatusIsActive(t *testing.T) {
	tests := []struct {
		status StaffStatus
		want   bool
	}{
		{"", true},
		{"active", true},
		{" Active ", true},
		{"inactive", false},
		{"other", false},
		{"terminated", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsActive())
		})
	}
}

func TestNewRollupCoversEveryScope(t *testing.T) {
	tables := map[string]struct{}{}
	for _, scope := range RollupScopes {
		rec := NewRollup(scope)
		require.NotNil(t, rec, scope)
		assert.Equal(t, scope, rec.Scope())

		// Columns and values line up so generic SQL can be built from them.
		assert.Len(t, rec.KeyValues(), len(rec.KeyColumns()), scope)
		assert.Len(t, rec.Values(), len(rec.ValueColumns()), scope)
		assert.Len(t, rec.ScanTargets(), len(rec.KeyColumns())+len(rec.ValueColumns()), scope)

		_, dup := tables[rec.Table()]
		assert.False(t, dup, "duplicate table %s", rec.Table())
		tables[rec.Table()] = struct{}{}

		_, ok := ValidScopes[scope]
		assert.True(t, ok, scope)
	}

	assert.Nil(t, NewRollup(AllScope))
	assert.Nil(t, NewRollup("bogus"))
}

func TestCalculationTimestamps(t *testing.T) {
	at := time.Date(2024, 3, 2, 11, 0, 0, 0, time.UTC)
	rec := NewRollup(TeamScope)
	rec.SetCalculated(at)
	assert.Equal(t, at, rec.Calculated())
}

func TestDetectionRate(t *testing.T) {
	assert.Zero(t, RepositoryResult{}.DetectionRate())
	assert.InDelta(t, 0.75, RepositoryResult{MergesSeen: 4, MergesMatched: 3}.DetectionRate(), 1e-9)
}

func TestExtractSummaryFailed(t *testing.T) {
	s := ExtractSummary{Repositories: []RepositoryResult{
		{Locator: "cg/orders", Status: StatusOK},
		{Locator: "cg/billing", Status: StatusFailed},
		{Locator: "cg/ledger", Status: StatusDegraded},
	}}
	failed := s.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "cg/billing", failed[0].Locator)
}

func TestAggregateSummaryTotals(t *testing.T) {
	s := AggregateSummary{Calculators: []CalculatorResult{
		{Scope: DailyScope, Recalculated: 4},
		{Scope: StaffScope, Recalculated: 2, Status: StatusDegraded},
	}}
	assert.Equal(t, 6, s.Recalculated())

	staff, ok := s.Result(StaffScope)
	require.True(t, ok)
	assert.Equal(t, StatusDegraded, staff.Status)

	_, ok = s.Result(TeamScope)
	assert.False(t, ok)
}
