package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItem_Reserve(t *testing.T) {
	tests := []struct {
		name           string
		amount         int
		units          int
		expectedError  error
		expectedAmount int
	}{
		{"takes units", 5, 2, nil, 3},
		{"takes the last units", 2, 2, nil, 0},
		{"not enough capacity", 1, 2, ErrInsufficientCapacity, 1},
		{"zero units", 5, 0, ErrInvalidUnits, 5},
		{"negative units", 5, -1, ErrInvalidUnits, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := &Item{ID: 1, Amount: tt.amount}
			err := item.Reserve(tt.units)
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expectedAmount, item.Amount)
		})
	}
}

func TestReservation_Confirm(t *testing.T) {
	r := NewReservation("flight", uuid.New(), 7, 2, time.Now())
	require.True(t, r.Temporary)

	assert.True(t, r.Confirm())
	assert.False(t, r.Temporary)
	assert.False(t, r.Confirm())
}

func TestQuery_DayRange(t *testing.T) {
	warsaw := time.FixedZone("CEST", 2*60*60)
	q := Query{Day: time.Date(2024, 6, 1, 23, 30, 0, 0, warsaw)}

	start, end := q.DayRange()
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC), end)
}

func TestSelectionPolicies(t *testing.T) {
	candidates := []Item{
		{ID: 3, Amount: 1},
		{ID: 1, Amount: 4},
		{ID: 2, Amount: 9},
		{ID: 4, Amount: 4},
	}

	first, err := SelectionPolicyByName("")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(first.Rank(candidates)))

	most, err := SelectionPolicyByName("most_available")
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1, 4, 3}, ids(most.Rank(candidates)))

	assert.Equal(t, int64(3), candidates[0].ID, "ranking must not reorder the input")

	_, err = SelectionPolicyByName("cheapest")
	assert.Error(t, err)
}

func ids(items []Item) []int64 {
	out := make([]int64, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}
