package infrastructure

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedEvaluator(t *testing.T) {
	tests := []struct {
		name        string
		acceptRatio float64
		expected    domain.Decision
	}{
		{"always accepts", 1, domain.DecisionAccept},
		{"always rejects", 0, domain.DecisionReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewSimulatedEvaluator(0, tt.acceptRatio, rand.NewPCG(1, 2))
			require.NoError(t, err)

			for i := 0; i < 20; i++ {
				d, err := e.Evaluate(context.Background(), domain.Evaluation{})
				require.NoError(t, err)
				assert.Equal(t, tt.expected, d)
			}
		})
	}
}

func TestSimulatedEvaluator_HonoursCancellation(t *testing.T) {
	e, err := NewSimulatedEvaluator(time.Hour, 1, rand.NewPCG(3, 4))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := e.Evaluate(ctx, domain.Evaluation{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.DecisionReject, d)
}

func TestNewSimulatedEvaluator_Validation(t *testing.T) {
	_, err := NewSimulatedEvaluator(0, 1.5, nil)
	assert.Error(t, err)

	_, err = NewSimulatedEvaluator(-time.Second, 0.5, nil)
	assert.Error(t, err)
}

func TestAcceptAllEvaluator(t *testing.T) {
	d, err := AcceptAllEvaluator{}.Evaluate(context.Background(), domain.Evaluation{})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAccept, d)
}
