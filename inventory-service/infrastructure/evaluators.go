package infrastructure

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/domain"
	"github.com/pkg/errors"
)

// AcceptAllEvaluator lets every hold through to the capacity check.
type AcceptAllEvaluator struct{}

func (AcceptAllEvaluator) Evaluate(context.Context, domain.Evaluation) (domain.Decision, error) {
	return domain.DecisionAccept, nil
}

// SimulatedEvaluator imitates a slow external provider: it waits up to
// MaxDelay and accepts with probability AcceptRatio.
type SimulatedEvaluator struct {
	maxDelay    time.Duration
	acceptRatio float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulatedEvaluator creates a SimulatedEvaluator. A nil source seeds one
// from the runtime.
func NewSimulatedEvaluator(maxDelay time.Duration, acceptRatio float64, src rand.Source) (*SimulatedEvaluator, error) {
	if acceptRatio < 0 || acceptRatio > 1 {
		return nil, errors.Errorf("accept ratio must be within [0, 1], got %v", acceptRatio)
	}
	if maxDelay < 0 {
		return nil, errors.New("max delay must not be negative")
	}
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &SimulatedEvaluator{
		maxDelay:    maxDelay,
		acceptRatio: acceptRatio,
		rnd:         rand.New(src),
	}, nil
}

func (e *SimulatedEvaluator) Evaluate(ctx context.Context, _ domain.Evaluation) (domain.Decision, error) {
	e.mu.Lock()
	var delay time.Duration
	if e.maxDelay > 0 {
		delay = time.Duration(e.rnd.Int64N(int64(e.maxDelay) + 1))
	}
	accept := e.rnd.Float64() < e.acceptRatio
	e.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return domain.DecisionReject, ctx.Err()
		case <-timer.C:
		}
	}

	if accept {
		return domain.DecisionAccept, nil
	}
	return domain.DecisionReject, nil
}
