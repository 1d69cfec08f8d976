package infrastructure

import (
	"context"
	"sync"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/domain"
)

var _ domain.ItemLocker = (*LocalItemLocker)(nil)

const DefaultLockShards = 64

// LocalItemLocker serializes item mutations inside one process. Items are
// spread over a fixed number of shards; two items in the same shard wait for
// each other, which costs throughput but never correctness.
type LocalItemLocker struct {
	shards []chan struct{}
}

// NewLocalItemLocker creates a locker with the given number of shards.
func NewLocalItemLocker(shards int) *LocalItemLocker {
	if shards <= 0 {
		shards = DefaultLockShards
	}
	l := &LocalItemLocker{shards: make([]chan struct{}, shards)}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
	}
	return l
}

// Lock blocks until the item's shard is free or ctx is done.
func (l *LocalItemLocker) Lock(ctx context.Context, itemID int64) (func(), error) {
	shard := l.shards[l.shardOf(itemID)]

	select {
	case shard <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-shard })
	}, nil
}

func (l *LocalItemLocker) shardOf(itemID int64) int {
	n := int64(len(l.shards))
	idx := itemID % n
	if idx < 0 {
		idx += n
	}
	return int(idx)
}
