package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "candlekeeper/internal/domain/entity/marketdata"
	interfaces "candlekeeper/internal/domain/interfaces"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "candlekeeper:window"

// SnapshotStore keeps the latest cached window of each series in Redis so a
// fresh process can pick up where the last one stopped.
type SnapshotStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

var _ interfaces.SequenceStore = (*SnapshotStore)(nil)

// NewSnapshotStore stores windows under ttl. A zero ttl keeps them forever.
func NewSnapshotStore(client redis.Cmdable, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{client: client, ttl: ttl}
}

func (s *SnapshotStore) SaveSequence(ctx context.Context, seq domain.Sequence) error {
	if seq.IsEmpty() {
		return nil
	}
	payload, err := seq.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode window %s: %w", seq.Key(), err)
	}
	if err := s.client.Set(ctx, formatKey(seq.Key()), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("store window %s: %w", seq.Key(), err)
	}
	return nil
}

func (s *SnapshotStore) LoadSequence(ctx context.Context, instrument domain.Instrument, granularity domain.Granularity) (domain.Sequence, error) {
	key := domain.Key{Instrument: instrument, Granularity: granularity}
	payload, err := s.client.Get(ctx, formatKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Sequence{}, interfaces.ErrSequenceNotFound
	}
	if err != nil {
		return domain.Sequence{}, fmt.Errorf("load window %s: %w", key, err)
	}
	var seq domain.Sequence
	if err := seq.UnmarshalJSON(payload); err != nil {
		return domain.Sequence{}, fmt.Errorf("decode window %s: %w", key, err)
	}
	if seq.Key() != key {
		return domain.Sequence{}, fmt.Errorf("window stored under %s holds %s: %w", key, seq.Key(), domain.ErrKeyMismatch)
	}
	return seq, nil
}

func formatKey(key domain.Key) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, key.Instrument, key.Granularity.Code)
}
