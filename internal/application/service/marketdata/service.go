package marketdata

import (
	"context"
	"errors"
	"fmt"
	"io"

	"candlekeeper/internal/application/service/collector"
	marketdata "candlekeeper/internal/domain/entity/marketdata"
	interfaces "candlekeeper/internal/domain/interfaces"

	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidLimit     = errors.New("limit must be positive")
	ErrInvalidOffset    = errors.New("offset must not be negative")
	ErrCollectorMissing = errors.New("collector is not registered")
)

// Service exposes the collector registry to the outer layers and moves cached
// windows in and out of the configured stores.
type Service struct {
	registry *collector.Registry
	stores   []interfaces.SequenceStore
	allowed  map[marketdata.Key]struct{}
	logger   *logrus.Entry
}

// NewService wires the registry to stores. Restore consults stores in the
// order given; Persist writes to all of them.
func NewService(registry *collector.Registry, logger *logrus.Logger, stores ...interfaces.SequenceStore) *Service {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Service{
		registry: registry,
		stores:   stores,
		logger:   logger.WithField("component", "marketdata_service"),
	}
}

// Limit restricts reads to the given series. Reads of any other key fail with
// ErrCollectorMissing instead of creating a collector. Without a call to
// Limit every key is served.
func (s *Service) Limit(keys ...marketdata.Key) {
	s.allowed = make(map[marketdata.Key]struct{}, len(keys))
	for _, key := range keys {
		s.allowed[key] = struct{}{}
	}
}

func (s *Service) collectorFor(instrument marketdata.Instrument, granularity marketdata.Granularity) (*collector.Synchronized, error) {
	if s.allowed != nil {
		key := marketdata.Key{Instrument: instrument, Granularity: granularity}
		if _, ok := s.allowed[key]; !ok {
			return nil, fmt.Errorf("%s: %w", key, ErrCollectorMissing)
		}
	}
	return s.registry.Get(instrument, granularity), nil
}

func (s *Service) GetLastCandles(ctx context.Context, instrument marketdata.Instrument, granularity marketdata.Granularity, count int) (marketdata.Sequence, error) {
	if count <= 0 {
		return marketdata.Sequence{}, ErrInvalidLimit
	}
	c, err := s.collectorFor(instrument, granularity)
	if err != nil {
		return marketdata.Sequence{}, err
	}
	return c.Read(ctx, count)
}

func (s *Service) GetCandlesOffset(ctx context.Context, instrument marketdata.Instrument, granularity marketdata.Granularity, offset, count int) (marketdata.Sequence, error) {
	if offset < 0 {
		return marketdata.Sequence{}, ErrInvalidOffset
	}
	if count <= 0 {
		return marketdata.Sequence{}, ErrInvalidLimit
	}
	c, err := s.collectorFor(instrument, granularity)
	if err != nil {
		return marketdata.Sequence{}, err
	}
	return c.ReadOffset(ctx, offset, count)
}

// Status reports the state of an existing collector without creating one.
func (s *Service) Status(instrument marketdata.Instrument, granularity marketdata.Granularity) (collector.State, error) {
	c, ok := s.registry.Lookup(instrument, granularity)
	if !ok {
		return collector.State{}, fmt.Errorf("%s:%s: %w", instrument, granularity, ErrCollectorMissing)
	}
	return c.State(), nil
}

func (s *Service) ListStatus() []collector.State {
	keys := s.registry.Keys()
	states := make([]collector.State, 0, len(keys))
	for _, key := range keys {
		if c, ok := s.registry.Lookup(key.Instrument, key.Granularity); ok {
			states = append(states, c.State())
		}
	}
	return states
}

// Restore seeds the collector for the key from the first store holding a
// window for it. It returns interfaces.ErrSequenceNotFound when none does.
func (s *Service) Restore(ctx context.Context, instrument marketdata.Instrument, granularity marketdata.Granularity) error {
	log := s.logger.WithFields(logrus.Fields{"instrument": instrument, "granularity": granularity.Code})
	for _, store := range s.stores {
		seq, err := store.LoadSequence(ctx, instrument, granularity)
		if errors.Is(err, interfaces.ErrSequenceNotFound) {
			continue
		}
		if err != nil {
			log.WithError(err).Warn("store failed to load window")
			continue
		}
		if err := s.registry.Get(instrument, granularity).Restore(seq); err != nil {
			return fmt.Errorf("restore %s:%s: %w", instrument, granularity, err)
		}
		log.WithField("candles", seq.Len()).Info("window restored")
		return nil
	}
	return interfaces.ErrSequenceNotFound
}

// Persist saves a snapshot of every registered collector to every store and
// returns the number of windows written.
func (s *Service) Persist(ctx context.Context) (int, error) {
	var (
		errs    []error
		written int
	)
	for _, key := range s.registry.Keys() {
		c, ok := s.registry.Lookup(key.Instrument, key.Granularity)
		if !ok {
			continue
		}
		seq, err := c.Snapshot()
		if err != nil {
			errs = append(errs, fmt.Errorf("snapshot %s: %w", key, err))
			continue
		}
		if seq.IsEmpty() {
			continue
		}
		for _, store := range s.stores {
			if err := store.SaveSequence(ctx, seq); err != nil {
				errs = append(errs, fmt.Errorf("persist %s: %w", key, err))
			}
		}
		written++
	}
	if err := errors.Join(errs...); err != nil {
		return written, err
	}
	s.logger.WithField("windows", written).Debug("persisted windows")
	return written, nil
}
