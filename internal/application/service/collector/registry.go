package collector

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	marketdata "candlekeeper/internal/domain/entity/marketdata"
	interfaces "candlekeeper/internal/domain/interfaces"

	"github.com/shopspring/decimal"
)

// Synchronized serializes every call to the wrapped Collector.
type Synchronized struct {
	mu        sync.Mutex
	collector *Collector
}

func NewSynchronized(c *Collector) *Synchronized {
	return &Synchronized{collector: c}
}

func (s *Synchronized) Key() marketdata.Key {
	return s.collector.Key()
}

func (s *Synchronized) Read(ctx context.Context, count int) (marketdata.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collector.Read(ctx, count)
}

func (s *Synchronized) ReadOffset(ctx context.Context, offset, count int) (marketdata.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collector.ReadOffset(ctx, offset, count)
}

func (s *Synchronized) Extremes() (decimal.Decimal, decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collector.Extremes()
}

func (s *Synchronized) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collector.State()
}

func (s *Synchronized) Snapshot() (marketdata.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collector.Snapshot()
}

func (s *Synchronized) Restore(seq marketdata.Sequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collector.Restore(seq)
}

// Registry hands out one collector per instrument and granularity. Options
// are applied to every collector it creates.
type Registry struct {
	fetcher interfaces.CandleFetcher
	opts    []Option

	mu         sync.Mutex
	collectors map[marketdata.Key]*Synchronized
}

func NewRegistry(fetcher interfaces.CandleFetcher, opts ...Option) *Registry {
	return &Registry{
		fetcher:    fetcher,
		opts:       opts,
		collectors: make(map[marketdata.Key]*Synchronized),
	}
}

// Get returns the collector for the key, creating it on first use.
func (r *Registry) Get(instrument marketdata.Instrument, granularity marketdata.Granularity) *Synchronized {
	key := marketdata.Key{Instrument: instrument, Granularity: granularity}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.collectors[key]; ok {
		return c
	}
	c := NewSynchronized(New(instrument, granularity, r.fetcher, r.opts...))
	r.collectors[key] = c
	return c
}

// Lookup returns an existing collector without creating one.
func (r *Registry) Lookup(instrument marketdata.Instrument, granularity marketdata.Granularity) (*Synchronized, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.collectors[marketdata.Key{Instrument: instrument, Granularity: granularity}]
	return c, ok
}

// Keys lists registered keys by instrument, then by granularity length.
func (r *Registry) Keys() []marketdata.Key {
	r.mu.Lock()
	keys := make([]marketdata.Key, 0, len(r.collectors))
	for key := range r.collectors {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	slices.SortFunc(keys, func(a, b marketdata.Key) int {
		if c := strings.Compare(string(a.Instrument), string(b.Instrument)); c != 0 {
			return c
		}
		return cmp.Compare(a.Granularity.Duration, b.Granularity.Duration)
	})
	return keys
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.collectors)
}
