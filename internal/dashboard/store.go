package dashboard

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mtlprog/dcastat/internal/domain"
)

// DefaultHistoryLimit caps the chart points kept per token.
const DefaultHistoryLimit = 720

// Store holds the last published snapshot and the chart history it was published with.
// Readers never block and never observe a partially published snapshot.
type Store struct {
	limit int

	mu      sync.Mutex
	history map[domain.TokenID][]domain.TimeSeriesPoint

	current atomic.Pointer[domain.Snapshot]
}

// NewStore creates a Store keeping at most limit points per token.
func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Store{
		limit:   limit,
		history: make(map[domain.TokenID][]domain.TimeSeriesPoint),
	}
}

// Publish appends one chart point per summarized token, attaches a copy of the history to
// the snapshot and makes it the latest.
func (s *Store) Publish(snap domain.Snapshot) domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	for mint, sum := range snap.Summary {
		points := append(s.history[mint], domain.PointFromSummary(sum, snap.GeneratedAt))
		if len(points) > s.limit {
			points = append([]domain.TimeSeriesPoint(nil), points[len(points)-s.limit:]...)
		}
		s.history[mint] = points
	}

	chart := make(map[domain.TokenID][]domain.TimeSeriesPoint, len(s.history))
	for mint, points := range s.history {
		chart[mint] = append([]domain.TimeSeriesPoint(nil), points...)
	}
	snap.ChartData = chart

	s.current.Store(&snap)
	return snap
}

// Latest returns the last published snapshot.
func (s *Store) Latest() (domain.Snapshot, bool) {
	p := s.current.Load()
	if p == nil {
		return domain.Snapshot{}, false
	}
	return *p, true
}

// Chart returns the published history of one token, oldest first.
func (s *Store) Chart(mint domain.TokenID) ([]domain.TimeSeriesPoint, bool) {
	snap, ok := s.Latest()
	if !ok {
		return nil, false
	}
	points, ok := snap.ChartData[mint]
	return points, ok
}

// Tokens returns the mints that have chart history, sorted.
func (s *Store) Tokens() []domain.TokenID {
	snap, ok := s.Latest()
	if !ok {
		return nil
	}
	mints := make([]domain.TokenID, 0, len(snap.ChartData))
	for m := range snap.ChartData {
		mints = append(mints, m)
	}
	sort.Slice(mints, func(i, j int) bool { return mints[i] < mints[j] })
	return mints
}
