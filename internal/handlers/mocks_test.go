package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"espdata/internal/services"
	"espdata/internal/storage"
)

type mockReadings struct{ mock.Mock }

func (m *mockReadings) Insert(ctx context.Context, galon string, value float64) (*storage.GalonData, error) {
	args := m.Called(ctx, galon, value)
	rec, _ := args.Get(0).(*storage.GalonData)
	return rec, args.Error(1)
}

func (m *mockReadings) List(ctx context.Context, f services.ReadingFilter) ([]storage.GalonData, error) {
	args := m.Called(ctx, f)
	recs, _ := args.Get(0).([]storage.GalonData)
	return recs, args.Error(1)
}

func (m *mockReadings) Latest(ctx context.Context, galon string) (*storage.GalonData, error) {
	args := m.Called(ctx, galon)
	rec, _ := args.Get(0).(*storage.GalonData)
	return rec, args.Error(1)
}

func (m *mockReadings) LatestAll(ctx context.Context) ([]storage.GalonData, error) {
	args := m.Called(ctx)
	recs, _ := args.Get(0).([]storage.GalonData)
	return recs, args.Error(1)
}

func (m *mockReadings) Galons(ctx context.Context) ([]services.GalonSummary, error) {
	args := m.Called(ctx)
	out, _ := args.Get(0).([]services.GalonSummary)
	return out, args.Error(1)
}

func (m *mockReadings) Stats(ctx context.Context, galon string, from, to *time.Time) (*services.Stats, error) {
	args := m.Called(ctx, galon, from, to)
	st, _ := args.Get(0).(*services.Stats)
	return st, args.Error(1)
}

// recordingAuditor 收集审计记录。
type recordingAuditor struct {
	mu   sync.Mutex
	recs []storage.IngestLog
}

func (a *recordingAuditor) Write(_ context.Context, rec *storage.IngestLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, *rec)
}

func (a *recordingAuditor) Recent(_ context.Context, limit int) ([]storage.IngestLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := append([]storage.IngestLog(nil), a.recs...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a *recordingAuditor) events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, r := range a.recs {
		out = append(out, r.Event)
	}
	return out
}

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) Check(ctx context.Context) error { return f(ctx) }
