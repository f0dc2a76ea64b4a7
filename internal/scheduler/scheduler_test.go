package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/imedwei/file-backup/internal/backup"
	"github.com/imedwei/file-backup/internal/catalog"
)

type mockStore struct {
	mu      sync.Mutex
	configs []catalog.BackupConfig
	runs    []catalog.Run
	listErr error
}

func (m *mockStore) List(ctx context.Context) ([]catalog.BackupConfig, error) {
	return m.configs, m.listErr
}

func (m *mockStore) RecordRun(ctx context.Context, run catalog.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *mockStore) LastRun(ctx context.Context, name, status string) (catalog.Run, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].Name == name && m.runs[i].Status == status {
			return m.runs[i], true, nil
		}
	}
	return catalog.Run{}, false, nil
}

func (m *mockStore) recorded() []catalog.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]catalog.Run(nil), m.runs...)
}

type mockRunner struct {
	mu         sync.Mutex
	calls      map[string]int
	lastBackup time.Time
	result     *backup.Result
	err        error
	block      chan struct{} // when set, Backup waits for it or ctx
}

func (m *mockRunner) Backup(ctx context.Context, cfg catalog.BackupConfig) (*backup.Result, error) {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[cfg.Name]++
	m.mu.Unlock()

	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &backup.Result{Name: cfg.Name, UUID: "uuid-" + cfg.Name}, nil
}

func (m *mockRunner) LastBackup(ctx context.Context, cfg catalog.BackupConfig) (time.Time, error) {
	return m.lastBackup, nil
}

func (m *mockRunner) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

var testNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestHost(store Store, runner Runner) *Host {
	h := NewHost(store, runner, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return testNow }
	return h
}

func stop(t *testing.T, h *Host) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestHost_Tick(t *testing.T) {
	tests := []struct {
		name       string
		interval   time.Duration
		lastBackup time.Time
		priorRun   *catalog.Run
		wantCalls  int
	}{
		{
			name:      "never backed up",
			interval:  time.Hour,
			wantCalls: 1,
		},
		{
			name:      "manual only",
			interval:  0,
			wantCalls: 0,
		},
		{
			name:       "chain is recent",
			interval:   time.Hour,
			lastBackup: testNow.Add(-10 * time.Minute),
			wantCalls:  0,
		},
		{
			name:       "chain is old",
			interval:   time.Hour,
			lastBackup: testNow.Add(-2 * time.Hour),
			wantCalls:  1,
		},
		{
			name:      "recent skipped run",
			interval:  time.Hour,
			priorRun:  &catalog.Run{Name: "docs", Status: catalog.StatusSkipped, FinishedAt: testNow.Add(-time.Minute)},
			wantCalls: 0,
		},
		{
			name:      "recent failed run",
			interval:  time.Hour,
			priorRun:  &catalog.Run{Name: "docs", Status: catalog.StatusFailed, FinishedAt: testNow.Add(-time.Minute)},
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{configs: []catalog.BackupConfig{{Name: "docs", Mode: catalog.ModeIncrement, Interval: tt.interval}}}
			if tt.priorRun != nil {
				store.runs = append(store.runs, *tt.priorRun)
			}
			runner := &mockRunner{lastBackup: tt.lastBackup}
			h := newTestHost(store, runner)

			h.Tick()
			stop(t, h)

			if got := runner.count("docs"); got != tt.wantCalls {
				t.Errorf("Backup called %d times, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestHost_RecordsOutcome(t *testing.T) {
	tests := []struct {
		name       string
		runner     *mockRunner
		wantStatus string
		wantUUID   string
	}{
		{name: "success", runner: &mockRunner{}, wantStatus: catalog.StatusSuccess, wantUUID: "uuid-docs"},
		{name: "skipped", runner: &mockRunner{result: &backup.Result{Name: "docs", Skipped: true}}, wantStatus: catalog.StatusSkipped},
		{name: "failed", runner: &mockRunner{err: errors.New("boom")}, wantStatus: catalog.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{configs: []catalog.BackupConfig{{Name: "docs", Interval: time.Hour}}}
			h := newTestHost(store, tt.runner)

			h.Tick()
			stop(t, h)

			runs := store.recorded()
			if len(runs) != 1 {
				t.Fatalf("recorded %d runs, want 1", len(runs))
			}
			if runs[0].Status != tt.wantStatus || runs[0].UUID != tt.wantUUID || !runs[0].FinishedAt.Equal(testNow) {
				t.Errorf("unexpected run %+v", runs[0])
			}
		})
	}
}

func TestHost_SkipsRunningConfig(t *testing.T) {
	store := &mockStore{configs: []catalog.BackupConfig{
		{Name: "a", Interval: time.Hour},
		{Name: "b", Interval: time.Hour},
	}}
	runner := &mockRunner{block: make(chan struct{})}
	h := newTestHost(store, runner)

	h.Tick()
	h.Tick()
	close(runner.block)
	stop(t, h)

	for _, name := range []string{"a", "b"} {
		if got := runner.count(name); got != 1 {
			t.Errorf("Backup(%s) called %d times, want 1", name, got)
		}
	}
}

func TestHost_StopCancelsRunningBackups(t *testing.T) {
	store := &mockStore{configs: []catalog.BackupConfig{{Name: "docs", Interval: time.Hour}}}
	runner := &mockRunner{block: make(chan struct{})}
	h := newTestHost(store, runner)

	h.Tick()
	stop(t, h)

	runs := store.recorded()
	if len(runs) != 1 || runs[0].Status != catalog.StatusFailed {
		t.Errorf("expected one failed run, got %+v", runs)
	}

	// Ticks after Stop do nothing.
	h.Tick()
	if got := runner.count("docs"); got != 1 {
		t.Errorf("Backup called %d times after stop, want 1", got)
	}
}

func TestHost_ListError(t *testing.T) {
	store := &mockStore{listErr: errors.New("database is locked")}
	runner := &mockRunner{}
	h := newTestHost(store, runner)

	h.Tick()
	stop(t, h)

	if len(store.recorded()) != 0 {
		t.Error("expected no runs")
	}
}

func TestHost_StartStop(t *testing.T) {
	store := &mockStore{configs: []catalog.BackupConfig{{Name: "docs", Interval: time.Hour}}}
	runner := &mockRunner{}
	h := newTestHost(store, runner)

	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for runner.count("docs") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	stop(t, h)

	if got := runner.count("docs"); got != 1 {
		t.Errorf("Backup called %d times, want 1", got)
	}
}
