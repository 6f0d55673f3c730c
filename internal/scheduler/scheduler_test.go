package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallabag_syncer/internal/domain"
)

type fakeSyncer struct {
	calls    atomic.Int32
	err      error
	deadline atomic.Bool
}

func (f *fakeSyncer) Sync(ctx context.Context, onEvent func(domain.Event)) (*domain.SyncStats, error) {
	f.calls.Add(1)
	if _, ok := ctx.Deadline(); ok {
		f.deadline.Store(true)
	}
	onEvent(domain.Event{State: domain.EventRunning, PageCompleted: 1, MaxPage: 1})
	onEvent(domain.Event{State: domain.EventFinished, PageCompleted: 1, MaxPage: 1})
	if f.err != nil {
		return nil, f.err
	}
	return &domain.SyncStats{Pages: 1}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRunOnce(t *testing.T) {
	syncer := &fakeSyncer{}
	s := NewScheduler(syncer, time.Hour, time.Minute, testLogger())

	stats, err := s.RunOnce(context.Background())

	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.Pages)
	assert.Equal(t, int32(1), syncer.calls.Load())
	assert.True(t, syncer.deadline.Load())
}

func TestRunOnce_InProgress(t *testing.T) {
	syncer := &fakeSyncer{err: domain.ErrSyncInProgress}
	s := NewScheduler(syncer, time.Hour, time.Minute, testLogger())

	stats, err := s.RunOnce(context.Background())
	assert.Nil(t, stats)
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)
}

func TestStart_StopsOnCancel(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("boom")}
	s := NewScheduler(syncer, 10*time.Millisecond, time.Minute, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool { return syncer.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
