package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeStore struct {
	calls     atomic.Int32
	deleted   int64
	err       error
	retention time.Duration
}

func (f *fakeStore) DeleteStale(_ context.Context, retention time.Duration) (int64, error) {
	f.calls.Add(1)
	f.retention = retention
	return f.deleted, f.err
}

func TestSweep(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	store := &fakeStore{deleted: 3}

	deleted, err := sweep(context.Background(), store, 720*time.Hour, zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.Equal(t, 720*time.Hour, store.retention)

	entries := logs.FilterMessage("cache sweep completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].ContextMap()["deleted"])
}

func TestSweep_Error(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}

	_, err := sweep(context.Background(), store, time.Hour, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRunLoop(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := &fakeStore{err: errors.New("timeout")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runLoop(ctx, store, time.Hour, 5*time.Millisecond, zap.New(core))
		close(done)
	}()

	require.Eventually(t, func() bool { return store.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runLoop did not stop after cancel")
	}
	assert.GreaterOrEqual(t, logs.FilterMessage("sweep failed").Len(), 2)
}
