package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New("every now and then", func(context.Context) error { return nil }, testLogger)
	assert.ErrorContains(t, err, "invalid cron expression")
}

func TestNext(t *testing.T) {
	s, err := New("0 */6 * * *", func(context.Context) error { return nil }, testLogger)
	require.NoError(t, err)

	from := time.Date(2026, 3, 20, 7, 30, 0, 0, time.Local)
	assert.Equal(t, time.Date(2026, 3, 20, 12, 0, 0, 0, time.Local), s.Next(from))
}

func TestTrigger_SkipsWhileRunning(t *testing.T) {
	var runs atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	s, err := New("@yearly", func(context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}, testLogger)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.Trigger()
		close(done)
	}()
	<-started

	s.Trigger() // returns at once, the first run holds the guard
	assert.Equal(t, int32(1), runs.Load())

	close(release)
	<-done
}

func TestRun_RunOnStartAndStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan error, 1)

	s, err := New("@yearly", func(jobCtx context.Context) error {
		ran <- jobCtx.Err()
		return errors.New("logged, not fatal")
	}, testLogger)
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		s.Run(ctx, true)
		close(stopped)
	}()

	select {
	case err := <-ran:
		assert.NoError(t, err, "job sees the live run context")
	case <-time.After(5 * time.Second):
		t.Fatal("run on start did not fire")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRun_PanicRecovered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	s, err := New("@yearly", func(context.Context) error {
		calls.Add(1)
		panic("boom")
	}, testLogger)
	require.NoError(t, err)

	s.Trigger()
	s.Trigger()
	assert.Equal(t, int32(2), calls.Load(), "a panicking run releases the overlap guard")

	cancel()
	s.Run(ctx, false)
}
