package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestTickerRunInvokesTick(t *testing.T) {
	ticker := NewTicker(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())

	var ticks int64
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(60 * time.Millisecond)
		cancel()
	}()

	err := ticker.Run(ctx, func(context.Context, time.Time) error {
		atomic.AddInt64(&ticks, 1)
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Greater(t, atomic.LoadInt64(&ticks), int64(1))
}

func TestTickerTickErrorsAreNotFatal(t *testing.T) {
	ticker := NewTicker(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	var ticks int64
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()

	_ = ticker.Run(ctx, func(context.Context, time.Time) error {
		atomic.AddInt64(&ticks, 1)
		return errors.New("evaluation failed")
	})

	assert.Greater(t, atomic.LoadInt64(&ticks), int64(1), "ticking must continue past errors")
}

func TestTickerNextTickAligned(t *testing.T) {
	ticker := NewTicker(Options{Interval: 30 * time.Minute, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2026, 1, 2, 9, 17, 0, 0, time.UTC)
	next := ticker.nextTick(now)
	assert.Equal(t, time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC), next)
}

func TestTickerNextTickUnaligned(t *testing.T) {
	ticker := NewTicker(Options{Interval: 30 * time.Minute}, zerolog.Nop())

	now := time.Date(2026, 1, 2, 9, 17, 0, 0, time.UTC)
	assert.Equal(t, now.Add(30*time.Minute), ticker.nextTick(now))
}
