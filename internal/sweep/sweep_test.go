package sweep

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSweeper struct {
	calls atomic.Int64
	n     int64
	err   error
}

func (f *fakeSweeper) SweepPlanned(context.Context) (int64, error) {
	f.calls.Add(1)
	return f.n, f.err
}

func TestNew_InvalidSchedule(t *testing.T) {
	if _, err := New(&fakeSweeper{}, "not a cron expr", zerolog.Nop()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if _, err := New(nil, "* * * * *", zerolog.Nop()); err == nil {
		t.Fatal("expected error for nil sweeper")
	}
}

func TestNext(t *testing.T) {
	d, err := New(&fakeSweeper{}, "*/5 * * * *", zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	from := time.Date(2026, 5, 4, 12, 3, 20, 0, time.UTC)
	want := time.Date(2026, 5, 4, 12, 5, 0, 0, time.UTC)
	if got := d.Next(from); !got.Equal(want) {
		t.Errorf("Next = %s, want %s", got, want)
	}

	d, err = New(&fakeSweeper{}, "@every 90s", zerolog.Nop())
	if err != nil {
		t.Fatalf("New descriptor: %v", err)
	}
	if got := d.Next(from); got.Sub(from) != 90*time.Second {
		t.Errorf("Next(@every 90s) - from = %s, want 90s", got.Sub(from))
	}
}

func TestRunOnce_LogsFlips(t *testing.T) {
	var buf bytes.Buffer
	d, err := New(&fakeSweeper{n: 3}, "* * * * *", zerolog.New(&buf))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n, err := d.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 3 {
		t.Errorf("n = %d, want 3", n)
	}
	if !strings.Contains(buf.String(), `"flipped":3`) {
		t.Errorf("log = %s, want flipped count", buf.String())
	}
}

func TestRunOnce_Error(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("boom")
	d, err := New(&fakeSweeper{err: boom}, "* * * * *", zerolog.New(&buf))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := d.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Errorf("log = %s, want error entry", buf.String())
	}
}

func TestRun_SweepsImmediatelyAndStops(t *testing.T) {
	s := &fakeSweeper{}
	// Daily at midnight: only the immediate run can fire during the test.
	d, err := New(s, "0 0 * * *", zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for s.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no immediate sweep")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
