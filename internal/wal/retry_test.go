// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package wal

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/cansentry/internal/detection"
)

var errBusDown = errors.New("bus down")

// fakeNotifier fails while failing is set.
type fakeNotifier struct {
	mu      sync.Mutex
	failing bool
	sent    []string
}

var _ detection.Notifier = (*fakeNotifier)(nil)

func (f *fakeNotifier) Name() string  { return "eventbus" }
func (f *fakeNotifier) Enabled() bool { return true }

func (f *fakeNotifier) Send(_ context.Context, a *detection.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errBusDown
	}
	f.sent = append(f.sent, a.ID)
	return nil
}

func (f *fakeNotifier) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *fakeNotifier) sentIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

var _ detection.Notifier = (*Outbox)(nil)

func expectSent(t *testing.T, next *fakeNotifier, want ...string) {
	t.Helper()
	if got := next.sentIDs(); !slices.Equal(got, want) {
		t.Errorf("sent = %v, want %v", got, want)
	}
}

func expectCounts(t *testing.T, w *BadgerWAL, pending, confirmed int64) {
	t.Helper()
	stats := w.Stats()
	if stats.PendingCount != pending || stats.ConfirmedCount != confirmed {
		t.Errorf("pending=%d confirmed=%d, want %d and %d",
			stats.PendingCount, stats.ConfirmedCount, pending, confirmed)
	}
}

func TestOutbox_DeliversAndConfirms(t *testing.T) {
	w := openTestWAL(t)
	next := &fakeNotifier{}
	outbox := NewOutbox(w, next)

	if outbox.Name() != "eventbus" {
		t.Errorf("Name() = %q, want the wrapped notifier's name", outbox.Name())
	}
	if !outbox.Enabled() {
		t.Error("outbox should be enabled")
	}
	if err := outbox.Send(context.Background(), testAlert("a-1")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	expectSent(t, next, "a-1")
	expectCounts(t, w, 0, 1)
}

func TestOutbox_QueuesFailedDelivery(t *testing.T) {
	w := openTestWAL(t)
	next := &fakeNotifier{failing: true}
	outbox := NewOutbox(w, next)

	if err := outbox.Send(context.Background(), testAlert("a-1")); err != nil {
		t.Fatalf("Send() error = %v, failed delivery should stay queued", err)
	}

	pending := mustPending(t, w)
	if len(pending) != 1 {
		t.Fatalf("got %d pending entries, want 1", len(pending))
	}
	if e := pending[0]; e.Attempts != 1 || e.LastError != errBusDown.Error() {
		t.Errorf("Attempts=%d LastError=%q, want 1 and %q", e.Attempts, e.LastError, errBusDown)
	}
}

func TestOutbox_ClosedWALFallsBackToDirectDelivery(t *testing.T) {
	w := openTestWAL(t)
	next := &fakeNotifier{}
	outbox := NewOutbox(w, next)
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if outbox.Enabled() {
		t.Error("outbox over a closed log should report disabled")
	}
	if err := outbox.Send(context.Background(), testAlert("a-1")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	expectSent(t, next, "a-1")
}

func TestRetryLoop_CalculateBackoff(t *testing.T) {
	r := &RetryLoop{config: Config{RetryBackoff: time.Second}}

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{20, maxBackoff},
		{100, maxBackoff},
	}
	for _, tt := range tests {
		if got := r.calculateBackoff(tt.attempts); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestRetryLoop_ProcessEntry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.MaxRetries = 3
	cfg.RetryBackoff = time.Second
	cfg.EntryTTL = time.Hour
	cfg.SendTimeout = time.Second

	tests := []struct {
		name    string
		entry   Entry
		failing bool
		want    retryResult
	}{
		{
			name:  "fresh entry may still be in flight",
			entry: Entry{CreatedAt: now.Add(-100 * time.Millisecond)},
			want:  retryResultSkipped,
		},
		{
			name:  "first retry",
			entry: Entry{CreatedAt: now.Add(-time.Minute)},
			want:  retryResultSuccess,
		},
		{
			name:  "inside backoff",
			entry: Entry{CreatedAt: now.Add(-time.Minute), Attempts: 2, LastAttemptAt: now.Add(-time.Second)},
			want:  retryResultSkipped,
		},
		{
			name:    "delivery fails again",
			entry:   Entry{CreatedAt: now.Add(-time.Minute), Attempts: 1, LastAttemptAt: now.Add(-10 * time.Second)},
			failing: true,
			want:    retryResultFailed,
		},
		{
			name:  "expired",
			entry: Entry{CreatedAt: now.Add(-2 * time.Hour)},
			want:  retryResultExpired,
		},
		{
			name:  "out of attempts",
			entry: Entry{CreatedAt: now.Add(-time.Minute), Attempts: 3},
			want:  retryResultMaxRetried,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := Open(cfg)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer w.Close()

			ctx := context.Background()
			id := mustWrite(t, w, "a-1")

			next := &fakeNotifier{failing: tt.failing}
			r := NewRetryLoop(w, next)
			r.now = func() time.Time { return now }

			entry := tt.entry
			entry.ID = id
			entry.Alert = testAlert(id)
			if got := r.processEntry(ctx, &entry); got != tt.want {
				t.Fatalf("processEntry() = %v, want %v", got, tt.want)
			}

			switch tt.want {
			case retryResultSuccess:
				expectSent(t, next, id)
				expectCounts(t, w, 0, 1)
			case retryResultExpired, retryResultMaxRetried:
				expectSent(t, next)
				expectCounts(t, w, 0, 0)
			case retryResultFailed:
				if stats := w.Stats(); stats.PendingCount != 1 || stats.TotalRetries != 1 {
					t.Errorf("pending=%d retries=%d, want 1 and 1", stats.PendingCount, stats.TotalRetries)
				}
			case retryResultSkipped:
				expectSent(t, next)
				expectCounts(t, w, 1, 0)
			}
		})
	}
}

func TestRetryLoop_RecoversQueuedAlerts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.RetryInterval = 20 * time.Millisecond
	cfg.RetryBackoff = time.Millisecond
	cfg.SendTimeout = time.Millisecond
	w, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer w.Close()

	next := &fakeNotifier{failing: true}
	outbox := NewOutbox(w, next)
	for _, id := range []string{"a-1", "a-2"} {
		if err := outbox.Send(context.Background(), testAlert(id)); err != nil {
			t.Fatalf("Send(%q) error = %v", id, err)
		}
	}
	if got := w.Stats().PendingCount; got != 2 {
		t.Fatalf("PendingCount = %d, want 2", got)
	}

	next.setFailing(false)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	loop := NewRetryLoop(w, next)
	if loop.String() != "wal-retry" {
		t.Errorf("String() = %q, want wal-retry", loop.String())
	}
	go func() { done <- loop.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for w.Stats().PendingCount != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("PendingCount = %d after 2s, want 0", w.Stats().PendingCount)
		}
		time.Sleep(10 * time.Millisecond)
	}
	sent := next.sentIDs()
	slices.Sort(sent)
	if want := []string{"a-1", "a-2"}; !slices.Equal(sent, want) {
		t.Errorf("sent = %v, want %v", sent, want)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}
}
