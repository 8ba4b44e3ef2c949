package sleeper

import (
	"context"
	"testing"
	"time"
)

func TestSleepElapses(t *testing.T) {
	start := time.Now()
	cancelled := Sleep(context.Background(), 20*time.Millisecond)
	if cancelled {
		t.Fatal("expected sleep to complete, not be cancelled")
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("sleep returned early: %v", elapsed)
	}
}

func TestSleepZeroDuration(t *testing.T) {
	if Sleep(context.Background(), 0) {
		t.Fatal("zero duration sleep should not report cancelled")
	}
}

func TestSleepCancelledByContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	cancelled := Sleep(ctx, time.Second)
	if !cancelled {
		t.Fatal("expected sleep to be cancelled")
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("sleep did not return promptly after cancellation: %v", elapsed)
	}
}

func TestSleepAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if !Sleep(ctx, time.Second) {
		t.Fatal("expected immediate cancellation for already-done context")
	}
}
