package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryWithContextSucceedsAfterFailures(t *testing.T) {
	attempts := 0
	result, err := RetryWithContext(context.Background(), 3, func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if result != "ok" || attempts != 3 {
		t.Fatalf("result=%q attempts=%d, want ok/3", result, attempts)
	}
}

func TestRetryWithContextReturnsLastError(t *testing.T) {
	lastErr := errors.New("third")
	attempts := 0
	_, err := RetryWithContext(context.Background(), 3, func(ctx context.Context) (int, error) {
		attempts++
		if attempts == 3 {
			return 0, lastErr
		}
		return 0, errors.New("earlier")
	})
	if !errors.Is(err, lastErr) {
		t.Fatalf("err = %v, want %v", err, lastErr)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryWithContextZeroTriesRunsOnce(t *testing.T) {
	attempts := 0
	_, err := RetryWithContext(context.Background(), 0, func(ctx context.Context) (int, error) {
		attempts++
		return 0, errors.New("nope")
	})
	if err == nil || attempts != 1 {
		t.Fatalf("err=%v attempts=%d, want error/1", err, attempts)
	}
}

func TestRetryWithContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0
	_, err := RetryWithContext(ctx, 5, func(ctx context.Context) (int, error) {
		attempts++
		return 0, errors.New("should not run")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if attempts != 0 {
		t.Fatalf("attempts = %d, want 0", attempts)
	}
}

func TestRetryWithContextStopsOnContextError(t *testing.T) {
	attempts := 0
	_, err := RetryWithContext(context.Background(), 5, func(ctx context.Context) (int, error) {
		attempts++
		return 0, context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry on context errors)", attempts)
	}
}

func TestRetryErrWithContext(t *testing.T) {
	attempts := 0
	err := RetryErrWithContext(context.Background(), 2, func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return errors.New("once")
		}
		return nil
	})
	if err != nil || attempts != 2 {
		t.Fatalf("err=%v attempts=%d, want nil/2", err, attempts)
	}
}

func TestRetryBackoffExhaustsAttempts(t *testing.T) {
	params := BackoffParams{MaxTries: 3, Base: time.Millisecond, Max: 2 * time.Millisecond}
	wantErr := errors.New("down")
	attempts := 0
	_, err := RetryBackoff(context.Background(), params, func(ctx context.Context) (int, error) {
		attempts++
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryBackoffCancelDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	params := BackoffParams{MaxTries: 3, Base: time.Hour}
	attempts := 0
	done := make(chan struct{})
	var err error
	go func() {
		_, err = RetryBackoff(ctx, params, func(ctx context.Context) (int, error) {
			attempts++
			return 0, errors.New("fail")
		})
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RetryBackoff did not return after cancel")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}
