package future

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResolveThenWait(t *testing.T) {
	f, resolve := New[int]()
	resolve(42, nil)

	v, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("v = %d, want 42", v)
	}
}

func TestWaitBlocksUntilResolve(t *testing.T) {
	f, resolve := New[string]()
	done := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		resolve("ready", nil)
		close(done)
	}()

	v, err := f.Wait(context.Background())
	<-done
	if err != nil || v != "ready" {
		t.Fatalf("v,err = %q,%v", v, err)
	}
}

func TestWaitRespectsContext(t *testing.T) {
	f, _ := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	f, resolve := New[int]()
	resolve(1, nil)
	resolve(2, errors.New("ignored"))

	v, err := f.Wait(context.Background())
	if err != nil || v != 1 {
		t.Fatalf("second resolve should be ignored, got v=%d err=%v", v, err)
	}
}

func TestPeek(t *testing.T) {
	f, resolve := New[int]()
	if _, _, ok := f.Peek(); ok {
		t.Fatal("expected Peek to report not-ready before resolve")
	}
	resolve(9, nil)
	v, err, ok := f.Peek()
	if !ok || err != nil || v != 9 {
		t.Fatalf("Peek after resolve = %d,%v,%v", v, err, ok)
	}
}
