package async

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFuture_FirstCompletionWins(t *testing.T) {
	p, f := NewPromise[int]()
	if f.Ready() {
		t.Fatalf("fresh future should not be ready")
	}
	p.Resolve(7)
	p.Reject(errors.New("late"))
	p.Resolve(9)

	v, err := f.Wait()
	if err != nil || v != 7 {
		t.Fatalf("Wait=(%d,%v) want (7,nil)", v, err)
	}
	if !f.Ready() {
		t.Fatalf("resolved future should be ready")
	}
}

func TestFuture_WaitContextDoesNotCancelProducer(t *testing.T) {
	p, f := NewPromise[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := f.WaitContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitContext err=%v want deadline", err)
	}
	p.Resolve("ok")
	v, err := f.Wait()
	if err != nil || v != "ok" {
		t.Fatalf("Wait=(%q,%v)", v, err)
	}
}

func TestFailed(t *testing.T) {
	boom := errors.New("boom")
	f := Failed[int](boom)
	if _, err := f.Wait(); !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	<-f.Done()
}
