package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/socialq/id"
	"github.com/xraph/socialq/job"
	"github.com/xraph/socialq/middleware"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	j := &job.Job{Name: "test", ID: id.NewJobID()}
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	err := chain(context.Background(), j, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	handler := func(_ context.Context) error {
		called = true
		return nil
	}

	err := chain(context.Background(), &job.Job{ID: id.NewJobID()}, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		return next(ctx)
	}
	chain := middleware.Chain(mw)
	want := errors.New("handler error")

	err := chain(context.Background(), &job.Job{ID: id.NewJobID()}, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	j := &job.Job{Name: "addPostToDB", Queue: "post", ID: id.NewJobID(), Attempts: 1}

	err := mw(context.Background(), j, func(_ context.Context) error {
		panic("nil map write")
	})
	if !errors.Is(err, middleware.ErrPanicked) {
		t.Fatalf("err = %v, want ErrPanicked", err)
	}
	if job.IsTerminal(err) {
		t.Fatal("a plain panic must stay retryable")
	}
	if got, want := err.Error(), "socialq/middleware: handler panicked: post/addPostToDB: nil map write"; got != want {
		t.Errorf("message = %q, want %q", got, want)
	}
}

func TestRecover_KeepsPanickedError(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	j := &job.Job{Name: "deletePostFromDB", Queue: "post", ID: id.NewJobID(), Attempts: 1}
	gone := errors.New("post missing")

	err := mw(context.Background(), j, func(_ context.Context) error {
		panic(job.Terminal(gone))
	})
	if !errors.Is(err, middleware.ErrPanicked) || !errors.Is(err, gone) {
		t.Fatalf("err = %v, want ErrPanicked wrapping the panic value", err)
	}
	if !job.IsTerminal(err) {
		t.Fatal("panicking with a terminal error should fail the job at once")
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	j := &job.Job{Name: "normal", ID: id.NewJobID()}

	called := false
	err := mw(context.Background(), j, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Success(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	j := &job.Job{Name: "log-test", ID: id.NewJobID(), Queue: "default"}

	called := false
	err := mw(context.Background(), j, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Error(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	j := &job.Job{Name: "log-test", ID: id.NewJobID(), Queue: "default"}
	want := errors.New("fail")

	err := mw(context.Background(), j, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestLogging_TerminalError(t *testing.T) {
	mw := middleware.Logging(slog.Default())
	j := &job.Job{Name: "deletePostFromDB", ID: id.NewJobID(), Queue: "post", Attempts: 1}
	want := job.Terminal(errors.New("post not found"))

	err := mw(context.Background(), j, func(_ context.Context) error {
		return want
	})
	if !job.IsTerminal(err) {
		t.Fatalf("expected terminal error to pass through, got %v", err)
	}
}

func TestRecover_PanicIsRetryable(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	j := &job.Job{Name: "panicky", ID: id.NewJobID()}

	err := mw(context.Background(), j, func(_ context.Context) error {
		panic("boom")
	})
	if job.IsTerminal(err) {
		t.Fatal("recovered panics must stay retryable")
	}
}

func TestTimeout_UsesJobTimeout(t *testing.T) {
	mw := middleware.Timeout(time.Hour)
	j := &job.Job{ID: id.NewJobID(), Timeout: 10 * time.Millisecond}

	err := mw(context.Background(), j, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestTimeout_FallsBackToDefault(t *testing.T) {
	mw := middleware.Timeout(10 * time.Millisecond)
	j := &job.Job{ID: id.NewJobID()}

	err := mw(context.Background(), j, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestTimeout_NoBound(t *testing.T) {
	mw := middleware.Timeout(0)
	j := &job.Job{ID: id.NewJobID()}

	err := mw(context.Background(), j, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("expected no deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
