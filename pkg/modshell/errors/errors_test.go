package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{CategoryTransient, "transient"},
		{CategoryPermanent, "permanent"},
		{Category(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.category.String())
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryPermanent},
		{"fetch without response", &FetchError{Source: "shop"}, CategoryTransient},
		{"fetch 503", &FetchError{Source: "shop", StatusCode: 503}, CategoryTransient},
		{"fetch 429", &FetchError{Source: "shop", StatusCode: 429}, CategoryTransient},
		{"fetch 404", &FetchError{Source: "shop", StatusCode: 404}, CategoryPermanent},
		{"timeout", &TimeoutError{Operation: "load", Duration: "5s"}, CategoryTransient},
		{"deadline", fmt.Errorf("load: %w", context.DeadlineExceeded), CategoryTransient},
		{"canceled", context.Canceled, CategoryPermanent},
		{"explicit transient", Transient(errors.New("x"), "load"), CategoryTransient},
		{"explicit permanent wraps fetch 503", Permanent(&FetchError{StatusCode: 503}, "load"), CategoryPermanent},
		{"unknown", errors.New("boom"), CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Categorize(tt.err))
			assert.Equal(t, tt.expected == CategoryTransient, IsRetryable(tt.err))
		})
	}
}

func TestCategorizedErrorUnwrap(t *testing.T) {
	base := errors.New("bundle missing")
	err := Permanent(base, "load remote shop")

	assert.True(t, errors.Is(err, base))
	assert.Contains(t, err.Error(), "load remote shop")
	assert.Contains(t, err.Error(), "permanent")
}

func fastRetry(attempts int) RetryConfig {
	return NewRetryConfig(
		WithMaxAttempts(attempts),
		WithInitialBackoff(time.Millisecond),
		WithMaxBackoff(2*time.Millisecond),
		WithJitter(0),
	)
}

func TestWithRetryContext_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, _ error, _ time.Duration) {
		retried = append(retried, attempt)
	}

	result := WithRetryContext(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &FetchError{Source: "shop", StatusCode: 503}
		}
		return "ok", nil
	})

	require.NoError(t, result.Err)
	assert.Equal(t, "ok", result.Value)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestWithRetryContext_StopsOnPermanent(t *testing.T) {
	calls := 0
	result := WithRetryContext(context.Background(), fastRetry(5), func(context.Context) (int, error) {
		calls++
		return 0, &FetchError{Source: "shop", StatusCode: 404}
	})

	require.Error(t, result.Err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, result.Attempts)

	var fetchErr *FetchError
	assert.True(t, errors.As(result.Err, &fetchErr))
}

func TestWithRetryContext_Exhausted(t *testing.T) {
	calls := 0
	result := WithRetryContext(context.Background(), fastRetry(3), func(context.Context) (int, error) {
		calls++
		return 0, &TimeoutError{Operation: "fetch", Duration: "1s"}
	})

	require.Error(t, result.Err)
	assert.Equal(t, 3, calls)

	var catErr *CategorizedError
	require.True(t, errors.As(result.Err, &catErr))
	assert.Equal(t, "max retries exceeded", catErr.Context)
	assert.Equal(t, CategoryTransient, catErr.Category)
}

func TestWithRetryContext_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	result := WithRetryContext(ctx, fastRetry(3), func(context.Context) (int, error) {
		calls++
		return 1, nil
	})

	require.Error(t, result.Err)
	assert.Equal(t, 0, calls)
	assert.True(t, errors.Is(result.Err, context.Canceled))
}

func TestWithRetryContext_NoRetry(t *testing.T) {
	calls := 0
	result := WithRetryContext(context.Background(), NoRetry, func(context.Context) (int, error) {
		calls++
		return 0, Transient(errors.New("flaky"), "fetch")
	})

	require.Error(t, result.Err)
	assert.Equal(t, 1, calls)
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, calculateBackoff(100*time.Millisecond, 0))

	for i := 0; i < 20; i++ {
		d := calculateBackoff(100*time.Millisecond, 0.5)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
