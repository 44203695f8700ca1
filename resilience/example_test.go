package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/cachekit/resilience"
)

func ExampleCircuitBreaker() {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     30 * time.Second,
	})

	ctx := context.Background()
	backendDown := errors.New("backend down")

	// Two failures trip the circuit.
	for i := 0; i < 2; i++ {
		_, _ = cb.Execute(ctx, "cache.get", func(ctx context.Context) (any, error) {
			return nil, backendDown
		}, nil)
	}
	fmt.Println("state:", cb.State())

	// While open, calls resolve through the fallback without touching
	// the backend.
	result, _ := cb.Execute(ctx, "cache.get", func(ctx context.Context) (any, error) {
		return nil, backendDown
	}, func() (any, error) {
		return "stale-but-usable", nil
	})
	fmt.Println("result:", result)
	// Output:
	// state: open
	// result: stale-but-usable
}

func ExampleRetry() {
	retry := resilience.NewRetry(resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
	})

	attempts := 0
	err := retry.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})

	fmt.Println("attempts:", attempts, "err:", err)
	// Output:
	// attempts: 2 err: <nil>
}
