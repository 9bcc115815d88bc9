// Package errors provides examples of structured error handling in Hubble.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/hubble/pkg/errors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	// Create a new error with type
	err := errors.New(errors.ErrorTypeConfig, "endpoint_url must use https")

	// Add context details
	err = err.WithDetail("stream", "vacancies").
		WithDetail("endpoint_url", "http://api.example.com/find")

	// Print the error
	fmt.Println(err.Error())

	// Output:
	// config: endpoint_url must use https
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	// Simulate an underlying error
	originalErr := io.ErrUnexpectedEOF

	// Wrap the error with context
	err := errors.Wrap(originalErr, errors.ErrorTypeMalformed, "failed to decode page").
		WithDetail("stream", "candidates").
		WithDetail("page", 3)

	// Check the error type
	if errors.IsType(err, errors.ErrorTypeMalformed) {
		fmt.Println("This is a malformed response error")
	}

	// Output:
	// This is a malformed response error
}

// ExampleIsRetryable shows how to check if an error is retryable.
func ExampleIsRetryable() {
	// Create different types of errors
	rateErr := errors.New(errors.ErrorTypeRateLimit, "source returned 429")
	fatalErr := errors.New(errors.ErrorTypeAPI, "source returned 401")

	// Check if errors are retryable
	if errors.IsRetryable(rateErr) {
		fmt.Println("Rate limit error is retryable")
	}

	if !errors.IsRetryable(fatalErr) {
		fmt.Println("API error is not retryable")
	}

	// Output:
	// Rate limit error is retryable
	// API error is not retryable
}

// ExampleIsType demonstrates checking error types through wrapping.
func ExampleIsType() {
	connErr := errors.New(errors.ErrorTypeConnection, "connection reset")
	wrappedErr := errors.Wrap(connErr, errors.ErrorTypeTransient, "page request failed")

	fmt.Printf("Is connection error: %v\n", errors.IsType(connErr, errors.ErrorTypeConnection))
	fmt.Printf("Wrapped error is transient: %v\n", errors.IsType(wrappedErr, errors.ErrorTypeTransient))
	fmt.Printf("Wrapped error contains connection type: %v\n", errors.IsType(wrappedErr, errors.ErrorTypeConnection))

	// Output:
	// Is connection error: true
	// Wrapped error is transient: true
	// Wrapped error contains connection type: false
}

// Example_errorChain shows how error context accumulates across layers.
func Example_errorChain() {
	err := errors.New(errors.ErrorTypeTimeout, "request deadline exceeded").
		WithDetail("timeout", "60s")

	err = errors.Wrap(err, errors.ErrorTypeTransient, "page 7 failed").
		WithDetail("attempt", 5)

	fmt.Println("Full error chain:", err)

	// Output:
	// Full error chain: transient: page 7 failed: timeout: request deadline exceeded
}

// Example_customErrorHandling shows extracting details for diagnostics.
func Example_customErrorHandling() {
	var err error = errors.New(errors.ErrorTypeRateLimit, "source rate limit exceeded").
		WithDetail("status", 429).
		WithDetail("retry_after", 30)

	if hubbleErr, ok := err.(*errors.Error); ok {
		fmt.Printf("Error Type: %s\n", hubbleErr.Type)
		fmt.Printf("Message: %s\n", hubbleErr.Message)
		fmt.Printf("  status: %v\n", hubbleErr.Details["status"])
		fmt.Printf("  retry_after: %v\n", hubbleErr.Details["retry_after"])
	}

	// Output:
	// Error Type: rate_limit
	// Message: source rate limit exceeded
	//   status: 429
	//   retry_after: 30
}
