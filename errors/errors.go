// Package errors provides standardized error handling patterns for corazonn components.
// It includes error classification, standard error variables, detector error kinds,
// and helper functions for consistent error wrapping and classification.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Component lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrAlreadyStopped = errors.New("component already stopped")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Connection and networking errors
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrSubscriptionFailed = errors.New("subscription failed")

	// Data processing errors
	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Resource errors
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrQueueFull         = errors.New("queue full")

	// Circuit breaker errors
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// Detector error kinds. All of them are local to one bundle, sample or beat
// and never stop processing.
var (
	// ErrMalformedBundle marks a bundle with the wrong sample arity or non-numeric fields
	ErrMalformedBundle = errors.New("malformed sample bundle")
	// ErrOutOfRangeSample marks an ADC value outside [0, adc_max]
	ErrOutOfRangeSample = errors.New("sample out of range")
	// ErrUnknownChannel marks a channel id outside the configured range
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrNegativeTimestamp marks a bundle timestamp below zero
	ErrNegativeTimestamp = errors.New("negative bundle timestamp")
	// ErrOutOfOrderSample marks a sample not newer than the last accepted one
	ErrOutOfOrderSample = errors.New("out-of-order sample")
	// ErrGapDetected marks an inter-sample gap larger than the gap threshold
	ErrGapDetected = errors.New("sample gap detected")
	// ErrImplausibleIBI marks an inter-beat interval outside the plausible range
	ErrImplausibleIBI = errors.New("implausible inter-beat interval")
)

var detectorKinds = []struct {
	err  error
	kind string
}{
	{ErrMalformedBundle, "malformed_bundle"},
	{ErrOutOfRangeSample, "out_of_range_sample"},
	{ErrUnknownChannel, "unknown_channel"},
	{ErrNegativeTimestamp, "negative_timestamp"},
	{ErrOutOfOrderSample, "out_of_order_sample"},
	{ErrGapDetected, "gap_detected"},
	{ErrImplausibleIBI, "implausible_ibi"},
}

// ErrorKind returns a stable short label for err, suitable as a metric label.
// Errors that are not detector kinds map to their class name.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range detectorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, ErrQueueFull) {
		return "queue_full"
	}
	return Classify(err).String()
}

// IsDetectorError reports whether err is one of the per-sample detector kinds
func IsDetectorError(err error) bool {
	if err == nil {
		return false
	}
	for _, k := range detectorKinds {
		if errors.Is(err, k.err) {
			return true
		}
	}
	return false
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	// Detector kinds are never retried
	if IsDetectorError(err) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"network",
		"temporary",
		"unavailable",
		"busy",
		"retry",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	if errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrResourceExhausted) {
		return true
	}

	if IsDetectorError(err) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	fatalPatterns := []string{
		"fatal",
		"panic",
		"invalid config",
		"missing config",
		"out of memory",
	}

	for _, pattern := range fatalPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	if errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrParsingFailed) {
		return true
	}

	return IsDetectorError(err)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}
	if IsTransient(err) {
		return ErrorTransient
	}
	if IsFatal(err) {
		return ErrorFatal
	}

	// Unknown errors default to transient so callers may retry
	return ErrorTransient
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// Invalidf creates an invalid-class error that wraps kind with a formatted detail.
// errors.Is(result, kind) holds.
func Invalidf(kind error, component, method, format string, args ...any) error {
	detail := fmt.Sprintf(format, args...)
	wrapped := fmt.Errorf("%s.%s: %w: %s", component, method, kind, detail)
	return newClassified(ErrorInvalid, wrapped, component, method, wrapped.Error())
}
