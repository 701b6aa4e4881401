// Package errors provides standardized error handling patterns for corazonn components.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input, non-retryable) and Fatal (unrecoverable, stop processing).
// Transport and lifecycle code uses the classes to decide between retrying,
// dropping and stopping.
//
// The beat detector adds a set of error kinds that describe rejected
// bundles, dropped samples and discarded beats:
//
//   - ErrMalformedBundle, ErrOutOfRangeSample, ErrUnknownChannel, ErrNegativeTimestamp
//   - ErrOutOfOrderSample, ErrGapDetected
//   - ErrImplausibleIBI
//
// These are always classified as Invalid. They are counted and logged by the
// processing path and never escape it as failures.
//
// # Wrapping
//
// Wrap errors with component context:
//
//	if err := conn.Close(); err != nil {
//	    return errors.Wrap(err, "udp-input", "Stop", "close socket")
//	}
//
// Classify at the call site:
//
//	return errors.WrapTransient(err, "Client", "Connect", "establish connection")
//
// Detector kinds carry a detail message while staying matchable with errors.Is:
//
//	err := errors.Invalidf(errors.ErrOutOfRangeSample, "Validator", "Validate", "sample %d = %d", i, v)
//	errors.Is(err, errors.ErrOutOfRangeSample) // true
//
// ErrorKind maps any error to a short stable label used for metric labels:
//
//	metrics.RecordRejected(errors.ErrorKind(err))
package errors
