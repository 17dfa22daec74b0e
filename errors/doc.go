// Package errors provides standardized error handling patterns for vol2mqtt.
//
// # Overview
//
// The errors package implements a three-class error classification system: Transient
// (temporary, may be skipped), Invalid (bad input, skip and continue), and Fatal
// (unrecoverable, stop the process and let the supervisor restart it).
//
// vol2mqtt does not retry anything internally. The classification exists so the relay
// loop can decide between "log and read the next line" and "return and exit non-zero".
//
// # Error Classification
//
//   - Invalid: a metadata line carrying the RMS key with a malformed value (ErrParsingFailed)
//   - Fatal: the source process exited (ErrSourceExited), the broker is unreachable or the
//     connection was lost (ErrNotConnected, ErrConnectionLost), bad configuration
//   - Transient: timeouts and context cancellation
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Component", "Method", "action")
//	errors.WrapInvalid(err, "Component", "Method", "action")
//	errors.WrapFatal(err, "Component", "Method", "action")
//
// The generic Wrap() function adds context and leaves classification to the sentinel
// at the bottom of the chain:
//
//	errors.Wrap(err, "Component", "Method", "action")
//
// # Integration with errors.As/Is
//
//	var ce *errors.ClassifiedError
//	if errors.As(err, &ce) {
//	    logger.Error("failed", "component", ce.Component, "class", ce.Class)
//	}
//
//	if errors.Is(err, errors.ErrSourceExited) {
//	    // ffmpeg went away, nothing left to do
//	}
package errors
