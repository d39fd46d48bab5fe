package spanpipe

import "errors"

// ErrAlreadyEnded is returned by ActiveSpan.End when the span was already
// finished. The OnEnd chain is never dispatched twice for one span.
var ErrAlreadyEnded = errors.New("span already ended")

// ErrExporterClosed is returned when the batching exporter is asked to do
// work after Shutdown. Spans arriving after shutdown are dropped and counted.
var ErrExporterClosed = errors.New("exporter closed")

// fatalError marks a sink failure as permanent: the batch is malformed or
// rejected outright and retrying cannot succeed.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return "fatal export failure: " + e.err.Error() }

func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps a sink error as a permanent failure. The batching exporter
// drops the batch immediately instead of retrying.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err (or anything it wraps) is a permanent export
// failure. All other sink errors are treated as retryable.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}
