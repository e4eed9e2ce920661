package extractor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TransientError is a failure worth retrying on the next attempt at the same
// page: timeouts, refused connections, 5xx, rate limiting, unparsable bodies.
type TransientError struct {
	Portal string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Portal, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError means the portal cannot be scanned this run: credentials
// rejected, listing gone, or markup the extractor no longer recognises.
type PermanentError struct {
	Portal string
	Err    error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent: %v", e.Portal, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// MalformedRecordError rejects a single record. Its siblings are unaffected.
type MalformedRecordError struct {
	Portal string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("%s: malformed record: %s", e.Portal, e.Reason)
}

// Transient wraps err as a TransientError.
func Transient(portal string, err error) error {
	return &TransientError{Portal: portal, Err: err}
}

// Permanent wraps err as a PermanentError.
func Permanent(portal string, err error) error {
	return &PermanentError{Portal: portal, Err: err}
}

// IsTransient reports whether err (or anything it wraps) is transient.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err (or anything it wraps) is permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsMalformed reports whether err rejects a single record.
func IsMalformed(err error) bool {
	var me *MalformedRecordError
	return errors.As(err, &me)
}

// ErrStructureChanged is wrapped by extractors whose expected markup is gone.
var ErrStructureChanged = errors.New("page structure not recognised")

// ErrAuthRejected is wrapped when the portal refuses the supplied credentials.
var ErrAuthRejected = errors.New("authentication rejected")

// ClassifyStatus maps a non-200 HTTP status to the error taxonomy.
// It returns nil for 200.
func ClassifyStatus(portal string, code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return Permanent(portal, fmt.Errorf("%w: http %d", ErrAuthRejected, code))
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return Transient(portal, fmt.Errorf("http %d", code))
	default:
		return Permanent(portal, fmt.Errorf("http %d", code))
	}
}

// ClassifyTransport maps an error from http.Client.Do. Every transport
// failure is transient; the caller's context being cancelled is passed
// through unchanged so the driver can tell it apart.
func ClassifyTransport(ctx context.Context, portal string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient(portal, fmt.Errorf("timeout: %w", err))
	}
	return Transient(portal, err)
}
