// Package errkind classifies bridge validator errors into the six kinds
// spec.md §7 requires the status HTTP surface and logs to report, without
// string-parsing error messages.
package errkind

import "errors"

type Kind string

const (
	// TransientNetwork covers RPC timeouts, connection resets and
	// rate-limit responses. Always retried with backoff inside the
	// component that hit it; never fatal.
	TransientNetwork Kind = "transient_network"
	// MalformedInbound covers peer attestations that fail verification
	// or events missing required fields. Logged and discarded.
	MalformedInbound Kind = "malformed_inbound"
	// ResolverMiss means no destination token mapping was registered.
	ResolverMiss Kind = "resolver_miss"
	// SignatureRejected means the destination verifier reverted a
	// relay submission.
	SignatureRejected Kind = "signature_rejected"
	// ConfigInvalid means local configuration failed validation.
	ConfigInvalid Kind = "config_invalid"
	// PersistenceIO is fatal: the process exits so an orchestrator can
	// restart it against a possibly-repaired store.
	PersistenceIO Kind = "persistence_io"
)

// Error wraps an underlying error with a Kind so callers can classify it
// with errors.As without parsing messages.
type Error struct {
	Kind Kind
	Err  error
}

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind, true
	}
	return "", false
}

// IsFatal reports whether err should terminate the process (spec.md §7:
// persistence I/O failure is the only fatal kind; everything else is
// handled internally).
func IsFatal(err error) bool {
	k, ok := KindOf(err)
	return ok && k == PersistenceIO
}
