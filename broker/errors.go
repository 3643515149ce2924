package broker

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNetwork wraps transport failures: dial, timeout, non-JSON bodies.
	ErrNetwork = errors.New("network failure")

	// ErrMissingIdentity means an identity-scoped call was made without a
	// resolvable user address or auth token. No request is sent.
	ErrMissingIdentity = errors.New("missing identity")

	ErrSigningRejected    = errors.New("signing rejected by user")
	ErrSigningUnavailable = errors.New("signing agent unavailable")

	// ErrAuthExpired is the venue's status -11.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrMalformedPush is returned for push events that cannot be decoded
	// into a typed event. Such events are dropped, never merged.
	ErrMalformedPush = errors.New("malformed push event")
)

const defaultDomainDesc = "Invalid response structure"

// DomainError is a well-formed response carrying a non-zero status, or an
// envelope without data.
type DomainError struct {
	Status int
	Desc   string
}

func NewDomainError(status int, desc string) *DomainError {
	if strings.TrimSpace(desc) == "" {
		desc = defaultDomainDesc
	}
	return &DomainError{Status: status, Desc: desc}
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("domain failure (status %d): %s", e.Status, e.Desc)
}

// AddressMismatchError is returned when a descriptor's from address is not
// the identity that would sign it.
type AddressMismatchError struct {
	Expected string
	Actual   string
}

func (e *AddressMismatchError) Error() string {
	return fmt.Sprintf("address mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// BuildError is a failed build call for a workflow kind.
type BuildError struct {
	Kind string
	Err  error
}

func (e *BuildError) Error() string { return fmt.Sprintf("build %s: %v", e.Kind, e.Err) }
func (e *BuildError) Unwrap() error { return e.Err }

// BroadcastError is a failed broadcast. Reason is the venue's desc, or the
// transport error text.
type BroadcastError struct {
	Reason string
	Err    error
}

func (e *BroadcastError) Error() string { return "broadcast failed: " + e.Reason }
func (e *BroadcastError) Unwrap() error { return e.Err }

// Reason returns the text shown to a user for err: the venue's desc for
// domain failures, the error string otherwise.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Desc
	}
	var be *BroadcastError
	if errors.As(err, &be) {
		return be.Reason
	}
	return err.Error()
}

// SameAddress compares hex addresses ignoring case.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
