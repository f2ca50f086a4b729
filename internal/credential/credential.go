// Package credential owns the identity material injected into upstream
// requests and tracks whether that material is still accepted.
package credential

import "errors"

// Cookie names injected by default when the client does not send them.
const (
	ClearanceCookie = "cf_clearance"
	SessionCookie   = "_puid"
)

// ErrEmptyValue is returned by setters given an empty value.
var ErrEmptyValue = errors.New("credential value must not be empty")

// CredentialSet is a point-in-time copy of the controller's identity material.
type CredentialSet struct {
	Clearance   string
	UserAgent   string
	AccessToken string
	// Trust makes requests without an Authorization header borrow AccessToken.
	Trust bool
	// Session is the last-known session cookie value.
	Session string
}

// Validity is the tri-state result of the liveness tracking.
type Validity int32

const (
	ValidityUnknown Validity = iota
	ValidityValid
	ValidityInvalid
)

func (v Validity) String() string {
	switch v {
	case ValidityValid:
		return "valid"
	case ValidityInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// gauge maps v onto the exported metric value.
func (v Validity) gauge() float64 {
	switch v {
	case ValidityValid:
		return 1
	case ValidityInvalid:
		return 0
	default:
		return -1
	}
}
