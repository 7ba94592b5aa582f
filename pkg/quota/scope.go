package quota

import (
	"fmt"
	"strings"
)

// ScopeClass selects which parts of a request identify its counter.
type ScopeClass string

const (
	// ClassGlobal keys the counter on the endpoint alone, for service-wide
	// ceilings independent of any credential.
	ClassGlobal ScopeClass = "global"

	// ClassIP keys the counter on credential, client IP, and endpoint.
	ClassIP ScopeClass = "ip"

	// ClassUser keys the counter on credential, user, and endpoint.
	ClassUser ScopeClass = "user"
)

// AnonymousSubIdentity is the sentinel installed when a per-user or per-IP
// scope arrives without a sub-identity. A fixed sentinel, not an empty
// string: anonymous traffic gets its own counter and can never collide
// with a real user, and durable backends never have to group on NULL.
const AnonymousSubIdentity = "anonymous"

// keySeparator joins scope key fields. A unit separator cannot appear in
// credentials or request paths, so distinct tuples always produce distinct
// strings.
const keySeparator = "\x1f"

// ScopeKey identifies one rate-limit counter: the unit of isolation. Two
// checks with identical inputs always map to the identical key.
type ScopeKey struct {
	CredentialID string     `json:"credential_id"`
	SubIdentity  string     `json:"sub_identity"`
	Endpoint     string     `json:"endpoint"`
	Class        ScopeClass `json:"class"`
}

// NewScopeKey derives the counter key for a request. Derivation is pure and
// deterministic: global scopes drop the credential and sub-identity so that
// every caller shares the endpoint ceiling, while ip and user scopes fold
// an absent sub-identity into the anonymous sentinel.
//
// An empty endpoint, an unknown class, or an empty credential on a
// non-global class fails with ErrInvalidScope.
func NewScopeKey(credentialID, subIdentity, endpoint string, class ScopeClass) (ScopeKey, error) {
	if endpoint == "" {
		return ScopeKey{}, fmt.Errorf("%w: empty endpoint", ErrInvalidScope)
	}

	switch class {
	case ClassGlobal:
		return ScopeKey{Endpoint: endpoint, Class: ClassGlobal}, nil
	case ClassIP, ClassUser:
		if credentialID == "" {
			return ScopeKey{}, fmt.Errorf("%w: empty credential for %s scope", ErrInvalidScope, class)
		}
		if subIdentity == "" {
			subIdentity = AnonymousSubIdentity
		}
		return ScopeKey{
			CredentialID: credentialID,
			SubIdentity:  subIdentity,
			Endpoint:     endpoint,
			Class:        class,
		}, nil
	default:
		return ScopeKey{}, fmt.Errorf("%w: unknown scope class %q", ErrInvalidScope, class)
	}
}

// String renders the canonical lookup key used by map-backed stores.
func (k ScopeKey) String() string {
	return strings.Join([]string{string(k.Class), k.CredentialID, k.SubIdentity, k.Endpoint}, keySeparator)
}
