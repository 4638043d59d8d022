package outbound

import "errors"

// ErrIdentityNotFound is returned for unknown identity ids.
var ErrIdentityNotFound = errors.New("identity not found")

// Identity is credential metadata. Secret material is never carried here;
// AuthHeaders resolves it at access time.
type Identity struct {
	ID    string
	Type  string
	Scope []string
}

// IdentityStore resolves engagement credentials to wire-ready auth headers.
type IdentityStore interface {
	List() []Identity
	Get(id string) (Identity, error)
	// AuthHeaders materializes the auth headers for one identity,
	// resolving secrets from the environment.
	AuthHeaders(id string) (map[string]string, error)
}
