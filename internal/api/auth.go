package api

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"

	"github.com/polaris-sync/polaris/internal/object"
)

// Principal is the authenticated caller of a request: the device submitting
// updates and the user it belongs to. Real identity (OAuth, device certs)
// lives outside this engine; the pipeline only consumes the result.
type Principal struct {
	User   string
	Device object.DID
}

// Authenticator verifies a bearer token into a Principal.
type Authenticator interface {
	Verify(token string) (Principal, error)
}

// AccessChecker answers whether a principal may touch a store.
type AccessChecker interface {
	CanAccess(p Principal, root object.SID) bool
}

var ErrBadToken = errors.New("unknown or malformed token")

// TokenDigest is the stored form of a device token: blake2b-256, hex.
func TokenDigest(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// StaticAuthenticator maps token digests to principals, loaded from config.
// Tokens are never stored in the clear.
type StaticAuthenticator struct {
	byDigest map[string]Principal
}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{byDigest: make(map[string]Principal)}
}

// Register adds a principal keyed by the digest of token.
func (a *StaticAuthenticator) Register(token string, p Principal) {
	a.byDigest[TokenDigest(token)] = p
}

// RegisterDigest adds a principal keyed by a precomputed digest.
func (a *StaticAuthenticator) RegisterDigest(digest string, p Principal) {
	a.byDigest[digest] = p
}

func (a *StaticAuthenticator) Verify(token string) (Principal, error) {
	digest := TokenDigest(token)
	for d, p := range a.byDigest {
		if subtle.ConstantTimeCompare([]byte(d), []byte(digest)) == 1 {
			return p, nil
		}
	}
	return Principal{}, ErrBadToken
}

// OpenAccess grants every authenticated principal every store. Used in tests
// and single-user deployments; multi-user ACLs are an external concern.
type OpenAccess struct{}

func (OpenAccess) CanAccess(Principal, object.SID) bool { return true }

// StoreACL is a static allow-list of user -> stores.
type StoreACL struct {
	Grants map[string][]object.SID
}

func (a *StoreACL) CanAccess(p Principal, root object.SID) bool {
	for _, sid := range a.Grants[p.User] {
		if sid == root {
			return true
		}
	}
	return false
}
