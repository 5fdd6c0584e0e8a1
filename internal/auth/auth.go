// Package auth implements the one piece of authentication spec.md §1
// leaves in scope: "the interface that verifies a token and returns a
// capability set", not authentication policy itself (how tokens are
// issued, rotated, or bound to a user is out of scope).
//
// No JSON Web Token library appears anywhere in the retrieved example
// pack, so this package defines its own minimal compact token envelope —
// base64url(payload) + "." + base64url(HMAC-SHA256(derivedKey, payload))
// — rather than fabricating a JOSE dependency (see DESIGN.md). The
// verification key is derived from the configured key-set bytes (spec.md
// §6.4 "JWT key set file") via golang.org/x/crypto/hkdf, so the raw file
// contents are never used as key material directly.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/alxayo/go-moq/internal/moq/path"
	"github.com/alxayo/go-moq/internal/moqerrors"
)

// Capability is the result of verifying a token: the set of broadcast
// path prefixes a session may operate under, and which operations it may
// perform there (spec.md §4.5's origin.ConsumeOnly scoping).
type Capability struct {
	Prefixes     []path.Path
	CanPublish   bool
	CanSubscribe bool
	expiresAt    int64
}

// Allows reports whether p falls under any of this capability's prefixes.
// An empty prefix list matches every path (an unscoped, "root" token).
func (c Capability) Allows(p path.Path) bool {
	if len(c.Prefixes) == 0 {
		return true
	}
	for _, prefix := range c.Prefixes {
		if _, ok := p.StripPrefix(prefix); ok {
			return true
		}
	}
	return false
}

// claims is the JSON payload signed inside a token.
type claims struct {
	Prefixes     []string `json:"prefixes"`
	CanPublish   bool     `json:"pub"`
	CanSubscribe bool     `json:"sub"`
	ExpiresAt    int64    `json:"exp"` // unix seconds, 0 = no expiry
}

// Verifier checks tokens signed with a key derived from a shared secret
// (the key-set file named in spec.md §6.4).
type Verifier struct {
	key []byte
}

// NewVerifier derives a verification key from keySetBytes via HKDF-SHA256
// with a fixed info string, so the same key-set file can also seed other
// derived keys later without reuse across purposes.
func NewVerifier(keySetBytes []byte) (*Verifier, error) {
	const op = "auth.new_verifier"
	r := hkdf.New(sha256.New, keySetBytes, nil, []byte("go-moq token verify v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, moqerrors.New(op, moqerrors.KindUnauthorized, err)
	}
	return &Verifier{key: key}, nil
}

// Verify checks token's signature and expiry and returns the capability
// set it grants. Any failure — malformed envelope, bad signature,
// expired claims — is reported as moqerrors.KindUnauthorized; spec.md §7
// treats token verification failure as an ordinary per-session
// Unauthorized error, not a distinct kind.
func (v *Verifier) Verify(token string, now time.Time) (Capability, error) {
	const op = "auth.verify"
	payloadB64, sigB64, ok := strings.Cut(token, ".")
	if !ok {
		return Capability{}, moqerrors.New(op, moqerrors.KindUnauthorized, nil)
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return Capability{}, moqerrors.New(op, moqerrors.KindUnauthorized, err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return Capability{}, moqerrors.New(op, moqerrors.KindUnauthorized, err)
	}

	mac := hmac.New(sha256.New, v.key)
	mac.Write(payload)
	want := mac.Sum(nil)
	if !hmac.Equal(want, sig) {
		return Capability{}, moqerrors.New(op, moqerrors.KindUnauthorized, nil)
	}

	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return Capability{}, moqerrors.New(op, moqerrors.KindUnauthorized, err)
	}
	if c.ExpiresAt != 0 && now.Unix() >= c.ExpiresAt {
		return Capability{}, moqerrors.New(op, moqerrors.KindUnauthorized, nil)
	}

	prefixes := make([]path.Path, 0, len(c.Prefixes))
	for _, raw := range c.Prefixes {
		p, err := path.New(raw)
		if err != nil {
			return Capability{}, moqerrors.New(op, moqerrors.KindUnauthorized, err)
		}
		prefixes = append(prefixes, p)
	}

	return Capability{
		Prefixes:     prefixes,
		CanPublish:   c.CanPublish,
		CanSubscribe: c.CanSubscribe,
		expiresAt:    c.ExpiresAt,
	}, nil
}

// Issue builds and signs a token granting cap; only the tests call it
// (spec.md names no issuance interface, but a
// verifier with nothing that can ever produce a valid token is untestable
// in isolation).
func (v *Verifier) Issue(cap Capability) (string, error) {
	prefixes := make([]string, len(cap.Prefixes))
	for i, p := range cap.Prefixes {
		prefixes[i] = p.String()
	}
	payload, err := json.Marshal(claims{
		Prefixes:     prefixes,
		CanPublish:   cap.CanPublish,
		CanSubscribe: cap.CanSubscribe,
		ExpiresAt:    cap.expiresAt,
	})
	if err != nil {
		return "", moqerrors.New("auth.issue", moqerrors.KindUnauthorized, err)
	}
	mac := hmac.New(sha256.New, v.key)
	mac.Write(payload)
	sig := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// WithExpiry returns a copy of cap that expires at t.
func WithExpiry(cap Capability, t time.Time) Capability {
	cap.expiresAt = t.Unix()
	return cap
}
