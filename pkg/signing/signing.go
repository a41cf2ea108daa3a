// Package signing obtains and checks the signature block embedded in a
// container's digest envelope.
//
// A signature binds the manifest hash to the manifest creation time. It
// is produced by a signer (a remote signing service or a local key) and
// checked by a verifier (a remote verification service or a local
// certificate check).
package signing

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// DefaultTimeout bounds a single call to a remote signer or verifier.
const DefaultTimeout = 30 * time.Second

var (
	// ErrNotVerified is returned when a verifier positively rejects a
	// signature.
	ErrNotVerified = errors.New("signature not verified")

	// ErrNoSignature is returned when signed data carries nothing to check.
	ErrNoSignature = errors.New("signed data has no signature")
)

// Signer produces a signature block for a manifest hash and creation time.
type Signer interface {
	Sign(ctx context.Context, hash, created string) (json.RawMessage, error)
}

// Verifier checks a signature block. A nil error means verified.
type Verifier interface {
	Verify(ctx context.Context, signedData json.RawMessage) error
}

// request is the body sent to a remote signer.
type request struct {
	Hash    string `json:"hash"`
	Created string `json:"created"`
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}
