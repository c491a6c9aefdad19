package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

var ErrMissingSecret = errors.New("payment: signing secret not configured")

// Signer builds the provider authentication header. Pure computation: the
// provider recomputes the same HMAC-SHA256 over path, nonce and the exact
// request bytes, so the canonical body serialization must not change between
// signing and sending.
type Signer struct {
	APIKey string
	Secret string
}

// Sign returns the Authorization header value for one request. The canonical
// string is path, nonce and body joined by newlines.
func (s Signer) Sign(path string, body []byte, nonce string) (string, error) {
	if s.Secret == "" {
		return "", ErrMissingSecret
	}
	mac := hmac.New(sha256.New, []byte(s.Secret))
	mac.Write([]byte(path))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(nonce))
	mac.Write([]byte{'\n'})
	mac.Write(body)
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return "HMAC " + s.APIKey + ":" + sig, nil
}

// NewNonce returns a unique per-request nonce. Uniqueness is what the
// provider needs for replay rejection; it does not have to be secret.
func NewNonce() string { return uuid.NewString() }
