package execution

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Signer produces the HMAC authentication fields sent on order gateway
// login. Order requests sent after login carry no signature.
type Signer struct {
	accessKey string
	secretKey string
}

// NewSigner creates a new Signer instance
func NewSigner(accessKey, secretKey string) *Signer {
	return &Signer{
		accessKey: accessKey,
		secretKey: secretKey,
	}
}

// Sign computes the request signature over timestamp + method + path + body.
func (s *Signer) Sign(timestampMs int64, method, path, body string) string {
	payload := fmt.Sprintf("%d%s%s%s", timestampMs, method, path, body)
	return computeHmacSha256(payload, s.secretKey)
}

// AccessKey returns the public key identifying the caller.
func (s *Signer) AccessKey() string { return s.accessKey }

// computeHmacSha256 generates a Base64-encoded HMAC-SHA256 signature
func computeHmacSha256(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
