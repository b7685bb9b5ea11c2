package ubereats

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"eats-partner-core/internal/domain"
)

// SignatureHeader and TimestampHeader are the webhook headers carrying the
// HMAC digest and the signing timestamp.
const (
	SignatureHeader = "X-Uber-Signature"
	TimestampHeader = "X-Uber-Timestamp"
)

// Verifier checks webhook signatures. The signed string is
// "{timestamp}.{raw body}", digested with HMAC-SHA256 under the shared
// client secret and hex-encoded. A "sha256=" prefix on the header value is
// accepted and stripped.
type Verifier struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

// NewVerifier creates a verifier with the given shared secret and maximum
// accepted clock skew between the signing timestamp and local time.
func NewVerifier(secret string, maxSkew time.Duration) *Verifier {
	return &Verifier{
		secret:  []byte(secret),
		maxSkew: maxSkew,
		now:     time.Now,
	}
}

// Verify validates the signature and timestamp for a raw request body.
// Every failure path returns an AuthError; the caller must not distinguish
// beyond that, so probing requests learn nothing about which check failed.
func (v *Verifier) Verify(body []byte, signature, timestamp string) error {
	if signature == "" {
		return &domain.AuthError{Reason: "missing signature header"}
	}
	if timestamp == "" {
		return &domain.AuthError{Reason: "missing timestamp header"}
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return &domain.AuthError{Reason: "malformed timestamp"}
	}
	signedAt := time.Unix(ts, 0)
	if d := v.now().Sub(signedAt); d > v.maxSkew || d < -v.maxSkew {
		return &domain.AuthError{Reason: "timestamp outside accepted window"}
	}

	provided := strings.TrimPrefix(signature, "sha256=")
	expected := v.compute(body, timestamp)
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return &domain.AuthError{Reason: "signature mismatch"}
	}
	return nil
}

// Sign produces the hex digest for a body and timestamp. Used by tests and
// by outbound webhook replays.
func (v *Verifier) Sign(body []byte, timestamp string) string {
	return v.compute(body, timestamp)
}

func (v *Verifier) compute(body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
