// Package signature verifies PayMongo webhook signatures.
//
// The header carries a timestamp and one signature per mode:
//
//	Paymongo-Signature: t=1700000000,te=<hex>,li=<hex>
//
// where each signature is HMAC-SHA256(secret, "{t}.{raw_body}").
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const DefaultMaxSkew = 300 * time.Second

var (
	ErrMissingSecret        = errors.New("webhook secret not configured for this mode")
	ErrMissingHeader        = errors.New("missing signature header")
	ErrMalformedTimestamp   = errors.New("invalid signature timestamp")
	ErrStale                = errors.New("stale signature timestamp")
	ErrMissingModeSignature = errors.New("missing signature for this mode (li/te)")
	ErrMismatch             = errors.New("signature mismatch")
)

type Verifier struct {
	MaxSkew time.Duration
	Now     func() time.Time
}

func NewVerifier() *Verifier {
	return &Verifier{MaxSkew: DefaultMaxSkew, Now: time.Now}
}

// Verify checks header against rawBody, which must be the exact request bytes.
func (v *Verifier) Verify(rawBody []byte, livemode bool, secret, header string) error {
	if secret == "" {
		return ErrMissingSecret
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingHeader
	}

	parts := parseHeader(header)
	ts, err := strconv.ParseInt(parts["t"], 10, 64)
	if err != nil || ts <= 0 {
		return ErrMalformedTimestamp
	}

	skew := v.MaxSkew
	if skew <= 0 {
		skew = DefaultMaxSkew
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	delta := now().Unix() - ts
	if delta < 0 {
		delta = -delta
	}
	if delta > int64(skew/time.Second) {
		return ErrStale
	}

	provided := parts["te"]
	if livemode {
		provided = parts["li"]
	}
	if provided == "" {
		return ErrMissingModeSignature
	}

	expected := Compute(ts, rawBody, secret)
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return ErrMismatch
	}
	return nil
}

// Compute returns the hex HMAC-SHA256 of "{t}.{body}".
func Compute(t int64, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(t, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign builds a header value for body at timestamp t, filling only the
// branch for the given mode.
func Sign(body []byte, secret string, t int64, livemode bool) string {
	sig := Compute(t, body, secret)
	if livemode {
		return fmt.Sprintf("t=%d,te=,li=%s", t, sig)
	}
	return fmt.Sprintf("t=%d,te=%s,li=", t, sig)
}

func parseHeader(h string) map[string]string {
	out := make(map[string]string, 3)
	for _, pair := range strings.Split(h, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}
