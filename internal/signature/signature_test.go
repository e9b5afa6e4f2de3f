package signature

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const secret = "whsk_test_secret"

var body = []byte(`{"data":{"id":"evt_1","attributes":{"type":"payment.paid","livemode":false}}}`)

func fixedVerifier(now time.Time) *Verifier {
	return &Verifier{MaxSkew: DefaultMaxSkew, Now: func() time.Time { return now }}
}

func TestVerify_WithinTolerance(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := fixedVerifier(now)

	for _, offset := range []int64{-300, -1, 0, 1, 299, 300} {
		ts := now.Unix() + offset
		assert.NoError(t, v.Verify(body, false, secret, Sign(body, secret, ts, false)), "offset %d", offset)
		assert.NoError(t, v.Verify(body, true, secret, Sign(body, secret, ts, true)), "offset %d", offset)
	}
}

func TestVerify_OutsideToleranceIsStale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := fixedVerifier(now)

	for _, offset := range []int64{-86400, -301, 301, 3600} {
		ts := now.Unix() + offset
		assert.ErrorIs(t, v.Verify(body, false, secret, Sign(body, secret, ts, false)), ErrStale, "offset %d", offset)
	}
}

func TestVerify_Failures(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := now.Unix()
	good := Compute(ts, body, secret)
	v := fixedVerifier(now)

	cases := []struct {
		name     string
		livemode bool
		secret   string
		header   string
		want     error
	}{
		{"no secret", false, "", Sign(body, secret, ts, false), ErrMissingSecret},
		{"no header", false, secret, "   ", ErrMissingHeader},
		{"no timestamp", false, secret, "te=" + good, ErrMalformedTimestamp},
		{"zero timestamp", false, secret, "t=0,te=" + good, ErrMalformedTimestamp},
		{"negative timestamp", false, secret, "t=-5,te=" + good, ErrMalformedTimestamp},
		{"garbage timestamp", false, secret, "t=abc,te=" + good, ErrMalformedTimestamp},
		{"live event, test signature only", true, secret, fmt.Sprintf("t=%d,te=%s", ts, good), ErrMissingModeSignature},
		{"test event, live signature only", false, secret, fmt.Sprintf("t=%d,li=%s", ts, good), ErrMissingModeSignature},
		{"wrong secret", false, "other", Sign(body, secret, ts, false), ErrMismatch},
		{"tampered", false, secret, fmt.Sprintf("t=%d,te=%s", ts, Compute(ts, []byte(`{}`), secret)), ErrMismatch},
		{"timestamp swapped", false, secret, fmt.Sprintf("t=%d,te=%s", ts+1, good), ErrMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, v.Verify(body, tc.livemode, tc.secret, tc.header), tc.want)
		})
	}
}

func TestVerify_HeaderWhitespaceAndOrder(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := now.Unix()
	sig := Compute(ts, body, secret)
	header := fmt.Sprintf(" li= , te = %s ,  t=%d, junk", sig, ts)

	assert.NoError(t, fixedVerifier(now).Verify(body, false, secret, header))
}
