package checkout

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

const DefaultCancelLinkTTL = 30 * time.Minute

var ErrInvalidCancelLink = errors.New("invalid cancel link")

// CancelLinks signs and checks the URL PayMongo sends the shopper back to
// when they abandon the hosted checkout.
type CancelLinks struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewCancelLinks(secret string) *CancelLinks {
	return &CancelLinks{Secret: []byte(secret), TTL: DefaultCancelLinkTTL, Now: time.Now}
}

// Sign returns hex HMAC-SHA256 over "{id}|{key}|{ts}".
func (l *CancelLinks) Sign(orderID int64, key string, ts int64) string {
	mac := hmac.New(sha256.New, l.Secret)
	fmt.Fprintf(mac, "%d|%s|%d", orderID, key, ts)
	return hex.EncodeToString(mac.Sum(nil))
}

// URL builds a signed cancel-return link under base.
func (l *CancelLinks) URL(base string, orderID int64, key string) string {
	ts := l.now().Unix()
	q := url.Values{}
	q.Set("paymongo_cancel", "1")
	q.Set("order_id", strconv.FormatInt(orderID, 10))
	q.Set("key", key)
	q.Set("ts", strconv.FormatInt(ts, 10))
	q.Set("sig", l.Sign(orderID, key, ts))
	return base + "?" + q.Encode()
}

// Valid reports whether p carries a fresh signature. Links without ts/sig
// are accepted only when allowLegacy is set.
func (l *CancelLinks) Valid(p CancelParams, allowLegacy bool) bool {
	if p.TS == 0 || p.Sig == "" {
		return allowLegacy
	}
	ttl := l.TTL
	if ttl <= 0 {
		ttl = DefaultCancelLinkTTL
	}
	age := l.now().Unix() - p.TS
	if age < 0 {
		age = -age
	}
	if age > int64(ttl/time.Second) {
		return false
	}
	return hmac.Equal([]byte(l.Sign(p.OrderID, p.Key, p.TS)), []byte(p.Sig))
}

func (l *CancelLinks) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// CancelParams are the query parameters of a cancel-return link.
type CancelParams struct {
	OrderID int64  `validate:"gt=0"`
	Key     string `validate:"required,max=128"`
	TS      int64  `validate:"gte=0"`
	Sig     string `validate:"omitempty,hexadecimal,len=64"`
}

var validate = validator.New()

// ParseCancelParams reads and validates a cancel-return query string.
func ParseCancelParams(q url.Values) (CancelParams, error) {
	if q.Get("paymongo_cancel") == "" {
		return CancelParams{}, fmt.Errorf("%w: not a cancel return", ErrInvalidCancelLink)
	}
	p := CancelParams{Key: q.Get("key"), Sig: q.Get("sig")}
	p.OrderID, _ = strconv.ParseInt(q.Get("order_id"), 10, 64)
	if ts := q.Get("ts"); ts != "" {
		v, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return p, fmt.Errorf("%w: ts", ErrInvalidCancelLink)
		}
		p.TS = v
	}
	if err := validate.Struct(p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidCancelLink, err)
	}
	return p, nil
}
