package paymongo

import (
	"net/http"

	"github.com/ariefcatur/go-paymongo-checkout/internal/config"
	"go.uber.org/zap"
)

// Clients hands out a Client keyed by the secret of a gateway mode.
type Clients struct {
	BaseURL string
	HTTP    *http.Client

	gw  config.Gateway
	log *zap.Logger
}

func NewClients(gw config.Gateway, log *zap.Logger) *Clients {
	return &Clients{BaseURL: DefaultBaseURL, gw: gw, log: log}
}

// For returns a client for mode. Unknown modes use the test secret.
func (c *Clients) For(mode string) *Client {
	cl := NewClient(c.gw.SecretKey(mode), c.log)
	if c.BaseURL != "" {
		cl.BaseURL = c.BaseURL
	}
	if c.HTTP != nil {
		cl.HTTP = c.HTTP
	}
	return cl
}
