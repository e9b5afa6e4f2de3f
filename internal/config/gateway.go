package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	ModeTest = "test"
	ModeLive = "live"
)

// Settings mirrors the stored gateway settings managed by the shop admin.
type Settings struct {
	Enabled                   bool     `yaml:"enabled"`
	Mode                      string   `yaml:"mode"`
	SecretKeyTest             string   `yaml:"secret_key_test"`
	SecretKeyLive             string   `yaml:"secret_key_live"`
	WebhookSecretTest         string   `yaml:"webhook_secret_test"`
	WebhookSecretLive         string   `yaml:"webhook_secret_live"`
	PaymentMethodTypes        []string `yaml:"payment_method_types" validate:"dive,required"`
	AutoCancelMinutes         int      `yaml:"auto_cancel_minutes" validate:"gte=0,lte=10080"`
	AllowLegacyUnsignedCancel bool     `yaml:"allow_legacy_unsigned_cancel"`
	PriceDecimals             *int     `yaml:"price_decimals" validate:"omitempty,gte=0,lte=4"`
	Debug                     bool     `yaml:"debug"`
}

var validate = validator.New()

// LoadSettings reads the settings file. A missing file yields zero settings.
func LoadSettings(path string) (Settings, error) {
	var s Settings
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if err := validate.Struct(s); err != nil {
		return s, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return s, nil
}

// Gateway is the effective gateway configuration after precedence rules.
type Gateway struct {
	Enabled                   bool
	Mode                      string
	secretKeys                map[string]string
	webhookSecrets            map[bool]string
	PaymentMethodTypes        []string
	AutoCancelDelay           time.Duration
	AllowLegacyUnsignedCancel bool
	PriceDecimals             int
	Debug                     bool
}

// Resolve merges environment overrides with stored settings. Overrides win
// when non-empty. Live mode always disables legacy unsigned cancel links.
func Resolve(o Overrides, s Settings) Gateway {
	mode := strings.ToLower(strings.TrimSpace(s.Mode))
	if mode != ModeLive {
		mode = ModeTest
	}

	g := Gateway{
		Enabled: s.Enabled,
		Mode:    mode,
		secretKeys: map[string]string{
			ModeTest: pick(o.SecretKeyTest, s.SecretKeyTest),
			ModeLive: pick(o.SecretKeyLive, s.SecretKeyLive),
		},
		webhookSecrets: map[bool]string{
			false: pick(o.WebhookSecretTest, s.WebhookSecretTest),
			true:  pick(o.WebhookSecretLive, s.WebhookSecretLive),
		},
		PaymentMethodTypes:        normalizeTypes(s.PaymentMethodTypes),
		AllowLegacyUnsignedCancel: s.AllowLegacyUnsignedCancel && mode != ModeLive,
		PriceDecimals:             2,
		Debug:                     s.Debug,
	}
	if s.AutoCancelMinutes > 0 {
		g.AutoCancelDelay = time.Duration(s.AutoCancelMinutes) * time.Minute
	}
	if s.PriceDecimals != nil && *s.PriceDecimals >= 0 {
		g.PriceDecimals = *s.PriceDecimals
	}
	return g
}

func (g Gateway) Live() bool { return g.Mode == ModeLive }

// SecretKey returns the API secret for a mode; unknown modes fall back to test.
func (g Gateway) SecretKey(mode string) string {
	if mode != ModeLive {
		mode = ModeTest
	}
	return g.secretKeys[mode]
}

func (g Gateway) WebhookSecret(livemode bool) string { return g.webhookSecrets[livemode] }

// HasWebhookSecret reports whether at least one mode can verify webhooks.
func (g Gateway) HasWebhookSecret() bool {
	return g.webhookSecrets[false] != "" || g.webhookSecrets[true] != ""
}

func pick(override, stored string) string {
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	return strings.TrimSpace(stored)
}

func normalizeTypes(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return []string{"qrph"}
	}
	return out
}
