package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "********", MaskSecret("sk_test_"))
	assert.Equal(t, "sk_t*****1234", MaskSecret("sk_test_01234"))
}

func TestRedact(t *testing.T) {
	in := `{"secret_key":"sk_live_abcdefgh1234","webhook_secret": "whsk_0000111122","amount":100}`
	out := Redact(in)

	assert.NotContains(t, out, "sk_live_abcdefgh1234")
	assert.NotContains(t, out, "whsk_0000111122")
	assert.Contains(t, out, `"amount":100`)
	assert.Contains(t, out, `"secret_key":"sk_l`)

	long := strings.Repeat("x", 5000)
	assert.Len(t, Redact(long), 1024)
}
