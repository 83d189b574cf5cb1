package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripeHeader(secret string, ts time.Time, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeVerifier_ValidSignature(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	now := time.Now()

	v := NewStripeVerifier("whsec_test")
	v.now = func() time.Time { return now }

	require.NoError(t, v.Verify(body, stripeHeader("whsec_test", now, body)))
}

func TestStripeVerifier_WrongSecret(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	now := time.Now()

	v := NewStripeVerifier("whsec_test")
	v.now = func() time.Time { return now }

	err := v.Verify(body, stripeHeader("whsec_other", now, body))
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestStripeVerifier_TamperedBody(t *testing.T) {
	body := []byte(`{"id":"evt_1","amount":1000}`)
	now := time.Now()
	header := stripeHeader("whsec_test", now, body)

	v := NewStripeVerifier("whsec_test")
	v.now = func() time.Time { return now }

	err := v.Verify([]byte(`{"id":"evt_1","amount":9000}`), header)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestStripeVerifier_ExpiredTimestamp(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	signedAt := time.Now().Add(-10 * time.Minute)
	header := stripeHeader("whsec_test", signedAt, body)

	v := NewStripeVerifier("whsec_test")

	err := v.Verify(body, header)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestStripeVerifier_FutureTimestamp(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	signedAt := time.Now().Add(10 * time.Minute)
	header := stripeHeader("whsec_test", signedAt, body)

	v := NewStripeVerifier("whsec_test")

	err := v.Verify(body, header)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestStripeVerifier_MalformedHeader(t *testing.T) {
	v := NewStripeVerifier("whsec_test")

	cases := []string{
		"",
		"t=123",
		"v1=deadbeef",
		"t=notanumber,v1=deadbeef",
		"garbage",
	}
	for _, header := range cases {
		assert.ErrorIs(t, v.Verify([]byte(`{}`), header), ErrBadSignature, "header %q", header)
	}
}

func TestStripeVerifier_MultipleSignatures(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	now := time.Now()
	// A rotated-secret header carries a stale v1 alongside the valid one.
	stale := hex.EncodeToString(make([]byte, 32))
	header := fmt.Sprintf("t=%d,v1=%s,%s", now.Unix(), stale, stripeHeader("whsec_test", now, body))

	v := NewStripeVerifier("whsec_test")
	v.now = func() time.Time { return now }

	require.NoError(t, v.Verify(body, header))
}

func TestZohoVerifier_Base64Signature(t *testing.T) {
	body := []byte(`{"event_id":"zev_1","event_type":"salesorder.created"}`)

	mac := hmac.New(sha256.New, []byte("zoho-secret"))
	mac.Write(body)
	header := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	v := NewZohoVerifier("zoho-secret")
	require.NoError(t, v.Verify(body, header))
}

func TestZohoVerifier_HexSignature(t *testing.T) {
	body := []byte(`{"event_id":"zev_1"}`)

	mac := hmac.New(sha256.New, []byte("zoho-secret"))
	mac.Write(body)
	header := hex.EncodeToString(mac.Sum(nil))

	v := NewZohoVerifier("zoho-secret")
	require.NoError(t, v.Verify(body, header))
}

func TestZohoVerifier_Invalid(t *testing.T) {
	v := NewZohoVerifier("zoho-secret")

	assert.ErrorIs(t, v.Verify([]byte(`{}`), ""), ErrBadSignature)
	assert.ErrorIs(t, v.Verify([]byte(`{}`), "bm90LXRoZS1zaWduYXR1cmU="), ErrBadSignature)
}
