package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// signatureTolerance bounds how old a signed timestamp may be before the
// event is rejected as a possible replay.
const signatureTolerance = 5 * time.Minute

// ErrBadSignature is returned for any verification failure. Callers map it
// to 401; the response never says which check failed.
var ErrBadSignature = fmt.Errorf("webhook signature verification failed")

// Verifier checks a raw webhook body against its signature header.
type Verifier interface {
	Verify(body []byte, header string) error
}

// StripeVerifier implements the payment provider's signing scheme: the
// header carries a timestamp and one or more v1 signatures, each an
// HMAC-SHA256 over "<timestamp>.<body>".
type StripeVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewStripeVerifier creates a verifier for the given endpoint secret.
func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: []byte(secret), now: time.Now}
}

func (v *StripeVerifier) Verify(body []byte, header string) error {
	var timestamp string
	var candidates []string

	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = val
		case "v1":
			candidates = append(candidates, val)
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return ErrBadSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	age := v.now().Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, candidate := range candidates {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}
	return ErrBadSignature
}

// ZohoVerifier checks the vendor's webhook signature: an HMAC-SHA256 over
// the raw body, sent base64-encoded (hex is accepted for older hooks).
type ZohoVerifier struct {
	secret []byte
}

// NewZohoVerifier creates a verifier for the given webhook secret.
func NewZohoVerifier(secret string) *ZohoVerifier {
	return &ZohoVerifier{secret: []byte(secret)}
}

func (v *ZohoVerifier) Verify(body []byte, header string) error {
	if header == "" {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	sum := mac.Sum(nil)

	if hmac.Equal([]byte(header), []byte(base64.StdEncoding.EncodeToString(sum))) {
		return nil
	}
	if hmac.Equal([]byte(strings.ToLower(header)), []byte(hex.EncodeToString(sum))) {
		return nil
	}
	return ErrBadSignature
}
