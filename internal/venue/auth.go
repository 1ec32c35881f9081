package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// Signer produces HMAC-SHA256 request signatures for trading calls, the
// auth tier most centralized-exchange REST APIs share. Market-data calls
// need no signature.
type Signer struct {
	apiKey string
	secret []byte
}

// NewSigner builds a Signer from an operator-configured API key/secret
// pair. The secret is accepted as a raw string; venues that hand out
// base64-encoded secrets should decode before constructing the Signer.
func NewSigner(apiKey, secret string) *Signer {
	return &Signer{apiKey: apiKey, secret: []byte(secret)}
}

// APIKey returns the configured key, echoed back in the signed-request header.
func (s *Signer) APIKey() string {
	return s.apiKey
}

// Headers signs "timestamp + method + path + body" and returns the header
// set a trading call must carry.
func (s *Signer) Headers(method, path, body string) map[string]string {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig := s.sign(timestamp, method, path, body)

	return map[string]string{
		"X-API-KEY":   s.apiKey,
		"X-SIGNATURE": sig,
		"X-TIMESTAMP": timestamp,
	}
}

func (s *Signer) sign(timestamp, method, path, body string) string {
	message := timestamp + method + path + body

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
