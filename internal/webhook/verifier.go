// Package webhook receives provider push deliveries: it verifies them, normalizes
// them into domain events and hands them to a sink.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"example.com/activitysync/internal/domain"
)

// SignatureHeader carries the optional HMAC of the delivery body.
const SignatureHeader = "X-Hub-Signature-256"

// VerifierConfig holds the shared secrets.
type VerifierConfig struct {
	// VerifyToken is echoed by the provider during the subscription handshake.
	VerifyToken string
	// SubscriptionID, when non-zero, must match every delivery's subscription_id.
	SubscriptionID int64
	// SigningSecret, when set, requires a matching sha256 HMAC of each body.
	SigningSecret string
}

// HandshakeRequest is the provider's subscription validation challenge.
type HandshakeRequest struct {
	Mode        string
	Challenge   string
	VerifyToken string
}

// HandshakeResponse echoes the challenge.
type HandshakeResponse struct {
	Challenge string `json:"hub.challenge"`
}

// AuthenticityResult reports which checks a delivery passed.
type AuthenticityResult struct {
	SubscriptionChecked bool
	SignatureChecked    bool
}

// Verifier authenticates handshakes and deliveries. It holds no state beyond its
// configuration and is safe for concurrent use.
type Verifier struct {
	cfg VerifierConfig
}

// NewVerifier constructs a Verifier.
func NewVerifier(cfg VerifierConfig) *Verifier {
	return &Verifier{cfg: cfg}
}

// VerifySubscriptionHandshake accepts the challenge only for mode "subscribe" with
// the configured verify token.
func (v *Verifier) VerifySubscriptionHandshake(req HandshakeRequest) (HandshakeResponse, error) {
	if v.cfg.VerifyToken == "" {
		return HandshakeResponse{}, fmt.Errorf("%w: no verify token configured", domain.ErrAuthentication)
	}
	if req.Mode != "subscribe" {
		return HandshakeResponse{}, fmt.Errorf("%w: unexpected mode %q", domain.ErrAuthentication, req.Mode)
	}
	if subtle.ConstantTimeCompare([]byte(req.VerifyToken), []byte(v.cfg.VerifyToken)) != 1 {
		return HandshakeResponse{}, fmt.Errorf("%w: verify token mismatch", domain.ErrAuthentication)
	}
	if req.Challenge == "" {
		return HandshakeResponse{}, fmt.Errorf("%w: empty challenge", domain.ErrAuthentication)
	}
	return HandshakeResponse{Challenge: req.Challenge}, nil
}

// VerifyEvent applies the delivery authenticity policy to the raw body.
func (v *Verifier) VerifyEvent(raw []byte, headers http.Header) (AuthenticityResult, error) {
	var result AuthenticityResult

	if v.cfg.SigningSecret != "" {
		if !validSignature(raw, headers.Get(SignatureHeader), v.cfg.SigningSecret) {
			return result, fmt.Errorf("%w: signature mismatch", domain.ErrAuthenticity)
		}
		result.SignatureChecked = true
	}

	if v.cfg.SubscriptionID != 0 {
		var envelope struct {
			SubscriptionID *int64 `json:"subscription_id"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return result, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
		}
		if envelope.SubscriptionID == nil || *envelope.SubscriptionID != v.cfg.SubscriptionID {
			return result, fmt.Errorf("%w: unknown subscription", domain.ErrAuthenticity)
		}
		result.SubscriptionChecked = true
	}

	return result, nil
}

// Sign computes the signature header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func validSignature(body []byte, header, secret string) bool {
	got, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return false
	}
	gotMAC, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(gotMAC, mac.Sum(nil))
}
