package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
)

// ErrBadSignature is returned for webhook payloads that fail HMAC
// verification. Callers must discard those without side effects.
var ErrBadSignature = errors.New("webhook signature mismatch")

// WebhookEvent is the minimal decoded form of a gateway webhook. The event
// only names a reference worth reconciling; verification stays the source of
// truth for the outcome.
type WebhookEvent struct {
	Event     string
	Reference string
}

// VerifyWebhookSignature checks the hex-encoded HMAC-SHA512 signature the
// gateway computes over the raw request body.
func VerifyWebhookSignature(secret string, body []byte, signature string) error {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// ParseWebhook verifies the signature and extracts the event type and
// transaction reference from the payload.
func ParseWebhook(secret string, body []byte, signature string) (WebhookEvent, error) {
	if err := VerifyWebhookSignature(secret, body, signature); err != nil {
		return WebhookEvent{}, err
	}

	var payload struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookEvent{}, err
	}
	if payload.Data.Reference == "" {
		return WebhookEvent{}, errors.New("webhook payload missing reference")
	}
	return WebhookEvent{Event: payload.Event, Reference: payload.Data.Reference}, nil
}
