// Package signature verifies HMAC-SHA256 signatures rendered as lowercase hex,
// the scheme Razorpay uses for webhooks and checkout callbacks.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
)

const base64Prefix = "base64:"

var ErrEmptySecret = errors.New("signature: empty secret")

// Sign returns hex(HMAC-SHA256(secret, payload)).
func Sign(payload []byte, secret string) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

type Verifier struct {
	log    *slog.Logger
	secret string
}

func NewVerifier(log *slog.Logger, secret string) *Verifier {
	return &Verifier{log: log, secret: secret}
}

// Verify never returns an error: a mismatch and an unusable secret both read as false.
func (v *Verifier) Verify(payload []byte, sig string) bool {
	if sig == "" {
		return false
	}
	expected, err := Sign(payload, v.secret)
	if err != nil {
		v.log.Error("signature secret unusable", "err", err)
		return false
	}
	return hmac.Equal([]byte(expected), []byte(sig))
}

// VerifyCheckout checks the signature the checkout widget returns for order_id|payment_id.
func (v *Verifier) VerifyCheckout(orderID, paymentID, sig string) bool {
	return v.Verify([]byte(orderID+"|"+paymentID), sig)
}

func decodeSecret(secret string) ([]byte, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if rest, ok := strings.CutPrefix(secret, base64Prefix); ok {
		key, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return nil, err
		}
		if len(key) == 0 {
			return nil, ErrEmptySecret
		}
		return key, nil
	}
	return []byte(secret), nil
}
