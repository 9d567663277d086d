// Package kashier builds signed redirect URLs for the Kashier hosted
// checkout page. URL construction is pure: the same request and secrets
// always produce the same URL, and no network call is made.
package kashier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	checkoutOrigin  = "https://payments.kashier.io/"
	defaultMode     = "test"
	defaultCurrency = "USD"
)

// Secrets carries the merchant configuration shared with the gateway.
type Secrets struct {
	MerchantID    string
	PaymentAPIKey string
	// Mode selects the gateway environment ("test" or "live"); empty means test.
	Mode string
	// Currency applies when a request does not name one; empty means USD.
	Currency string
}

// PaymentRequest describes a single checkout redirect to sign.
type PaymentRequest struct {
	Amount          decimal.Decimal
	Currency        string
	MerchantOrderID string
	ReturnURL       string
	WebhookURL      string
	Description     string
}

// BuildCheckoutURL assembles and signs the hosted-checkout redirect URL.
// The signing string is "/?payment=<merchantId>.<orderId>.<amount>.<currency>"
// with the amount fixed to two decimal places; the hash is its HMAC-SHA256
// under the payment API key, hex encoded. Optional parameters are omitted
// entirely when the corresponding input is empty.
func BuildCheckoutURL(request PaymentRequest, secrets Secrets) (string, error) {
	if request.Amount.Sign() <= 0 {
		return "", fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	orderID := strings.TrimSpace(request.MerchantOrderID)
	if orderID == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidOrderID)
	}
	merchantID := strings.TrimSpace(secrets.MerchantID)
	if merchantID == "" || secrets.PaymentAPIKey == "" {
		return "", fmt.Errorf("%w: merchant id and payment api key must be set", ErrMissingConfiguration)
	}

	currency := strings.TrimSpace(request.Currency)
	if currency == "" {
		currency = strings.TrimSpace(secrets.Currency)
	}
	if currency == "" {
		currency = defaultCurrency
	}
	mode := strings.TrimSpace(secrets.Mode)
	if mode == "" {
		mode = defaultMode
	}

	amountStr := request.Amount.StringFixed(2)
	signingString := fmt.Sprintf("/?payment=%s.%s.%s.%s", merchantID, orderID, amountStr, currency)
	hash := hmacSHA256Hex(signingString, secrets.PaymentAPIKey)

	query := url.Values{}
	query.Set("merchantId", merchantID)
	query.Set("orderId", orderID)
	query.Set("amount", amountStr)
	query.Set("currency", currency)
	query.Set("hash", hash)
	query.Set("mode", mode)
	if request.ReturnURL != "" {
		query.Set("merchantRedirect", request.ReturnURL)
	}
	if request.WebhookURL != "" {
		query.Set("serverWebhook", request.WebhookURL)
	}
	if request.Description != "" {
		query.Set("description", request.Description)
	}

	checkout, err := url.Parse(checkoutOrigin)
	if err != nil {
		return "", fmt.Errorf("parse checkout origin: %w", err)
	}
	checkout.RawQuery = query.Encode()
	return checkout.String(), nil
}

func hmacSHA256Hex(message string, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
