package dashboardapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/creditdesk/pkg/creditledger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	testMerchantID = "MID1"
	testAPIKey     = "testkey"
	// HMAC-SHA256 of "/?payment=MID1.KASH-1234.100.00.USD" under "testkey".
	knownGatewayHash = "cf76937d5ffd46583bc5be0db095f27b0e845e042f57d3763531c10d131f14da"
)

func mustDecimal(test *testing.T, value string) decimal.Decimal {
	test.Helper()
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		test.Fatalf("parse decimal %q: %v", value, err)
	}
	return parsed
}

func testAccount(test *testing.T) creditledger.Account {
	test.Helper()
	limit := mustDecimal(test, "500")
	return creditledger.Account{
		Balance:     mustDecimal(test, "250"),
		Reserved:    mustDecimal(test, "30"),
		CreditLimit: &limit,
	}
}

func fixedClock() func() time.Time {
	current := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return current }
}

func testConfig() Config {
	return Config{
		MerchantID:    testMerchantID,
		PaymentAPIKey: testAPIKey,
	}
}

func newTestService(test *testing.T, options ...creditledger.ServiceOption) *creditledger.Service {
	test.Helper()
	base := []creditledger.ServiceOption{
		creditledger.WithCheckout(creditledger.CheckoutConfig{
			Secrets: kashierSecrets(testConfig()),
		}),
	}
	service, err := creditledger.NewService(testAccount(test), fixedClock(), append(base, options...)...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func newTestServer(test *testing.T, cfg Config, service *creditledger.Service, options ...ServerOption) *Server {
	test.Helper()
	server, err := NewServer(cfg, zap.NewNop(), service, options...)
	if err != nil {
		test.Fatalf("new server: %v", err)
	}
	return server
}

func performJSON(test *testing.T, server *Server, method string, target string, body string) *httptest.ResponseRecorder {
	test.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, target, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(test *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	test.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		test.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestCreatePaymentKnownVector(test *testing.T) {
	test.Parallel()
	server := newTestServer(test, testConfig(), newTestService(test))
	recorder := performJSON(test, server, http.MethodPost, "/api/kashier/create-payment",
		`{"amount":100,"merchantOrderId":"KASH-1234"}`)
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	paymentURL, _ := payload["paymentUrl"].(string)
	if !strings.Contains(paymentURL, "hash="+knownGatewayHash) {
		test.Fatalf("expected known hash in payment url, got %q", paymentURL)
	}
	if !strings.HasPrefix(paymentURL, "https://payments.kashier.io/?") {
		test.Fatalf("unexpected payment url origin: %q", paymentURL)
	}
	requestID, present := payload["paymentRequestId"]
	if !present || requestID != nil {
		test.Fatalf("expected paymentRequestId null, got %v", requestID)
	}
}

func TestCreatePaymentInvalidAmount(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		body string
	}{
		{name: "missing", body: `{"merchantOrderId":"KASH-1"}`},
		{name: "zero", body: `{"amount":0,"merchantOrderId":"KASH-1"}`},
		{name: "negative", body: `{"amount":-20,"merchantOrderId":"KASH-1"}`},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			server := newTestServer(test, testConfig(), newTestService(test))
			recorder := performJSON(test, server, http.MethodPost, "/api/kashier/create-payment", testCase.body)
			if recorder.Code != http.StatusBadRequest {
				test.Fatalf("expected 400, got %d", recorder.Code)
			}
			if body := strings.TrimSpace(recorder.Body.String()); body != `{"error":"Invalid amount"}` {
				test.Fatalf("unexpected body: %s", body)
			}
		})
	}
}

func TestCreatePaymentMissingConfiguration(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	cfg.MerchantID = ""
	server := newTestServer(test, cfg, newTestService(test))
	recorder := performJSON(test, server, http.MethodPost, "/api/kashier/create-payment",
		`{"amount":25,"merchantOrderId":"KASH-1"}`)
	if recorder.Code != http.StatusInternalServerError {
		test.Fatalf("expected 500, got %d", recorder.Code)
	}
	if body := strings.TrimSpace(recorder.Body.String()); body != `{"error":"KASHIER_MERCHANT_ID and KASHIER_PAYMENT_API_KEY must be set"}` {
		test.Fatalf("unexpected body: %s", body)
	}
}

func TestCreatePaymentMalformedBody(test *testing.T) {
	test.Parallel()
	server := newTestServer(test, testConfig(), newTestService(test))
	recorder := performJSON(test, server, http.MethodPost, "/api/kashier/create-payment", `{"amount":`)
	if recorder.Code != http.StatusInternalServerError {
		test.Fatalf("expected 500, got %d", recorder.Code)
	}
	payload := decodeBody(test, recorder)
	if message, _ := payload["error"].(string); message == "" {
		test.Fatalf("expected error message, got %s", recorder.Body.String())
	}
}

func TestAccountEndpoint(test *testing.T) {
	test.Parallel()
	server := newTestServer(test, testConfig(), newTestService(test))
	recorder := performJSON(test, server, http.MethodGet, "/api/account", "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
	payload := decodeBody(test, recorder)
	expectations := map[string]string{
		"balance":         "250.00",
		"reserved":        "30.00",
		"available":       "220.00",
		"creditLimit":     "500.00",
		"utilizationPct":  "50.00",
		"usageThisPeriod": "0.00",
		"lifetimeAdded":   "0.00",
	}
	for field, want := range expectations {
		if got, _ := payload[field].(string); got != want {
			test.Fatalf("field %s: expected %s, got %v", field, want, payload[field])
		}
	}
}

func TestManualTopUpJSON(test *testing.T) {
	test.Parallel()
	server := newTestServer(test, testConfig(), newTestService(test))
	recorder := performJSON(test, server, http.MethodPost, "/api/ledger/topups",
		`{"amount":50,"method":"card","reference":"REF-9001","notes":"wire"}`)
	if recorder.Code != http.StatusCreated {
		test.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	entry, _ := payload["entry"].(map[string]any)
	if entry["balanceAfter"] != "300.00" {
		test.Fatalf("expected balanceAfter 300.00, got %v", entry["balanceAfter"])
	}
	if entry["reference"] != "REF-9001" {
		test.Fatalf("expected reference REF-9001, got %v", entry["reference"])
	}

	account := performJSON(test, server, http.MethodGet, "/api/account", "")
	if got := decodeBody(test, account)["balance"]; got != "300.00" {
		test.Fatalf("expected balance 300.00 after top-up, got %v", got)
	}
}

func TestManualTopUpRejectsNonPositiveAmount(test *testing.T) {
	test.Parallel()
	server := newTestServer(test, testConfig(), newTestService(test))
	recorder := performJSON(test, server, http.MethodPost, "/api/ledger/topups", `{"amount":-10}`)
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", recorder.Code)
	}
	if body := strings.TrimSpace(recorder.Body.String()); body != `{"error":"Invalid amount"}` {
		test.Fatalf("unexpected body: %s", body)
	}
}

type recordingUploader struct {
	uploadedUser     string
	uploadedFilename string
	publicURL        string
	err              error
}

func (uploader *recordingUploader) Upload(_ context.Context, userID string, filename string, content io.Reader) (string, error) {
	uploader.uploadedUser = userID
	uploader.uploadedFilename = filename
	_, _ = io.ReadAll(content)
	if uploader.err != nil {
		return "", uploader.err
	}
	return uploader.publicURL, nil
}

func multipartTopUp(test *testing.T, fields map[string]string, filename string) (*bytes.Buffer, string) {
	test.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for field, value := range fields {
		if err := writer.WriteField(field, value); err != nil {
			test.Fatalf("write field %s: %v", field, err)
		}
	}
	if filename != "" {
		part, err := writer.CreateFormFile("receipt", filename)
		if err != nil {
			test.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write([]byte("fake image bytes")); err != nil {
			test.Fatalf("write file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		test.Fatalf("close multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestManualTopUpMultipartUploadsReceipt(test *testing.T) {
	test.Parallel()
	uploader := &recordingUploader{publicURL: "https://cdn.example.com/receipts/demo/r.png"}
	server := newTestServer(test, testConfig(), newTestService(test), WithUploader(uploader))

	body, contentType := multipartTopUp(test, map[string]string{"amount": "40", "method": "bank"}, "My Receipt.PNG")
	request := httptest.NewRequest(http.MethodPost, "/api/ledger/topups", body)
	request.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusCreated {
		test.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if uploader.uploadedUser != "demo" {
		test.Fatalf("expected demo user, got %q", uploader.uploadedUser)
	}
	if uploader.uploadedFilename != "My Receipt.PNG" {
		test.Fatalf("unexpected filename: %q", uploader.uploadedFilename)
	}
	entry, _ := decodeBody(test, recorder)["entry"].(map[string]any)
	if entry["receipt"] != uploader.publicURL {
		test.Fatalf("expected receipt %q, got %v", uploader.publicURL, entry["receipt"])
	}
}

func TestManualTopUpUploadFailureFallsBack(test *testing.T) {
	test.Parallel()
	uploader := &recordingUploader{err: errors.New("storage unavailable")}
	server := newTestServer(test, testConfig(), newTestService(test), WithUploader(uploader))

	body, contentType := multipartTopUp(test, map[string]string{
		"amount":     "40",
		"receiptUrl": "https://example.com/manual.png",
	}, "r.png")
	request := httptest.NewRequest(http.MethodPost, "/api/ledger/topups", body)
	request.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusCreated {
		test.Fatalf("expected 201 despite upload failure, got %d", recorder.Code)
	}
	entry, _ := decodeBody(test, recorder)["entry"].(map[string]any)
	if entry["receipt"] != "https://example.com/manual.png" {
		test.Fatalf("expected fallback receipt url, got %v", entry["receipt"])
	}
}

func TestPromoRedemption(test *testing.T) {
	test.Parallel()
	server := newTestServer(test, testConfig(), newTestService(test))
	recorder := performJSON(test, server, http.MethodPost, "/api/ledger/promos", `{"code":"save10"}`)
	if recorder.Code != http.StatusCreated {
		test.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	entry, _ := decodeBody(test, recorder)["entry"].(map[string]any)
	if entry["reference"] != "PROMO-SAVE10" {
		test.Fatalf("expected reference PROMO-SAVE10, got %v", entry["reference"])
	}
	if entry["amount"] != "10.00" {
		test.Fatalf("expected amount 10.00, got %v", entry["amount"])
	}
}

func TestPromoRedemptionRejectsEmptyCode(test *testing.T) {
	test.Parallel()
	server := newTestServer(test, testConfig(), newTestService(test))
	recorder := performJSON(test, server, http.MethodPost, "/api/ledger/promos", `{"code":"  "}`)
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestGatewayTopUpDoesNotMutateBalance(test *testing.T) {
	test.Parallel()
	server := newTestServer(test, testConfig(), newTestService(test))
	recorder := performJSON(test, server, http.MethodPost, "/api/ledger/gateway-topups", `{"amount":75.5}`)
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	if orderID, _ := payload["orderId"].(string); !strings.HasPrefix(orderID, "KASH-") {
		test.Fatalf("expected KASH- order id, got %v", payload["orderId"])
	}
	if paymentURL, _ := payload["paymentUrl"].(string); !strings.Contains(paymentURL, "amount=75.50") {
		test.Fatalf("expected amount 75.50 in url, got %v", payload["paymentUrl"])
	}

	account := performJSON(test, server, http.MethodGet, "/api/account", "")
	if got := decodeBody(test, account)["balance"]; got != "250.00" {
		test.Fatalf("expected untouched balance 250.00, got %v", got)
	}
}

func TestGatewayTopUpMissingCheckoutConfiguration(test *testing.T) {
	test.Parallel()
	service, err := creditledger.NewService(testAccount(test), fixedClock())
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	server := newTestServer(test, testConfig(), service)
	recorder := performJSON(test, server, http.MethodPost, "/api/ledger/gateway-topups", `{"amount":20}`)
	if recorder.Code != http.StatusInternalServerError {
		test.Fatalf("expected 500, got %d", recorder.Code)
	}
	if body := strings.TrimSpace(recorder.Body.String()); body != `{"error":"KASHIER_MERCHANT_ID and KASHIER_PAYMENT_API_KEY must be set"}` {
		test.Fatalf("unexpected body: %s", body)
	}
}

func TestGatewayConfirmationCreditsBalance(test *testing.T) {
	test.Parallel()
	server := newTestServer(test, testConfig(), newTestService(test))
	recorder := performJSON(test, server, http.MethodPost, "/api/ledger/gateway-confirmations",
		`{"orderId":"KASH-777","amount":100}`)
	if recorder.Code != http.StatusCreated {
		test.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	entry, _ := decodeBody(test, recorder)["entry"].(map[string]any)
	if entry["reference"] != "KASH-777" {
		test.Fatalf("expected reference KASH-777, got %v", entry["reference"])
	}
	if entry["balanceAfter"] != "350.00" {
		test.Fatalf("expected balanceAfter 350.00, got %v", entry["balanceAfter"])
	}
}

func TestLedgerPagination(test *testing.T) {
	test.Parallel()
	service := newTestService(test)
	service.ReplaceEntries(creditledger.DemoEntries(fixedClock()()))
	server := newTestServer(test, testConfig(), service)

	first := performJSON(test, server, http.MethodGet, "/api/ledger", "")
	payload := decodeBody(test, first)
	items, _ := payload["items"].([]any)
	if len(items) != 8 {
		test.Fatalf("expected 8 items on first page, got %d", len(items))
	}
	if payload["total"] != float64(12) {
		test.Fatalf("expected total 12, got %v", payload["total"])
	}

	second := performJSON(test, server, http.MethodGet, "/api/ledger?page=1", "")
	payload = decodeBody(test, second)
	items, _ = payload["items"].([]any)
	if len(items) != 4 {
		test.Fatalf("expected 4 items on second page, got %d", len(items))
	}
	if payload["page"] != float64(1) {
		test.Fatalf("expected page 1, got %v", payload["page"])
	}
}

func TestLedgerFilterResetsPage(test *testing.T) {
	test.Parallel()
	service := newTestService(test)
	service.ReplaceEntries(creditledger.DemoEntries(fixedClock()()))
	server := newTestServer(test, testConfig(), service)

	performJSON(test, server, http.MethodGet, "/api/ledger?page=1", "")
	filtered := performJSON(test, server, http.MethodGet, "/api/ledger?type=Top-up", "")
	payload := decodeBody(test, filtered)
	if payload["page"] != float64(0) {
		test.Fatalf("expected page reset to 0 on filter change, got %v", payload["page"])
	}
	items, _ := payload["items"].([]any)
	for _, raw := range items {
		entry, _ := raw.(map[string]any)
		if entry["type"] != "Top-up" {
			test.Fatalf("expected only Top-up entries, got %v", entry["type"])
		}
	}
}

func TestLedgerRejectsBadDates(test *testing.T) {
	test.Parallel()
	server := newTestServer(test, testConfig(), newTestService(test))
	recorder := performJSON(test, server, http.MethodGet, "/api/ledger?from=yesterday", "")
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestSessionRequiredWhenSigningKeySet(test *testing.T) {
	test.Parallel()
	cfg := testConfig()
	cfg.SessionSigningKey = "session-secret"
	server := newTestServer(test, cfg, newTestService(test))

	anonymous := performJSON(test, server, http.MethodGet, "/api/account", "")
	if anonymous.Code != http.StatusUnauthorized {
		test.Fatalf("expected 401 without token, got %d", anonymous.Code)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-9",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("session-secret"))
	if err != nil {
		test.Fatalf("sign token: %v", err)
	}
	request := httptest.NewRequest(http.MethodGet, "/api/account", nil)
	request.Header.Set("Authorization", "Bearer "+signed)
	recorder := httptest.NewRecorder()
	server.Router().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200 with valid token, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestHealthz(test *testing.T) {
	test.Parallel()
	server := newTestServer(test, testConfig(), newTestService(test))
	recorder := performJSON(test, server, http.MethodGet, "/healthz", "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
}
