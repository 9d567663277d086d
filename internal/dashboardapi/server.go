// Package dashboardapi exposes the credit dashboard over HTTP: account
// posture, the filtered ledger history, manual and promo top-ups, and the
// Kashier hosted-checkout flow.
package dashboardapi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/creditdesk/internal/receipts"
	"github.com/MarkoPoloResearchLab/creditdesk/pkg/creditledger"
	"github.com/MarkoPoloResearchLab/creditdesk/pkg/kashier"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const dateQueryLayout = "2006-01-02"

// Server is the HTTP façade over a ledger service.
type Server struct {
	cfg      Config
	logger   *zap.Logger
	service  *creditledger.Service
	uploader receipts.Uploader

	viewMu sync.Mutex
	view   *creditledger.View

	router *gin.Engine
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithUploader attaches a receipt uploader for multipart top-ups.
func WithUploader(uploader receipts.Uploader) ServerOption {
	return func(server *Server) { server.uploader = uploader }
}

// NewServer wires the router around the given ledger service.
func NewServer(cfg Config, logger *zap.Logger, service *creditledger.Service, options ...ServerOption) (*Server, error) {
	if logger == nil {
		return nil, errors.New("logger dependency is nil")
	}
	if service == nil {
		return nil, errors.New("ledger service dependency is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	server := &Server{
		cfg:     cfg,
		logger:  logger,
		service: service,
		view:    creditledger.NewView(creditledger.DefaultPageSize),
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	server.router = server.setupRouter()
	return server, nil
}

// Router exposes the configured gin engine.
func (server *Server) Router() *gin.Engine {
	return server.router
}

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.router,
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("dashboard api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(sessionMiddleware(server.cfg.SessionSigningKey))

	api.POST("/kashier/create-payment", server.handleCreatePayment)
	api.GET("/account", server.handleAccount)
	api.GET("/ledger", server.handleLedger)
	api.POST("/ledger/topups", server.handleManualTopUp)
	api.POST("/ledger/promos", server.handlePromoRedemption)
	api.POST("/ledger/gateway-topups", server.handleGatewayTopUp)
	api.POST("/ledger/gateway-confirmations", server.handleGatewayConfirmation)

	return router
}

type createPaymentRequest struct {
	Amount          *float64 `json:"amount"`
	Currency        string   `json:"currency"`
	MerchantOrderID string   `json:"merchantOrderId"`
	ReturnURL       string   `json:"returnUrl"`
	WebhookURL      string   `json:"webhookUrl"`
	Description     string   `json:"description"`
}

// handleCreatePayment signs a hosted-checkout URL for an explicit order id
// supplied by the caller. A malformed body is reported as a server error,
// not a bad request, to keep the historical contract of this endpoint.
func (server *Server) handleCreatePayment(ctx *gin.Context) {
	var request createPaymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	amount, ok := decimalFromJSONNumber(request.Amount)
	if !ok || amount.Sign() <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": invalidAmountMessage})
		return
	}
	if server.cfg.MerchantID == "" || server.cfg.PaymentAPIKey == "" {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": missingKashierConfigMessage})
		return
	}
	currency := request.Currency
	if currency == "" {
		currency = server.cfg.Currency
	}
	returnURL := request.ReturnURL
	if returnURL == "" {
		returnURL = server.cfg.ReturnURL
	}
	webhookURL := request.WebhookURL
	if webhookURL == "" {
		webhookURL = server.cfg.WebhookURL
	}
	paymentURL, err := kashier.BuildCheckoutURL(kashier.PaymentRequest{
		Amount:          amount,
		Currency:        currency,
		MerchantOrderID: request.MerchantOrderID,
		ReturnURL:       returnURL,
		WebhookURL:      webhookURL,
		Description:     request.Description,
	}, kashierSecrets(server.cfg))
	if err != nil {
		server.logger.Error("create payment failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"paymentUrl": paymentURL, "paymentRequestId": nil})
}

func (server *Server) handleAccount(ctx *gin.Context) {
	account := server.service.Account()
	entries := server.service.Entries()

	payload := gin.H{
		"balance":         account.Balance.StringFixed(2),
		"reserved":        account.Reserved.StringFixed(2),
		"available":       account.Available().StringFixed(2),
		"usageThisPeriod": creditledger.UsageThisPeriod(entries).StringFixed(2),
		"lifetimeAdded":   creditledger.LifetimeAdded(entries).StringFixed(2),
	}
	if account.CreditLimit != nil {
		payload["creditLimit"] = account.CreditLimit.StringFixed(2)
	}
	if utilization, ok := account.UtilizationPct(); ok {
		payload["utilizationPct"] = utilization.StringFixed(2)
	}
	ctx.JSON(http.StatusOK, payload)
}

// handleLedger serves the filtered, paginated history. The page index
// resets whenever the submitted filter differs from the active one; an
// explicit page parameter then repositions the window.
func (server *Server) handleLedger(ctx *gin.Context) {
	filter := creditledger.Filter{
		Type:            ctx.Query("type"),
		Method:          ctx.Query("method"),
		ReferenceSearch: ctx.Query("search"),
	}
	if raw := ctx.Query("from"); raw != "" {
		parsed, err := time.ParseInLocation(dateQueryLayout, raw, time.Local)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid from date %q", raw)})
			return
		}
		filter.DateFrom = &parsed
	}
	if raw := ctx.Query("to"); raw != "" {
		parsed, err := time.ParseInLocation(dateQueryLayout, raw, time.Local)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid to date %q", raw)})
			return
		}
		filter.DateTo = &parsed
	}

	server.viewMu.Lock()
	server.view.SetFilter(filter)
	if raw := ctx.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			server.viewMu.Unlock()
			ctx.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid page %q", raw)})
			return
		}
		server.view.SetPage(page)
	}
	page := server.view.Apply(server.service.Entries())
	server.viewMu.Unlock()

	items := make([]entryPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, newEntryPayload(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{
		"items":    items,
		"page":     page.Page,
		"pageSize": page.PageSize,
		"total":    page.Total,
	})
}

type manualTopUpRequest struct {
	Amount     *float64 `json:"amount"`
	Method     string   `json:"method"`
	Reference  string   `json:"reference"`
	Notes      string   `json:"notes"`
	ReceiptURL string   `json:"receiptUrl"`
}

// handleManualTopUp records a manual top-up. Multipart bodies may carry a
// receipt file; the upload is best-effort and a failure falls back to the
// receiptUrl form field.
func (server *Server) handleManualTopUp(ctx *gin.Context) {
	var request manualTopUpRequest
	receiptURL := ""
	if isMultipart(ctx) {
		rawAmount := ctx.PostForm("amount")
		parsedAmount, err := strconv.ParseFloat(rawAmount, 64)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": invalidAmountMessage})
			return
		}
		request = manualTopUpRequest{
			Amount:     &parsedAmount,
			Method:     ctx.PostForm("method"),
			Reference:  ctx.PostForm("reference"),
			Notes:      ctx.PostForm("notes"),
			ReceiptURL: ctx.PostForm("receiptUrl"),
		}
		receiptURL = server.uploadReceipt(ctx)
	} else if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "expected JSON body"})
		return
	}
	if receiptURL == "" {
		receiptURL = request.ReceiptURL
	}
	amount, ok := decimalFromJSONNumber(request.Amount)
	if !ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": invalidAmountMessage})
		return
	}

	entry, err := server.service.ApplyManualTopUp(ctx.Request.Context(), creditledger.ManualTopUpInput{
		Amount:    amount,
		Method:    creditledger.Method(request.Method),
		Reference: request.Reference,
		Notes:     request.Notes,
		Receipt:   receiptURL,
	})
	if err != nil {
		server.respondLedgerError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"entry": newEntryPayload(entry)})
}

// uploadReceipt pushes an attached receipt file to storage. Errors are
// logged and ignored; the top-up proceeds without a receipt.
func (server *Server) uploadReceipt(ctx *gin.Context) string {
	if server.uploader == nil {
		return ""
	}
	fileHeader, err := ctx.FormFile("receipt")
	if err != nil {
		return ""
	}
	file, err := fileHeader.Open()
	if err != nil {
		server.logger.Warn("receipt open failed", zap.Error(err))
		return ""
	}
	defer file.Close()
	publicURL, err := server.uploader.Upload(ctx.Request.Context(), getUserID(ctx), fileHeader.Filename, file)
	if err != nil {
		server.logger.Warn("receipt upload failed", zap.Error(err))
		return ""
	}
	return publicURL
}

type promoRequest struct {
	Code string `json:"code"`
}

func (server *Server) handlePromoRedemption(ctx *gin.Context) {
	var request promoRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "expected JSON body"})
		return
	}
	entry, err := server.service.ApplyPromoRedemption(ctx.Request.Context(), request.Code)
	if err != nil {
		server.respondLedgerError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"entry": newEntryPayload(entry)})
}

type gatewayTopUpRequest struct {
	Amount      *float64 `json:"amount"`
	Description string   `json:"description"`
}

// handleGatewayTopUp signs a checkout URL for a ledger-generated order id.
// The ledger is not credited here; that happens on confirmation.
func (server *Server) handleGatewayTopUp(ctx *gin.Context) {
	var request gatewayTopUpRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "expected JSON body"})
		return
	}
	amount, ok := decimalFromJSONNumber(request.Amount)
	if !ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": invalidAmountMessage})
		return
	}
	topUp, err := server.service.InitiateGatewayTopUp(ctx.Request.Context(), amount, request.Description)
	if err != nil {
		server.respondLedgerError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"paymentUrl": topUp.PaymentURL, "orderId": topUp.OrderID})
}

type gatewayConfirmationRequest struct {
	OrderID string   `json:"orderId"`
	Amount  *float64 `json:"amount"`
}

// handleGatewayConfirmation credits a completed gateway payment. Intended
// for the payment webhook, not the dashboard itself.
func (server *Server) handleGatewayConfirmation(ctx *gin.Context) {
	var request gatewayConfirmationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "expected JSON body"})
		return
	}
	amount, ok := decimalFromJSONNumber(request.Amount)
	if !ok {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": invalidAmountMessage})
		return
	}
	entry, err := server.service.ConfirmGatewayTopUp(ctx.Request.Context(), request.OrderID, amount)
	if err != nil {
		server.respondLedgerError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"entry": newEntryPayload(entry)})
}

func (server *Server) respondLedgerError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, creditledger.ErrInvalidAmount), errors.Is(err, kashier.ErrInvalidAmount):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": invalidAmountMessage})
	case errors.Is(err, creditledger.ErrInvalidPromoCode),
		errors.Is(err, creditledger.ErrInvalidMethod),
		errors.Is(err, creditledger.ErrInvalidEntryType),
		errors.Is(err, creditledger.ErrInvalidOrderID),
		errors.Is(err, kashier.ErrInvalidOrderID):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, kashier.ErrMissingConfiguration):
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": missingKashierConfigMessage})
	default:
		server.logger.Error("ledger operation failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// kashierSecrets maps the server configuration onto signing secrets.
func kashierSecrets(cfg Config) kashier.Secrets {
	return kashier.Secrets{
		MerchantID:    cfg.MerchantID,
		PaymentAPIKey: cfg.PaymentAPIKey,
		Mode:          cfg.Mode,
		Currency:      cfg.Currency,
	}
}

// decimalFromJSONNumber converts an optional JSON number into a decimal,
// rejecting absent values, NaN and infinities.
func decimalFromJSONNumber(value *float64) (decimal.Decimal, bool) {
	if value == nil || math.IsNaN(*value) || math.IsInf(*value, 0) {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromFloat(*value), true
}

func isMultipart(ctx *gin.Context) bool {
	contentType := ctx.ContentType()
	return contentType == "multipart/form-data"
}

type entryPayload struct {
	EntryID      string `json:"entryId"`
	Date         string `json:"date"`
	Type         string `json:"type"`
	Amount       string `json:"amount"`
	BalanceAfter string `json:"balanceAfter"`
	Reference    string `json:"reference"`
	Method       string `json:"method"`
	Notes        string `json:"notes,omitempty"`
	Receipt      string `json:"receipt,omitempty"`
}

func newEntryPayload(entry creditledger.Entry) entryPayload {
	return entryPayload{
		EntryID:      entry.EntryID,
		Date:         entry.Date.UTC().Format(time.RFC3339),
		Type:         entry.Type.String(),
		Amount:       entry.Amount.StringFixed(2),
		BalanceAfter: entry.BalanceAfter.StringFixed(2),
		Reference:    entry.Reference,
		Method:       entry.Method.String(),
		Notes:        entry.Notes,
		Receipt:      entry.Receipt,
	}
}
