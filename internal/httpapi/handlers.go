package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"marketplace-platform/internal/auth"
	"marketplace-platform/internal/booking"
	"marketplace-platform/internal/catalog"
	"marketplace-platform/internal/gateway"
	"marketplace-platform/internal/ledger"
	"marketplace-platform/internal/rbac"
	"marketplace-platform/internal/reconcile"
	"marketplace-platform/internal/reporting"
	"marketplace-platform/internal/wallet"
	"marketplace-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth      *auth.Manager
	Wallets   wallet.Store
	Ledger    ledger.Repository
	Bookings  *booking.Service
	Engine    *reconcile.Engine
	Transfers gateway.TransferProvider
	Catalog   *catalog.Service
	Reports   *reporting.Service

	WebhookSecret string
}

// respondError maps domain errors onto HTTP statuses in one place so every
// handler reports failures the same way.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, reconcile.ErrBelowMinimum),
		errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, gateway.ErrBankValidation),
		errors.Is(err, catalog.ErrInvalidOffering),
		errors.Is(err, reporting.ErrInvalidRequest),
		errors.Is(err, booking.ErrInvalidStage):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, wallet.ErrInsufficientBalance):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, booking.ErrCannotCancel),
		errors.Is(err, booking.ErrInvalidTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, booking.ErrNotParticipant):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, booking.ErrNotFound),
		errors.Is(err, catalog.ErrOfferingNotFound),
		errors.Is(err, wallet.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, gateway.ErrGateway):
		logger.FromGin(c).Warn("gateway error", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "payment gateway unavailable"})
	case errors.Is(err, reconcile.ErrInconsistent):
		logger.FromGin(c).Error("inconsistent settlement surfaced to client", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		logger.FromGin(c).Error("unhandled error", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func accountFrom(c *gin.Context) (string, bool) {
	id, err := auth.AccountID(c.Request.Context())
	if err != nil || id == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return "", false
	}
	return id, true
}

// --- Auth ---

type loginRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	Role      string `json:"role" binding:"required,oneof=requester provider support super_admin"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.AccountID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Wallet ---

func (h Handlers) GetWalletBalance(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}
	bal, err := h.Wallets.Balance(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "balance_minor": bal})
}

// --- Deposits / withdrawals ---

type depositRequest struct {
	AmountMinor int64  `json:"amount_minor" binding:"required,gt=0"`
	Email       string `json:"email" binding:"required,email"`
}

func (h Handlers) CreateDeposit(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	intent, err := h.Engine.InitiateDeposit(c.Request.Context(), accountID, req.Email, req.AmountMinor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, intent)
}

type withdrawalRequest struct {
	AmountMinor   int64  `json:"amount_minor" binding:"required,gt=0"`
	AccountNumber string `json:"account_number" binding:"required,numeric,len=10"`
	BankCode      string `json:"bank_code" binding:"required,bank_code"`
}

func (h Handlers) CreateWithdrawal(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}
	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rcpt, err := h.Engine.InitiateWithdrawal(c.Request.Context(), accountID, req.AmountMinor, req.AccountNumber, req.BankCode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rcpt)
}

type resolveBankRequest struct {
	AccountNumber string `json:"account_number" binding:"required,numeric,len=10"`
	BankCode      string `json:"bank_code" binding:"required,bank_code"`
}

// ResolveBank lets the client confirm the account holder's name before
// committing to a withdrawal.
func (h Handlers) ResolveBank(c *gin.Context) {
	var req resolveBankRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acct, err := h.Transfers.ResolveBankAccount(c.Request.Context(), req.AccountNumber, req.BankCode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

// --- Transactions ---

func (h Handlers) ListTransactions(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}
	txs, err := h.Ledger.ListByOwner(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// VerifyTransaction triggers reconciliation for a reference. Safe to call any
// number of times from any trigger; only the owner or an internal role may.
func (h Handlers) VerifyTransaction(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}
	reference := c.Param("reference")

	tx, err := h.Ledger.GetByReference(c.Request.Context(), reference)
	if err != nil {
		respondError(c, err)
		return
	}
	role, _ := auth.Role(c.Request.Context())
	if tx.OwnerID != accountID && !rbac.IsInternalRole(role) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": ledger.ErrNotFound.Error()})
		return
	}

	tx, err = h.Engine.Reconcile(c.Request.Context(), reference)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// --- Bookings ---

type lineItemRequest struct {
	Name              string `json:"name" binding:"required"`
	CatalogPriceMinor int64  `json:"catalog_price_minor" binding:"required,gt=0"`
	AgreedPriceMinor  *int64 `json:"agreed_price_minor,omitempty"`
	Details           string `json:"details,omitempty"`
	Selected          bool   `json:"selected"`
}

type createBookingRequest struct {
	ProviderID  string `json:"provider_id" binding:"required"`
	PaymentPlan string `json:"payment_plan" binding:"required,oneof=full_upfront half"`

	// Either explicit line items or catalog offering ids, not both.
	LineItems  []lineItemRequest `json:"line_items,omitempty" binding:"omitempty,min=1,dive"`
	ServiceIDs []string          `json:"service_ids,omitempty" binding:"omitempty,min=1"`
}

func (h Handlers) CreateBooking(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if (len(req.LineItems) == 0) == (len(req.ServiceIDs) == 0) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "provide either line_items or service_ids"})
		return
	}

	var items []booking.ServiceLineItem
	if len(req.ServiceIDs) > 0 {
		lines, err := h.Catalog.Quote(c.Request.Context(), req.ProviderID, req.ServiceIDs)
		if err != nil {
			respondError(c, err)
			return
		}
		items = make([]booking.ServiceLineItem, 0, len(lines))
		for _, l := range lines {
			items = append(items, booking.ServiceLineItem{
				Name:              l.Name,
				CatalogPriceMinor: l.PriceMinor,
				Details:           l.Details,
				Selected:          true,
			})
		}
	} else {
		items = make([]booking.ServiceLineItem, 0, len(req.LineItems))
		for _, it := range req.LineItems {
			items = append(items, booking.ServiceLineItem{
				Name:              it.Name,
				CatalogPriceMinor: it.CatalogPriceMinor,
				AgreedPriceMinor:  it.AgreedPriceMinor,
				Details:           it.Details,
				Selected:          it.Selected,
			})
		}
	}
	b, err := h.Bookings.Create(c.Request.Context(), booking.CreateRequest{
		RequesterID: accountID,
		ProviderID:  req.ProviderID,
		LineItems:   items,
		PaymentPlan: booking.PaymentPlan(req.PaymentPlan),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h Handlers) GetBooking(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}
	b, err := h.Bookings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	role, _ := auth.Role(c.Request.Context())
	if b.RequesterID != accountID && b.ProviderID != accountID && !rbac.IsInternalRole(role) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": booking.ErrNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h Handlers) ListBookings(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}
	bs, err := h.Bookings.ListByAccount(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bs})
}

func (h Handlers) AcceptBooking(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}
	b, err := h.Bookings.Accept(c.Request.Context(), c.Param("id"), accountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) CancelBooking(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}
	var req cancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, err := h.Bookings.Cancel(c.Request.Context(), c.Param("id"), accountID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h Handlers) CompleteBooking(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}
	b, err := h.Bookings.MarkDone(c.Request.Context(), c.Param("id"), accountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// PayBooking settles the next outstanding installment from the requester's
// wallet.
func (h Handlers) PayBooking(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}
	tx, err := h.Engine.SettleBookingPayment(c.Request.Context(), c.Param("id"), accountID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// --- Catalog ---

type publishOfferingRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description,omitempty"`
	PriceMinor  int64  `json:"price_minor" binding:"required,gt=0"`
}

// PublishOffering adds a service to the calling provider's catalog.
func (h Handlers) PublishOffering(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}
	var req publishOfferingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := h.Catalog.Publish(c.Request.Context(), catalog.PublishRequest{
		ProviderID:  accountID,
		Name:        req.Name,
		Description: req.Description,
		PriceMinor:  req.PriceMinor,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (h Handlers) RetireOffering(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}
	if err := h.Catalog.Retire(c.Request.Context(), accountID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "retired"})
}

func (h Handlers) ListProviderServices(c *gin.Context) {
	if _, ok := accountFrom(c); !ok {
		return
	}
	offerings, err := h.Catalog.ListByProvider(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"services": offerings})
}

// --- Reports ---

// reportRange parses from/to query params (RFC 3339), defaulting to the last
// 30 days.
func reportRange(c *gin.Context) (reporting.TimeRange, error) {
	now := time.Now().UTC()
	r := reporting.TimeRange{From: now.AddDate(0, 0, -30), To: now}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return reporting.TimeRange{}, err
		}
		r.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return reporting.TimeRange{}, err
		}
		r.To = t
	}
	return r, nil
}

func (h Handlers) SpendReport(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}
	rng, err := reportRange(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from/to must be RFC 3339 timestamps"})
		return
	}
	sum, err := h.Reports.SpendSummary(c.Request.Context(), reporting.SpendSummaryRequest{AccountID: accountID, Range: rng})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h Handlers) BookingsReport(c *gin.Context) {
	accountID, ok := accountFrom(c)
	if !ok {
		return
	}
	rng, err := reportRange(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from/to must be RFC 3339 timestamps"})
		return
	}
	sum, err := h.Reports.BookingsSummary(c.Request.Context(), reporting.BookingsSummaryRequest{AccountID: accountID, Range: rng})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- Webhook ---

// GatewayWebhook receives asynchronous charge/transfer events. The signature
// gate is the only authentication; unsigned payloads are dropped without side
// effects. Reconciliation failures still return 200 so the gateway does not
// retry forever: the reference stays non-terminal and a later verify settles it.
func (h Handlers) GatewayWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	ev, err := gateway.ParseWebhook(h.WebhookSecret, body, c.GetHeader("x-paystack-signature"))
	if err != nil {
		if errors.Is(err, gateway.ErrBadSignature) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad signature"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "bad payload"})
		return
	}

	if _, err := h.Engine.Reconcile(c.Request.Context(), ev.Reference); err != nil {
		logger.FromGin(c).Warn("webhook reconciliation failed", "reference", ev.Reference, "event", ev.Event, "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}
