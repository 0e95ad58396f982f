package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"marketplace-platform/internal/audit"
	"marketplace-platform/internal/auth"
	"marketplace-platform/internal/booking"
	"marketplace-platform/internal/catalog"
	"marketplace-platform/internal/gateway"
	"marketplace-platform/internal/ledger"
	"marketplace-platform/internal/notify"
	"marketplace-platform/internal/rbac"
	"marketplace-platform/internal/reconcile"
	"marketplace-platform/internal/reporting"
	"marketplace-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	if err := RegisterValidators(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type testAPI struct {
	router   *gin.Engine
	wallets  *wallet.MemoryStore
	ledger   *ledger.MemoryRepo
	bookings *booking.Service
	catalog  *catalog.Service
	gw       *gateway.Fake
}

// identityMW stands in for the JWT middleware: the test sets the identity via
// headers instead of a token.
func identityMW(c *gin.Context) {
	accountID := c.GetHeader("X-Test-Account")
	role := c.GetHeader("X-Test-Role")
	if accountID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	ctx := auth.WithIdentity(c.Request.Context(), accountID, role)
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	api := &testAPI{
		wallets: wallet.NewMemoryStore(),
		ledger:  ledger.NewMemoryRepo(),
		gw:      gateway.NewFake(),
	}
	notes := &notify.MemoryDispatcher{}
	bookingRepo := booking.NewMemoryRepo()
	api.bookings = booking.NewService(bookingRepo, nil, notes)
	engine := reconcile.NewEngine(api.wallets, api.ledger, api.bookings, api.gw, api.gw, notes,
		audit.NewService(audit.NewMemoryRepo()), reconcile.NewMetrics(nil), reconcile.Config{
			MinDepositMinor:    10000,
			MinWithdrawalMinor: 10000,
		})

	h := Handlers{
		Wallets:       api.wallets,
		Ledger:        api.ledger,
		Bookings:      api.bookings,
		Engine:        engine,
		Transfers:     api.gw,
		Catalog:       catalog.NewService(catalog.NewMemoryRepo()),
		Reports:       reporting.NewService(reporting.StoreRepo{Ledger: api.ledger, Bookings: bookingRepo}),
		WebhookSecret: "whsec",
	}
	api.catalog = h.Catalog

	r := gin.New()
	r.POST("/webhooks/paystack", h.GatewayWebhook)
	v1 := r.Group("/v1")
	v1.Use(identityMW)
	{
		v1.GET("/wallet/balance", h.GetWalletBalance)
		v1.POST("/deposits", h.CreateDeposit)
		v1.POST("/withdrawals", h.CreateWithdrawal)
		v1.GET("/transactions", h.ListTransactions)
		v1.GET("/transactions/:reference/verify", h.VerifyTransaction)
		v1.POST("/bookings", h.CreateBooking)
		v1.POST("/bookings/:id/accept", h.AcceptBooking)
		v1.POST("/bookings/:id/cancel", h.CancelBooking)
		v1.POST("/bookings/:id/payments", h.PayBooking)
		v1.POST("/services", h.PublishOffering)
		v1.GET("/providers/:id/services", h.ListProviderServices)
		v1.GET("/reports/spend", h.SpendReport)
	}
	api.router = r
	return api
}

func (a *testAPI) do(t *testing.T, method, path, account, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if account != "" {
		req.Header.Set("X-Test-Account", account)
		req.Header.Set("X-Test-Role", role)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func TestCreateDeposit_RejectsBadInput(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/v1/deposits", "acc1", rbac.RoleRequester,
		map[string]any{"amount_minor": -5, "email": "not-an-email"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	// Below the deposit floor.
	w = api.do(t, http.MethodPost, "/v1/deposits", "acc1", rbac.RoleRequester,
		map[string]any{"amount_minor": 100, "email": "a@b.c"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for sub-minimum amount", w.Code)
	}
}

func TestDepositThenVerify(t *testing.T) {
	api := newTestAPI(t)
	api.wallets.Seed("acc1", 0)

	w := api.do(t, http.MethodPost, "/v1/deposits", "acc1", rbac.RoleRequester,
		map[string]any{"amount_minor": 50000, "email": "a@b.c"})
	if w.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d: %s", w.Code, w.Body)
	}
	var intent struct {
		Reference        string `json:"reference"`
		AuthorizationURL string `json:"authorization_url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &intent); err != nil {
		t.Fatalf("decode intent: %v", err)
	}
	if intent.AuthorizationURL == "" {
		t.Fatal("missing authorization url")
	}

	api.gw.ChargeStatuses[intent.Reference] = gateway.ChargeSuccess

	w = api.do(t, http.MethodGet, "/v1/transactions/"+intent.Reference+"/verify", "acc1", rbac.RoleRequester, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify status = %d: %s", w.Code, w.Body)
	}

	w = api.do(t, http.MethodGet, "/v1/wallet/balance", "acc1", rbac.RoleRequester, nil)
	var bal struct {
		BalanceMinor int64 `json:"balance_minor"`
	}
	json.Unmarshal(w.Body.Bytes(), &bal)
	if bal.BalanceMinor != 50000 {
		t.Fatalf("balance = %d, want 50000", bal.BalanceMinor)
	}
}

func TestVerifyTransaction_HiddenFromStrangers(t *testing.T) {
	api := newTestAPI(t)
	api.wallets.Seed("acc1", 0)

	w := api.do(t, http.MethodPost, "/v1/deposits", "acc1", rbac.RoleRequester,
		map[string]any{"amount_minor": 50000, "email": "a@b.c"})
	var intent struct {
		Reference string `json:"reference"`
	}
	json.Unmarshal(w.Body.Bytes(), &intent)

	w = api.do(t, http.MethodGet, "/v1/transactions/"+intent.Reference+"/verify", "someone-else", rbac.RoleRequester, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for non-owner", w.Code)
	}

	// Internal roles can verify on a customer's behalf.
	w = api.do(t, http.MethodGet, "/v1/transactions/"+intent.Reference+"/verify", "support-1", rbac.RoleSupport, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for support role", w.Code)
	}
	w = api.do(t, http.MethodGet, "/v1/transactions/"+intent.Reference+"/verify", "admin-1", rbac.RoleSuperAdmin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for super_admin", w.Code)
	}
}

func TestCreateWithdrawal_InsufficientBalanceIs422(t *testing.T) {
	api := newTestAPI(t)
	api.wallets.Seed("acc1", 1000)

	w := api.do(t, http.MethodPost, "/v1/withdrawals", "acc1", rbac.RoleProvider,
		map[string]any{"amount_minor": 20000, "account_number": "0123456789", "bank_code": "058"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", w.Code, w.Body)
	}
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	api.wallets.Seed("req1", 20000)
	api.wallets.Seed("prov1", 0)

	w := api.do(t, http.MethodPost, "/v1/bookings", "req1", rbac.RoleRequester, map[string]any{
		"provider_id":  "prov1",
		"payment_plan": "half",
		"line_items": []map[string]any{
			{"name": "deep clean", "catalog_price_minor": 10000, "selected": true},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body)
	}
	var b struct {
		ID string `json:"id"`
	}
	json.Unmarshal(w.Body.Bytes(), &b)

	if w = api.do(t, http.MethodPost, "/v1/bookings/"+b.ID+"/accept", "prov1", rbac.RoleProvider, nil); w.Code != http.StatusOK {
		t.Fatalf("accept status = %d: %s", w.Code, w.Body)
	}

	if w = api.do(t, http.MethodPost, "/v1/bookings/"+b.ID+"/payments", "req1", rbac.RoleRequester, nil); w.Code != http.StatusOK {
		t.Fatalf("payment status = %d: %s", w.Code, w.Body)
	}

	// First installment captured: cancellation now conflicts.
	w = api.do(t, http.MethodPost, "/v1/bookings/"+b.ID+"/cancel", "req1", rbac.RoleRequester,
		map[string]any{"reason": "changed plans"})
	if w.Code != http.StatusConflict {
		t.Fatalf("cancel status = %d, want 409: %s", w.Code, w.Body)
	}

	// Only the requester settles installments.
	if w = api.do(t, http.MethodPost, "/v1/bookings/"+b.ID+"/payments", "prov1", rbac.RoleProvider, nil); w.Code != http.StatusForbidden {
		t.Fatalf("provider payment status = %d, want 403", w.Code)
	}
}

func TestCreateBookingFromCatalog(t *testing.T) {
	api := newTestAPI(t)
	api.wallets.Seed("req1", 50000)
	api.wallets.Seed("prov1", 0)

	w := api.do(t, http.MethodPost, "/v1/services", "prov1", rbac.RoleProvider,
		map[string]any{"name": "deep clean", "price_minor": 12000})
	if w.Code != http.StatusCreated {
		t.Fatalf("publish status = %d: %s", w.Code, w.Body)
	}
	var offering struct {
		ID string `json:"id"`
	}
	json.Unmarshal(w.Body.Bytes(), &offering)

	w = api.do(t, http.MethodGet, "/v1/providers/prov1/services", "req1", rbac.RoleRequester, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list services status = %d", w.Code)
	}

	w = api.do(t, http.MethodPost, "/v1/bookings", "req1", rbac.RoleRequester, map[string]any{
		"provider_id":  "prov1",
		"payment_plan": "full_upfront",
		"service_ids":  []string{offering.ID},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body)
	}
	var b struct {
		LineItems []struct {
			Name              string `json:"name"`
			CatalogPriceMinor int64  `json:"catalog_price_minor"`
		} `json:"line_items"`
	}
	json.Unmarshal(w.Body.Bytes(), &b)
	if len(b.LineItems) != 1 || b.LineItems[0].CatalogPriceMinor != 12000 {
		t.Fatalf("line items not quoted from catalog: %+v", b.LineItems)
	}

	// Sending both shapes at once is rejected.
	w = api.do(t, http.MethodPost, "/v1/bookings", "req1", rbac.RoleRequester, map[string]any{
		"provider_id":  "prov1",
		"payment_plan": "full_upfront",
		"service_ids":  []string{offering.ID},
		"line_items":   []map[string]any{{"name": "x", "catalog_price_minor": 1, "selected": true}},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for ambiguous body", w.Code)
	}
}

func TestSpendReport(t *testing.T) {
	api := newTestAPI(t)
	api.wallets.Seed("acc1", 0)

	w := api.do(t, http.MethodPost, "/v1/deposits", "acc1", rbac.RoleRequester,
		map[string]any{"amount_minor": 50000, "email": "a@b.c"})
	var intent struct {
		Reference string `json:"reference"`
	}
	json.Unmarshal(w.Body.Bytes(), &intent)
	api.gw.ChargeStatuses[intent.Reference] = gateway.ChargeSuccess
	api.do(t, http.MethodGet, "/v1/transactions/"+intent.Reference+"/verify", "acc1", rbac.RoleRequester, nil)

	w = api.do(t, http.MethodGet, "/v1/reports/spend", "acc1", rbac.RoleRequester, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("report status = %d: %s", w.Code, w.Body)
	}
	var sum struct {
		DepositedMinor int64 `json:"deposited_minor"`
	}
	json.Unmarshal(w.Body.Bytes(), &sum)
	if sum.DepositedMinor != 50000 {
		t.Fatalf("deposited = %d, want 50000", sum.DepositedMinor)
	}
}

func TestGatewayWebhook(t *testing.T) {
	api := newTestAPI(t)
	api.wallets.Seed("acc1", 0)

	w := api.do(t, http.MethodPost, "/v1/deposits", "acc1", rbac.RoleRequester,
		map[string]any{"amount_minor": 50000, "email": "a@b.c"})
	var intent struct {
		Reference string `json:"reference"`
	}
	json.Unmarshal(w.Body.Bytes(), &intent)
	api.gw.ChargeStatuses[intent.Reference] = gateway.ChargeSuccess

	body := []byte(fmt.Sprintf(`{"event":"charge.success","data":{"reference":%q}}`, intent.Reference))
	mac := hmac.New(sha512.New, []byte("whsec"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/paystack", bytes.NewReader(body))
	req.Header.Set("x-paystack-signature", sig)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d: %s", rec.Code, rec.Body)
	}

	if bal, _ := api.wallets.Balance(req.Context(), "acc1"); bal != 50000 {
		t.Fatalf("balance = %d after webhook, want 50000", bal)
	}

	// Wrong signature never reaches the engine.
	req = httptest.NewRequest(http.MethodPost, "/webhooks/paystack", bytes.NewReader(body))
	req.Header.Set("x-paystack-signature", "deadbeef")
	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("webhook status = %d, want 401", rec.Code)
	}
}
