package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"marketplace-platform/internal/config"
)

const checkoutBaseURL = "https://checkout.paystack.com/"

// Paystack implements DepositProvider and TransferProvider against the
// Paystack REST API. Amounts are passed through in the smallest currency
// unit, which is also Paystack's wire format.
type Paystack struct {
	baseURL     string
	secretKey   string
	callbackURL string
	client      *http.Client
}

func NewPaystack(cfg config.GatewayConfig) *Paystack {
	return &Paystack{
		baseURL:     cfg.BaseURL,
		secretKey:   cfg.SecretKey,
		callbackURL: cfg.CallbackURL,
		client:      &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

func (p *Paystack) Name() string { return "paystack" }

// envelope is Paystack's uniform response wrapper.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (p *Paystack) InitializeTransaction(ctx context.Context, req ChargeRequest) (ChargeIntent, error) {
	body := map[string]any{
		"reference": req.Reference,
		"amount":    req.AmountMinor,
		"email":     req.PayerEmail,
	}
	if p.callbackURL != "" {
		// Where Paystack sends the payer after checkout.
		body["callback_url"] = p.callbackURL
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if _, err := p.call(ctx, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return ChargeIntent{}, err
	}
	if data.Reference == "" || data.AccessCode == "" {
		return ChargeIntent{}, fmt.Errorf("%w: initialize returned empty reference or access code", ErrGateway)
	}
	return ChargeIntent{
		Reference:   data.Reference,
		AmountMinor: req.AmountMinor,
		AccessCode:  data.AccessCode,
	}, nil
}

func (p *Paystack) InitializePayment(ctx context.Context, intent ChargeIntent) (string, error) {
	if intent.AccessCode == "" {
		return "", fmt.Errorf("%w: charge intent has no access code", ErrGateway)
	}
	return checkoutBaseURL + intent.AccessCode, nil
}

func (p *Paystack) VerifyTransaction(ctx context.Context, reference string) (ChargeVerification, error) {
	var data struct {
		Status string `json:"status"`
		Amount int64  `json:"amount"`
	}
	raw, err := p.call(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data)
	if err != nil {
		return ChargeVerification{}, err
	}

	out := ChargeVerification{AmountMinor: data.Amount, RawResponse: raw}
	switch data.Status {
	case "success":
		out.Status = ChargeSuccess
	case "failed":
		out.Status = ChargeFailed
	default:
		out.Status = ChargeOther
	}
	return out, nil
}

func (p *Paystack) ResolveBankAccount(ctx context.Context, accountNumber, bankCode string) (BankAccount, error) {
	q := url.Values{}
	q.Set("account_number", accountNumber)
	q.Set("bank_code", bankCode)

	var data struct {
		AccountNumber string `json:"account_number"`
		AccountName   string `json:"account_name"`
	}
	if _, err := p.call(ctx, http.MethodGet, "/bank/resolve?"+q.Encode(), nil, &data); err != nil {
		return BankAccount{}, fmt.Errorf("%w: %v", ErrBankValidation, err)
	}
	if data.AccountName == "" {
		return BankAccount{}, fmt.Errorf("%w: account name not resolved", ErrBankValidation)
	}
	return BankAccount{
		AccountNumber: data.AccountNumber,
		BankCode:      bankCode,
		AccountName:   data.AccountName,
	}, nil
}

func (p *Paystack) CreateTransferRecipient(ctx context.Context, accountName, accountNumber, bankCode string) (string, error) {
	body := map[string]any{
		"type":           "nuban",
		"name":           accountName,
		"account_number": accountNumber,
		"bank_code":      bankCode,
	}
	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	if _, err := p.call(ctx, http.MethodPost, "/transferrecipient", body, &data); err != nil {
		return "", err
	}
	if data.RecipientCode == "" {
		return "", fmt.Errorf("%w: empty recipient code", ErrGateway)
	}
	return data.RecipientCode, nil
}

func (p *Paystack) InitiateTransfer(ctx context.Context, req TransferRequest) error {
	body := map[string]any{
		"source":    "balance",
		"amount":    req.AmountMinor,
		"recipient": req.RecipientCode,
		"reference": req.Reference,
		"reason":    req.Reason,
	}
	var data struct {
		Status string `json:"status"`
	}
	if _, err := p.call(ctx, http.MethodPost, "/transfer", body, &data); err != nil {
		return err
	}
	return nil
}

func (p *Paystack) VerifyTransfer(ctx context.Context, reference string) (TransferVerification, error) {
	var data struct {
		Status string `json:"status"`
	}
	raw, err := p.call(ctx, http.MethodGet, "/transfer/verify/"+url.PathEscape(reference), nil, &data)
	if err != nil {
		return TransferVerification{}, err
	}

	out := TransferVerification{RawResponse: raw}
	switch data.Status {
	case "success":
		out.Status = TransferSuccess
	case "failed":
		out.Status = TransferFailed
	case "reversed":
		out.Status = TransferReversed
	default:
		out.Status = TransferOther
	}
	return out, nil
}

// call performs one authenticated request and decodes the data envelope into
// out. It returns the raw data payload for metadata capture.
func (p *Paystack) call(ctx context.Context, method, path string, body any, out any) (string, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return "", err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s %s: %v", ErrGateway, method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrGateway, err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %s %s: http %d", ErrGateway, method, path, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", fmt.Errorf("%w: decoding envelope: %v", ErrGateway, err)
	}
	if !env.Status {
		return "", fmt.Errorf("%w: %s", ErrGateway, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", fmt.Errorf("%w: decoding data: %v", ErrGateway, err)
		}
	}
	return string(env.Data), nil
}
