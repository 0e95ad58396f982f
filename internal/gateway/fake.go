package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory gateway for tests. Outcomes are scripted per
// reference; unscripted references verify as "other".
type Fake struct {
	mu sync.Mutex

	ChargeStatuses   map[string]ChargeStatus
	TransferStatuses map[string]TransferStatus

	// FailInit, FailTransfer and FailResolve force the corresponding call to
	// return ErrGateway / ErrBankValidation.
	FailInit     bool
	FailTransfer bool
	FailResolve  bool

	InitCalls     []ChargeRequest
	TransferCalls []TransferRequest
	VerifyCalls   []string
}

func NewFake() *Fake {
	return &Fake{
		ChargeStatuses:   make(map[string]ChargeStatus),
		TransferStatuses: make(map[string]TransferStatus),
	}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) InitializeTransaction(ctx context.Context, req ChargeRequest) (ChargeIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InitCalls = append(f.InitCalls, req)
	if f.FailInit {
		return ChargeIntent{}, fmt.Errorf("%w: scripted initialize failure", ErrGateway)
	}
	return ChargeIntent{
		Reference:   req.Reference,
		AmountMinor: req.AmountMinor,
		AccessCode:  "ac_" + req.Reference,
	}, nil
}

func (f *Fake) InitializePayment(ctx context.Context, intent ChargeIntent) (string, error) {
	return "https://pay.test/" + intent.AccessCode, nil
}

func (f *Fake) VerifyTransaction(ctx context.Context, reference string) (ChargeVerification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.VerifyCalls = append(f.VerifyCalls, reference)
	status, ok := f.ChargeStatuses[reference]
	if !ok {
		status = ChargeOther
	}
	return ChargeVerification{
		Status:      status,
		AmountMinor: f.scriptedAmount(reference),
		RawResponse: fmt.Sprintf(`{"status":%q}`, status),
	}, nil
}

func (f *Fake) ResolveBankAccount(ctx context.Context, accountNumber, bankCode string) (BankAccount, error) {
	if f.FailResolve {
		return BankAccount{}, fmt.Errorf("%w: scripted resolve failure", ErrBankValidation)
	}
	return BankAccount{
		AccountNumber: accountNumber,
		BankCode:      bankCode,
		AccountName:   "TEST ACCOUNT HOLDER",
	}, nil
}

func (f *Fake) CreateTransferRecipient(ctx context.Context, accountName, accountNumber, bankCode string) (string, error) {
	return "rcp_" + accountNumber, nil
}

func (f *Fake) InitiateTransfer(ctx context.Context, req TransferRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TransferCalls = append(f.TransferCalls, req)
	if f.FailTransfer {
		return fmt.Errorf("%w: scripted transfer failure", ErrGateway)
	}
	return nil
}

func (f *Fake) VerifyTransfer(ctx context.Context, reference string) (TransferVerification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.VerifyCalls = append(f.VerifyCalls, reference)
	status, ok := f.TransferStatuses[reference]
	if !ok {
		status = TransferOther
	}
	return TransferVerification{
		Status:      status,
		RawResponse: fmt.Sprintf(`{"status":%q}`, status),
	}, nil
}

// scriptedAmount echoes back the amount from the recorded initialize call so
// verification carries the charged amount like the real gateway does.
func (f *Fake) scriptedAmount(reference string) int64 {
	for _, c := range f.InitCalls {
		if c.Reference == reference {
			return c.AmountMinor
		}
	}
	return 0
}
