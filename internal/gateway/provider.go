package gateway

import (
	"context"
	"errors"
)

// Provider-agnostic interfaces used by the reconciliation engine.
//
// Rules:
// - No gateway SDK/HTTP calls outside this package.
// - Gateway statuses are mapped to the small enums below; raw payloads are
//   preserved as strings for transaction metadata, never interpreted upstream.

// DepositProvider wraps the external card-payment gateway.
type DepositProvider interface {
	Name() string

	// InitializeTransaction registers a charge intent under a caller-generated
	// unique reference. No money moves yet.
	InitializeTransaction(ctx context.Context, req ChargeRequest) (ChargeIntent, error)

	// InitializePayment produces the redirect target the payer completes the
	// charge on.
	InitializePayment(ctx context.Context, intent ChargeIntent) (string, error)

	// VerifyTransaction is the authoritative status check for a reference.
	VerifyTransaction(ctx context.Context, reference string) (ChargeVerification, error)
}

// TransferProvider wraps the external bank-transfer gateway used for
// withdrawals.
type TransferProvider interface {
	Name() string

	// ResolveBankAccount resolves a human-readable account name for
	// confirmation before any money moves.
	ResolveBankAccount(ctx context.Context, accountNumber, bankCode string) (BankAccount, error)

	CreateTransferRecipient(ctx context.Context, accountName, accountNumber, bankCode string) (string, error)

	InitiateTransfer(ctx context.Context, req TransferRequest) error

	// VerifyTransfer is the authoritative status check for a reference.
	VerifyTransfer(ctx context.Context, reference string) (TransferVerification, error)
}

type ChargeRequest struct {
	Reference   string
	AmountMinor int64
	PayerEmail  string
	Metadata    map[string]string
}

type ChargeIntent struct {
	Reference   string
	AmountMinor int64
	AccessCode  string
}

type ChargeStatus string

const (
	ChargeSuccess ChargeStatus = "success"
	ChargeFailed  ChargeStatus = "failed"
	// ChargeOther covers pending/abandoned/unknown states: never a basis for
	// a wallet mutation.
	ChargeOther ChargeStatus = "other"
)

type ChargeVerification struct {
	Status      ChargeStatus
	AmountMinor int64
	RawResponse string
}

type BankAccount struct {
	AccountNumber string
	BankCode      string
	AccountName   string
}

type TransferRequest struct {
	Reference     string
	AmountMinor   int64
	RecipientCode string
	Reason        string
}

type TransferStatus string

const (
	TransferSuccess  TransferStatus = "success"
	TransferFailed   TransferStatus = "failed"
	TransferReversed TransferStatus = "reversed"
	// TransferOther means still in flight: poll again later, never retry the
	// transfer blindly.
	TransferOther TransferStatus = "other"
)

type TransferVerification struct {
	Status      TransferStatus
	RawResponse string
}

// ErrGateway wraps any initialize/verify failure or unrecognized gateway
// response so callers can map it uniformly.
var ErrGateway = errors.New("gateway error")

// ErrBankValidation signals the destination account could not be resolved.
var ErrBankValidation = errors.New("bank account validation failed")
