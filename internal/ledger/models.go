package ledger

import "time"

// Transaction is the audit record of one money-movement attempt, keyed by a
// globally unique client-generated reference.
//
// Invariants:
// - A reference transitions pending -> processing -> {completed|failed} and
//   never regresses. The single exception is completed -> failed with stage
//   wallet_update, taken only by the caller that won the completion claim and
//   then failed to apply the wallet mutation (see Repository.ClaimCompletion).
// - Rows are never deleted; terminal rows are the idempotency record that
//   prevents a wallet mutation from being applied twice.
type Transaction struct {
	Reference   string            `json:"reference"`
	OwnerID     string            `json:"owner_id"`
	BookingID   string            `json:"booking_id,omitempty"`
	Type        Type              `json:"type"`
	AmountMinor int64             `json:"amount_minor"`
	Status      Status            `json:"status"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type Type string

const (
	TypeDeposit    Type = "deposit"
	TypeWithdrawal Type = "withdrawal"
	TypePayment    Type = "payment"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Stage tags where in the movement flow a failure occurred. Stored in
// metadata under "failure_stage" so every failed row is auditable and
// re-driveable.
type Stage string

const (
	StageInitialization Stage = "initialization"
	StageProcessing     Stage = "processing"
	StageVerification   Stage = "verification"
	StageWalletUpdate   Stage = "wallet_update"
)

// Metadata keys written by the reconciliation engine.
const (
	MetaFailureStage    = "failure_stage"
	MetaErrorDetail     = "error"
	MetaGatewayStatus   = "gateway_status"
	MetaGatewayResponse = "gateway_response"
	MetaPaymentStage    = "payment_stage"
	MetaRefundFor       = "refund_for"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
