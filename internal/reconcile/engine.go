// Package reconcile moves money. It is the only package that both talks to
// the gateway and mutates wallets, and every mutation it makes is recorded as
// exactly one ledger transaction.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-platform/internal/audit"
	"marketplace-platform/internal/booking"
	"marketplace-platform/internal/gateway"
	"marketplace-platform/internal/ledger"
	"marketplace-platform/internal/notify"
	"marketplace-platform/internal/wallet"
	"marketplace-platform/pkg/logger"
)

var (
	// ErrBelowMinimum rejects deposits and withdrawals under the configured
	// amount floor.
	ErrBelowMinimum = errors.New("amount below the configured minimum")

	// ErrInconsistent means a settlement debited the payer but neither the
	// provider credit nor the compensating refund landed. The books are wrong
	// until an operator intervenes; callers must surface this loudly.
	ErrInconsistent = errors.New("settlement left wallets inconsistent")
)

type Config struct {
	MinDepositMinor    int64
	MinWithdrawalMinor int64
}

// Engine drives deposits, withdrawals and booking settlements.
//
// Idempotency model: the ledger row is the lock. Verification may be
// triggered any number of times from any path (redirect callback, webhook,
// poll); the wallet mutation happens only for the caller that wins the
// ledger's completion claim.
type Engine struct {
	wallets   wallet.Store
	ledger    ledger.Repository
	bookings  *booking.Service
	deposits  gateway.DepositProvider
	transfers gateway.TransferProvider
	notifier  notify.Dispatcher
	auditor   *audit.Service
	metrics   *Metrics
	cfg       Config
	clock     func() time.Time
}

func NewEngine(
	wallets wallet.Store,
	ledgerRepo ledger.Repository,
	bookings *booking.Service,
	deposits gateway.DepositProvider,
	transfers gateway.TransferProvider,
	notifier notify.Dispatcher,
	auditor *audit.Service,
	metrics *Metrics,
	cfg Config,
) *Engine {
	return &Engine{
		wallets:   wallets,
		ledger:    ledgerRepo,
		bookings:  bookings,
		deposits:  deposits,
		transfers: transfers,
		notifier:  notifier,
		auditor:   auditor,
		metrics:   metrics,
		cfg:       cfg,
		clock:     time.Now,
	}
}

// DepositIntent is what the client needs to complete a card charge.
type DepositIntent struct {
	Reference        string `json:"reference"`
	AmountMinor      int64  `json:"amount_minor"`
	AuthorizationURL string `json:"authorization_url"`
}

// InitiateDeposit opens a pending deposit and hands back the gateway checkout
// link. No wallet mutation happens here.
func (e *Engine) InitiateDeposit(ctx context.Context, ownerID, email string, amountMinor int64) (DepositIntent, error) {
	if amountMinor < e.cfg.MinDepositMinor {
		return DepositIntent{}, fmt.Errorf("%w: deposit minimum is %d", ErrBelowMinimum, e.cfg.MinDepositMinor)
	}

	ref := ledger.NewReference("DEP")
	tx := ledger.Transaction{
		Reference:   ref,
		OwnerID:     ownerID,
		Type:        ledger.TypeDeposit,
		AmountMinor: amountMinor,
		Status:      ledger.StatusPending,
		CreatedAt:   e.clock().UTC(),
	}
	if err := e.ledger.Create(ctx, tx); err != nil {
		return DepositIntent{}, err
	}

	intent, err := e.deposits.InitializeTransaction(ctx, gateway.ChargeRequest{
		Reference:   ref,
		AmountMinor: amountMinor,
		PayerEmail:  email,
		Metadata:    map[string]string{"owner_id": ownerID},
	})
	if err != nil {
		e.failTx(ctx, ref, ledger.StageInitialization, err)
		e.metrics.outcome(string(ledger.TypeDeposit), "failed")
		return DepositIntent{}, err
	}

	link, err := e.deposits.InitializePayment(ctx, intent)
	if err != nil {
		e.failTx(ctx, ref, ledger.StageInitialization, err)
		e.metrics.outcome(string(ledger.TypeDeposit), "failed")
		return DepositIntent{}, err
	}

	return DepositIntent{Reference: ref, AmountMinor: amountMinor, AuthorizationURL: link}, nil
}

// Reconcile is the single idempotent entry point for settling a gateway-side
// transaction, no matter how it was triggered. Terminal transactions are
// returned as-is with no side effects.
func (e *Engine) Reconcile(ctx context.Context, reference string) (ledger.Transaction, error) {
	tx, err := e.ledger.GetByReference(ctx, reference)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if tx.Status.Terminal() {
		return tx, nil
	}

	switch tx.Type {
	case ledger.TypeDeposit:
		err = e.reconcileDeposit(ctx, tx)
	case ledger.TypeWithdrawal:
		err = e.reconcileWithdrawal(ctx, tx)
	default:
		// Payment transactions settle synchronously in SettleBookingPayment
		// and never reach the gateway.
		return tx, nil
	}
	if err != nil {
		return ledger.Transaction{}, err
	}
	return e.ledger.GetByReference(ctx, reference)
}

func (e *Engine) reconcileDeposit(ctx context.Context, tx ledger.Transaction) error {
	if err := e.ledger.MarkProcessing(ctx, tx.Reference); err != nil && !errors.Is(err, ledger.ErrTerminal) {
		return err
	}

	v, err := e.deposits.VerifyTransaction(ctx, tx.Reference)
	if err != nil {
		// Verification is retriable; leave the transaction in processing.
		return err
	}

	switch v.Status {
	case gateway.ChargeSuccess:
		if v.AmountMinor != tx.AmountMinor {
			detail := fmt.Sprintf("charged amount %d does not match expected %d", v.AmountMinor, tx.AmountMinor)
			e.failTx(ctx, tx.Reference, ledger.StageVerification, errors.New(detail))
			e.metrics.outcome(string(ledger.TypeDeposit), "failed")
			return nil
		}
		won, err := e.ledger.ClaimCompletion(ctx, tx.Reference, map[string]string{
			ledger.MetaGatewayStatus:   string(v.Status),
			ledger.MetaGatewayResponse: v.RawResponse,
		})
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
		if _, err := e.wallets.Increase(ctx, tx.OwnerID, tx.AmountMinor); err != nil {
			e.failTx(ctx, tx.Reference, ledger.StageWalletUpdate, err)
			e.metrics.outcome(string(ledger.TypeDeposit), "failed")
			return err
		}
		e.metrics.outcome(string(ledger.TypeDeposit), "completed")
		e.sendNotification(ctx, tx.OwnerID, "Deposit completed",
			fmt.Sprintf("Your deposit of %d was credited to your wallet.", tx.AmountMinor), notify.CategoryPayment)
		return nil

	case gateway.ChargeFailed:
		e.failTx(ctx, tx.Reference, ledger.StageVerification,
			fmt.Errorf("gateway reported status %s", v.Status))
		e.metrics.outcome(string(ledger.TypeDeposit), "failed")
		return nil

	default:
		// Pending or abandoned on the gateway side. Nothing to do yet.
		e.metrics.outcome(string(ledger.TypeDeposit), "pending")
		return nil
	}
}

func (e *Engine) reconcileWithdrawal(ctx context.Context, tx ledger.Transaction) error {
	if err := e.ledger.MarkProcessing(ctx, tx.Reference); err != nil && !errors.Is(err, ledger.ErrTerminal) {
		return err
	}

	v, err := e.transfers.VerifyTransfer(ctx, tx.Reference)
	if err != nil {
		return err
	}

	switch v.Status {
	case gateway.TransferSuccess:
		won, err := e.ledger.ClaimCompletion(ctx, tx.Reference, map[string]string{
			ledger.MetaGatewayStatus:   string(v.Status),
			ledger.MetaGatewayResponse: v.RawResponse,
		})
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
		// The debit happens only once the transfer is confirmed out. Until
		// then the balance still shows the funds.
		if _, err := e.wallets.Decrease(ctx, tx.OwnerID, tx.AmountMinor); err != nil {
			e.failTx(ctx, tx.Reference, ledger.StageWalletUpdate, err)
			e.metrics.outcome(string(ledger.TypeWithdrawal), "failed")
			return err
		}
		e.metrics.outcome(string(ledger.TypeWithdrawal), "completed")
		e.sendNotification(ctx, tx.OwnerID, "Withdrawal sent",
			fmt.Sprintf("Your withdrawal of %d was sent to your bank account.", tx.AmountMinor), notify.CategoryPayout)
		return nil

	case gateway.TransferFailed, gateway.TransferReversed:
		e.failTx(ctx, tx.Reference, ledger.StageVerification,
			fmt.Errorf("gateway reported status %s", v.Status))
		e.metrics.outcome(string(ledger.TypeWithdrawal), "failed")
		e.sendNotification(ctx, tx.OwnerID, "Withdrawal failed",
			"Your withdrawal could not be completed. No funds left your wallet.", notify.CategoryPayout)
		return nil

	default:
		e.metrics.outcome(string(ledger.TypeWithdrawal), "pending")
		return nil
	}
}

// WithdrawalReceipt confirms a transfer was handed to the gateway. The wallet
// is debited later, when Reconcile sees a verified success.
type WithdrawalReceipt struct {
	Reference   string `json:"reference"`
	AmountMinor int64  `json:"amount_minor"`
	AccountName string `json:"account_name"`
}

func (e *Engine) InitiateWithdrawal(ctx context.Context, ownerID string, amountMinor int64, accountNumber, bankCode string) (WithdrawalReceipt, error) {
	if amountMinor < e.cfg.MinWithdrawalMinor {
		return WithdrawalReceipt{}, fmt.Errorf("%w: withdrawal minimum is %d", ErrBelowMinimum, e.cfg.MinWithdrawalMinor)
	}

	// Early rejection only. The authoritative sufficiency check is the
	// atomic debit at reconciliation time.
	balance, err := e.wallets.Balance(ctx, ownerID)
	if err != nil {
		return WithdrawalReceipt{}, err
	}
	if balance < amountMinor {
		return WithdrawalReceipt{}, wallet.ErrInsufficientBalance
	}

	acct, err := e.transfers.ResolveBankAccount(ctx, accountNumber, bankCode)
	if err != nil {
		return WithdrawalReceipt{}, err
	}
	recipient, err := e.transfers.CreateTransferRecipient(ctx, acct.AccountName, acct.AccountNumber, acct.BankCode)
	if err != nil {
		return WithdrawalReceipt{}, err
	}

	ref := ledger.NewReference("WDL")
	tx := ledger.Transaction{
		Reference:   ref,
		OwnerID:     ownerID,
		Type:        ledger.TypeWithdrawal,
		AmountMinor: amountMinor,
		Status:      ledger.StatusPending,
		Metadata: map[string]string{
			"recipient_code": recipient,
			"bank_code":      acct.BankCode,
		},
		CreatedAt: e.clock().UTC(),
	}
	if err := e.ledger.Create(ctx, tx); err != nil {
		return WithdrawalReceipt{}, err
	}

	err = e.transfers.InitiateTransfer(ctx, gateway.TransferRequest{
		Reference:     ref,
		AmountMinor:   amountMinor,
		RecipientCode: recipient,
		Reason:        "wallet withdrawal",
	})
	if err != nil {
		e.failTx(ctx, ref, ledger.StageProcessing, err)
		e.metrics.outcome(string(ledger.TypeWithdrawal), "failed")
		return WithdrawalReceipt{}, err
	}

	return WithdrawalReceipt{Reference: ref, AmountMinor: amountMinor, AccountName: acct.AccountName}, nil
}

// SettleBookingPayment moves one installment from the requester's wallet to
// the provider's. The booking's settlement claim serializes concurrent calls,
// and the stage is derived from the booking under that claim, so repeated
// calls pay the next outstanding installment, never the same one twice.
//
// The movement is a two-step saga rather than a single store transaction so
// it works against any wallet.Store. A failed provider credit is compensated
// by refunding the requester, recorded as its own refund-tagged transaction.
func (e *Engine) SettleBookingPayment(ctx context.Context, bookingID, actorID string) (ledger.Transaction, error) {
	b, err := e.bookings.Get(ctx, bookingID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if b.RequesterID != actorID {
		return ledger.Transaction{}, booking.ErrNotParticipant
	}

	won, err := e.bookings.ClaimSettlement(ctx, b.ID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if !won {
		return ledger.Transaction{}, fmt.Errorf("%w: another settlement for this booking is in flight", booking.ErrInvalidTransition)
	}
	defer e.bookings.ReleaseSettlement(ctx, b.ID)

	// Status, stage and captured total are only stable while the claim is
	// held, so re-read before deciding what to charge.
	b, err = e.bookings.Get(ctx, bookingID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if b.Status == booking.StatusPending || b.Status == booking.StatusCancelled {
		return ledger.Transaction{}, fmt.Errorf("%w: booking is %s", booking.ErrInvalidTransition, b.Status)
	}

	stage, ok := b.NextStage()
	if !ok {
		return ledger.Transaction{}, fmt.Errorf("%w: booking is fully paid", booking.ErrInvalidStage)
	}
	amount, err := e.stageAmount(ctx, &b, stage)
	if err != nil {
		return ledger.Transaction{}, err
	}

	if _, err := e.wallets.Decrease(ctx, b.RequesterID, amount); err != nil {
		return ledger.Transaction{}, err
	}

	ref := ledger.NewReference("PAY")
	tx := ledger.Transaction{
		Reference:   ref,
		OwnerID:     b.RequesterID,
		BookingID:   b.ID,
		Type:        ledger.TypePayment,
		AmountMinor: amount,
		Status:      ledger.StatusProcessing,
		Metadata:    map[string]string{ledger.MetaPaymentStage: string(stage)},
		CreatedAt:   e.clock().UTC(),
	}
	if err := e.ledger.Create(ctx, tx); err != nil {
		// The debit landed but the payment has no ledger row. Put the money
		// back before reporting the failure.
		if _, refundErr := e.wallets.Increase(ctx, b.RequesterID, amount); refundErr != nil {
			e.recordInconsistency(ctx, b.ID, ref, err, refundErr)
			return ledger.Transaction{}, ErrInconsistent
		}
		return ledger.Transaction{}, err
	}

	if _, err := e.wallets.Increase(ctx, b.ProviderID, amount); err != nil {
		e.metrics.compensation()
		e.failTx(ctx, ref, ledger.StageWalletUpdate, err)
		if refundErr := e.refundRequester(ctx, b, ref, amount); refundErr != nil {
			e.recordInconsistency(ctx, b.ID, ref, err, refundErr)
			return ledger.Transaction{}, ErrInconsistent
		}
		e.metrics.outcome(string(ledger.TypePayment), "failed")
		return ledger.Transaction{}, err
	}

	if _, err := e.ledger.ClaimCompletion(ctx, ref, nil); err != nil {
		logger.From(ctx).Error("payment completed but ledger not updated", "reference", ref, "err", err)
	}
	if _, err := e.bookings.ApplyPayment(ctx, b.ID, stage); err != nil {
		// Money already moved and is recorded; the booking flag will be
		// retried by the next settlement attempt or fixed manually.
		logger.From(ctx).Error("payment settled but booking flag not applied",
			"booking_id", b.ID, "stage", stage, "err", err)
	}

	e.metrics.outcome(string(ledger.TypePayment), "completed")
	e.sendNotification(ctx, b.ProviderID, "Payment received",
		fmt.Sprintf("A payment of %d for booking %s was credited to your wallet.", amount, b.ID), notify.CategoryPayment)
	e.sendNotification(ctx, b.RequesterID, "Payment sent",
		fmt.Sprintf("Your payment of %d for booking %s was completed.", amount, b.ID), notify.CategoryPayment)

	return e.ledger.GetByReference(ctx, ref)
}

// stageAmount computes the installment from the booking's current total.
// The final installment is whatever remains after the amounts already
// captured, so a renegotiated total changes the final installment and the
// two installments always sum to the current total.
func (e *Engine) stageAmount(ctx context.Context, b *booking.Booking, stage booking.PaymentStage) (int64, error) {
	total := b.TotalMinor()
	switch stage {
	case booking.StageFull:
		return total, nil
	case booking.StageFirst:
		return total / 2, nil
	case booking.StageFinal:
		captured, err := e.ledger.SumCapturedForBooking(ctx, b.ID)
		if err != nil {
			return 0, err
		}
		remaining := total - captured
		if remaining <= 0 {
			return 0, fmt.Errorf("%w: nothing left to pay", booking.ErrInvalidStage)
		}
		return remaining, nil
	default:
		return 0, booking.ErrInvalidStage
	}
}

func (e *Engine) refundRequester(ctx context.Context, b booking.Booking, paymentRef string, amount int64) error {
	if _, err := e.wallets.Increase(ctx, b.RequesterID, amount); err != nil {
		return err
	}
	refund := ledger.Transaction{
		Reference:   ledger.NewReference("RFD"),
		OwnerID:     b.RequesterID,
		BookingID:   b.ID,
		Type:        ledger.TypePayment,
		AmountMinor: amount,
		Status:      ledger.StatusCompleted,
		Metadata: map[string]string{
			ledger.MetaPaymentStage: "refund",
			ledger.MetaRefundFor:    paymentRef,
		},
		CreatedAt: e.clock().UTC(),
	}
	if err := e.ledger.Create(ctx, refund); err != nil {
		// The money is back where it started; a missing refund row is an
		// audit gap, not an imbalance.
		logger.From(ctx).Error("refund applied but not recorded", "refund_for", paymentRef, "err", err)
	}
	e.sendNotification(ctx, b.RequesterID, "Payment refunded",
		fmt.Sprintf("Your payment of %d for booking %s failed and was refunded.", amount, b.ID), notify.CategoryPayment)
	return nil
}

func (e *Engine) failTx(ctx context.Context, reference string, stage ledger.Stage, cause error) {
	if err := e.ledger.MarkFailed(ctx, reference, stage, cause.Error()); err != nil {
		logger.From(ctx).Error("marking transaction failed", "reference", reference, "stage", stage, "err", err)
	}
}

func (e *Engine) recordInconsistency(ctx context.Context, bookingID, reference string, cause, compensationErr error) {
	logger.From(ctx).Error("settlement inconsistency, manual intervention required",
		"booking_id", bookingID, "reference", reference,
		"cause", cause, "compensation_err", compensationErr)
	if e.auditor == nil {
		return
	}
	detail := fmt.Sprintf(`{"cause":%q,"compensation_error":%q}`, cause.Error(), compensationErr.Error())
	if err := e.auditor.LogInconsistency(ctx, bookingID, reference, "debit landed without matching credit", detail); err != nil {
		logger.From(ctx).Error("recording inconsistency audit event", "reference", reference, "err", err)
	}
}

func (e *Engine) sendNotification(ctx context.Context, accountID, title, message, category string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, accountID, title, message, category); err != nil {
		logger.From(ctx).Warn("notification failed", "account_id", accountID, "err", err)
	}
}
