package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"marketplace-platform/internal/audit"
	"marketplace-platform/internal/booking"
	"marketplace-platform/internal/gateway"
	"marketplace-platform/internal/ledger"
	"marketplace-platform/internal/notify"
	"marketplace-platform/internal/wallet"
)

type fixture struct {
	engine   *Engine
	wallets  *wallet.MemoryStore
	ledger   *ledger.MemoryRepo
	bookings *booking.Service
	repo     *booking.MemoryRepo
	gw       *gateway.Fake
	notes    *notify.MemoryDispatcher
	audits   *audit.MemoryRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		wallets: wallet.NewMemoryStore(),
		ledger:  ledger.NewMemoryRepo(),
		repo:    booking.NewMemoryRepo(),
		gw:      gateway.NewFake(),
		notes:   &notify.MemoryDispatcher{},
		audits:  audit.NewMemoryRepo(),
	}
	f.bookings = booking.NewService(f.repo, nil, f.notes)
	f.engine = NewEngine(f.wallets, f.ledger, f.bookings, f.gw, f.gw, f.notes, audit.NewService(f.audits), NewMetrics(nil), Config{
		MinDepositMinor:    10000,
		MinWithdrawalMinor: 10000,
	})
	return f
}

func (f *fixture) acceptedBooking(t *testing.T, plan booking.PaymentPlan, totalMinor int64) booking.Booking {
	t.Helper()
	ctx := context.Background()
	b, err := f.bookings.Create(ctx, booking.CreateRequest{
		RequesterID: "req1",
		ProviderID:  "prov1",
		PaymentPlan: plan,
		LineItems: []booking.ServiceLineItem{
			{Name: "service", CatalogPriceMinor: totalMinor, Selected: true},
		},
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	b, err = f.bookings.Accept(ctx, b.ID, "prov1")
	if err != nil {
		t.Fatalf("accept booking: %v", err)
	}
	return b
}

func TestInitiateDeposit_BelowMinimum(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.InitiateDeposit(context.Background(), "acc1", "a@b.c", 5000)
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("err = %v, want ErrBelowMinimum", err)
	}
	if len(f.gw.InitCalls) != 0 {
		t.Fatal("gateway should not be called for sub-minimum deposits")
	}
}

func TestInitiateDeposit_GatewayFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.gw.FailInit = true

	_, err := f.engine.InitiateDeposit(context.Background(), "acc1", "a@b.c", 50000)
	if !errors.Is(err, gateway.ErrGateway) {
		t.Fatalf("err = %v, want ErrGateway", err)
	}

	txs, err := f.ledger.ListByOwner(context.Background(), "acc1")
	if err != nil || len(txs) != 1 {
		t.Fatalf("expected 1 transaction, got %d (err %v)", len(txs), err)
	}
	if txs[0].Status != ledger.StatusFailed {
		t.Fatalf("status = %s, want failed", txs[0].Status)
	}
	if got := txs[0].Metadata[ledger.MetaFailureStage]; got != string(ledger.StageInitialization) {
		t.Fatalf("failure stage = %q", got)
	}
}

func TestDeposit_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("acc1", 0)
	ctx := context.Background()

	intent, err := f.engine.InitiateDeposit(ctx, "acc1", "a@b.c", 50000)
	if err != nil {
		t.Fatalf("InitiateDeposit: %v", err)
	}
	if intent.AuthorizationURL == "" {
		t.Fatal("expected checkout link")
	}

	f.gw.ChargeStatuses[intent.Reference] = gateway.ChargeSuccess

	tx, err := f.engine.Reconcile(ctx, intent.Reference)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if tx.Status != ledger.StatusCompleted {
		t.Fatalf("status = %s, want completed", tx.Status)
	}
	if bal, _ := f.wallets.Balance(ctx, "acc1"); bal != 50000 {
		t.Fatalf("balance = %d, want 50000", bal)
	}
	if got := f.notes.ForAccount("acc1"); len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
}

func TestDeposit_ReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("acc1", 0)
	ctx := context.Background()

	intent, err := f.engine.InitiateDeposit(ctx, "acc1", "a@b.c", 50000)
	if err != nil {
		t.Fatalf("InitiateDeposit: %v", err)
	}
	f.gw.ChargeStatuses[intent.Reference] = gateway.ChargeSuccess

	for i := 0; i < 3; i++ {
		if _, err := f.engine.Reconcile(ctx, intent.Reference); err != nil {
			t.Fatalf("Reconcile #%d: %v", i, err)
		}
	}
	if bal, _ := f.wallets.Balance(ctx, "acc1"); bal != 50000 {
		t.Fatalf("balance = %d after repeated reconciles, want 50000", bal)
	}
}

func TestDeposit_ConcurrentReconcileCreditsOnce(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("acc1", 0)
	ctx := context.Background()

	intent, err := f.engine.InitiateDeposit(ctx, "acc1", "a@b.c", 50000)
	if err != nil {
		t.Fatalf("InitiateDeposit: %v", err)
	}
	f.gw.ChargeStatuses[intent.Reference] = gateway.ChargeSuccess

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.engine.Reconcile(ctx, intent.Reference)
		}()
	}
	wg.Wait()

	if bal, _ := f.wallets.Balance(ctx, "acc1"); bal != 50000 {
		t.Fatalf("balance = %d after concurrent reconciles, want 50000", bal)
	}
}

func TestDeposit_FailedChargeNeverCredits(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("acc1", 0)
	ctx := context.Background()

	intent, _ := f.engine.InitiateDeposit(ctx, "acc1", "a@b.c", 50000)
	f.gw.ChargeStatuses[intent.Reference] = gateway.ChargeFailed

	tx, err := f.engine.Reconcile(ctx, intent.Reference)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if tx.Status != ledger.StatusFailed {
		t.Fatalf("status = %s, want failed", tx.Status)
	}
	if got := tx.Metadata[ledger.MetaFailureStage]; got != string(ledger.StageVerification) {
		t.Fatalf("failure stage = %q", got)
	}
	if bal, _ := f.wallets.Balance(ctx, "acc1"); bal != 0 {
		t.Fatalf("balance = %d, want 0", bal)
	}

	// A later success verdict for the same reference must not resurrect it.
	f.gw.ChargeStatuses[intent.Reference] = gateway.ChargeSuccess
	tx, err = f.engine.Reconcile(ctx, intent.Reference)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if tx.Status != ledger.StatusFailed {
		t.Fatalf("terminal status regressed to %s", tx.Status)
	}
	if bal, _ := f.wallets.Balance(ctx, "acc1"); bal != 0 {
		t.Fatalf("balance = %d after late success, want 0", bal)
	}
}

func TestDeposit_PendingChargeLeavesProcessing(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("acc1", 0)
	ctx := context.Background()

	intent, _ := f.engine.InitiateDeposit(ctx, "acc1", "a@b.c", 50000)
	// No scripted status: fake reports "other".
	tx, err := f.engine.Reconcile(ctx, intent.Reference)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if tx.Status != ledger.StatusProcessing {
		t.Fatalf("status = %s, want processing", tx.Status)
	}
	if bal, _ := f.wallets.Balance(ctx, "acc1"); bal != 0 {
		t.Fatalf("balance mutated on pending charge")
	}

	// The charge later succeeds; reconciliation picks it up.
	f.gw.ChargeStatuses[intent.Reference] = gateway.ChargeSuccess
	tx, err = f.engine.Reconcile(ctx, intent.Reference)
	if err != nil {
		t.Fatalf("Reconcile after success: %v", err)
	}
	if tx.Status != ledger.StatusCompleted {
		t.Fatalf("status = %s, want completed", tx.Status)
	}
	if bal, _ := f.wallets.Balance(ctx, "acc1"); bal != 50000 {
		t.Fatalf("balance = %d, want 50000", bal)
	}
}

func TestDeposit_AmountMismatchFails(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("acc1", 0)
	ctx := context.Background()

	intent, _ := f.engine.InitiateDeposit(ctx, "acc1", "a@b.c", 50000)
	f.gw.ChargeStatuses[intent.Reference] = gateway.ChargeSuccess
	// Tamper with the recorded initialize amount so verification disagrees.
	f.gw.InitCalls[0].AmountMinor = 100

	tx, err := f.engine.Reconcile(ctx, intent.Reference)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if tx.Status != ledger.StatusFailed {
		t.Fatalf("status = %s, want failed on amount mismatch", tx.Status)
	}
	if bal, _ := f.wallets.Balance(ctx, "acc1"); bal != 0 {
		t.Fatalf("balance = %d, want 0", bal)
	}
}

func TestInitiateWithdrawal_Guards(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("acc1", 15000)
	ctx := context.Background()

	if _, err := f.engine.InitiateWithdrawal(ctx, "acc1", 5000, "0123456789", "058"); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("err = %v, want ErrBelowMinimum", err)
	}
	if _, err := f.engine.InitiateWithdrawal(ctx, "acc1", 20000, "0123456789", "058"); !errors.Is(err, wallet.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	f.gw.FailResolve = true
	if _, err := f.engine.InitiateWithdrawal(ctx, "acc1", 12000, "0123456789", "058"); !errors.Is(err, gateway.ErrBankValidation) {
		t.Fatalf("err = %v, want ErrBankValidation", err)
	}
}

func TestWithdrawal_DebitOnlyAfterVerifiedTransfer(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("acc1", 50000)
	ctx := context.Background()

	rcpt, err := f.engine.InitiateWithdrawal(ctx, "acc1", 20000, "0123456789", "058")
	if err != nil {
		t.Fatalf("InitiateWithdrawal: %v", err)
	}
	if rcpt.AccountName == "" {
		t.Fatal("expected resolved account name")
	}
	// Transfer initiated but not yet confirmed: balance untouched.
	if bal, _ := f.wallets.Balance(ctx, "acc1"); bal != 50000 {
		t.Fatalf("balance = %d before confirmation, want 50000", bal)
	}

	f.gw.TransferStatuses[rcpt.Reference] = gateway.TransferSuccess
	tx, err := f.engine.Reconcile(ctx, rcpt.Reference)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if tx.Status != ledger.StatusCompleted {
		t.Fatalf("status = %s, want completed", tx.Status)
	}
	if bal, _ := f.wallets.Balance(ctx, "acc1"); bal != 30000 {
		t.Fatalf("balance = %d, want 30000", bal)
	}

	// Re-reconciling never debits twice.
	if _, err := f.engine.Reconcile(ctx, rcpt.Reference); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if bal, _ := f.wallets.Balance(ctx, "acc1"); bal != 30000 {
		t.Fatalf("balance = %d after repeat, want 30000", bal)
	}
}

func TestWithdrawal_FailedTransferKeepsFunds(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("acc1", 50000)
	ctx := context.Background()

	rcpt, err := f.engine.InitiateWithdrawal(ctx, "acc1", 20000, "0123456789", "058")
	if err != nil {
		t.Fatalf("InitiateWithdrawal: %v", err)
	}
	f.gw.TransferStatuses[rcpt.Reference] = gateway.TransferFailed

	tx, err := f.engine.Reconcile(ctx, rcpt.Reference)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if tx.Status != ledger.StatusFailed {
		t.Fatalf("status = %s, want failed", tx.Status)
	}
	if bal, _ := f.wallets.Balance(ctx, "acc1"); bal != 50000 {
		t.Fatalf("balance = %d, want untouched 50000", bal)
	}
}

func TestWithdrawal_InitiationRejectedMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("acc1", 50000)
	f.gw.FailTransfer = true
	ctx := context.Background()

	_, err := f.engine.InitiateWithdrawal(ctx, "acc1", 20000, "0123456789", "058")
	if !errors.Is(err, gateway.ErrGateway) {
		t.Fatalf("err = %v, want ErrGateway", err)
	}
	txs, _ := f.ledger.ListByOwner(ctx, "acc1")
	if len(txs) != 1 || txs[0].Status != ledger.StatusFailed {
		t.Fatalf("expected one failed transaction, got %+v", txs)
	}
	if got := txs[0].Metadata[ledger.MetaFailureStage]; got != string(ledger.StageProcessing) {
		t.Fatalf("failure stage = %q", got)
	}
	if bal, _ := f.wallets.Balance(ctx, "acc1"); bal != 50000 {
		t.Fatalf("balance = %d, want 50000", bal)
	}
}

func TestSettle_FullUpfront(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("req1", 100000)
	f.wallets.Seed("prov1", 0)
	ctx := context.Background()
	b := f.acceptedBooking(t, booking.PlanFullUpfront, 60000)

	tx, err := f.engine.SettleBookingPayment(ctx, b.ID, "req1")
	if err != nil {
		t.Fatalf("SettleBookingPayment: %v", err)
	}
	if tx.Status != ledger.StatusCompleted || tx.AmountMinor != 60000 {
		t.Fatalf("unexpected payment tx %+v", tx)
	}
	if bal, _ := f.wallets.Balance(ctx, "req1"); bal != 40000 {
		t.Fatalf("requester balance = %d, want 40000", bal)
	}
	if bal, _ := f.wallets.Balance(ctx, "prov1"); bal != 60000 {
		t.Fatalf("provider balance = %d, want 60000", bal)
	}

	got, _ := f.bookings.Get(ctx, b.ID)
	if got.Status != booking.StatusCompleted || !got.FirstPaymentCompleted {
		t.Fatalf("booking not completed: %+v", got)
	}

	// Fully paid: a second settlement attempt is rejected before any money moves.
	if _, err := f.engine.SettleBookingPayment(ctx, b.ID, "req1"); !errors.Is(err, booking.ErrInvalidStage) {
		t.Fatalf("err = %v, want ErrInvalidStage", err)
	}
	if bal, _ := f.wallets.Balance(ctx, "req1"); bal != 40000 {
		t.Fatalf("requester balance moved on rejected settlement")
	}
}

func TestSettle_HalfPlanInstallments(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("req1", 20000)
	f.wallets.Seed("prov1", 0)
	ctx := context.Background()
	b := f.acceptedBooking(t, booking.PlanHalf, 10000)

	first, err := f.engine.SettleBookingPayment(ctx, b.ID, "req1")
	if err != nil {
		t.Fatalf("first settlement: %v", err)
	}
	if first.AmountMinor != 5000 {
		t.Fatalf("first installment = %d, want 5000", first.AmountMinor)
	}
	got, _ := f.bookings.Get(ctx, b.ID)
	if got.Status != booking.StatusInProgress || !got.FirstPaymentCompleted {
		t.Fatalf("after first installment: %+v", got)
	}

	// Money moved: cancellation is refused from here on.
	if _, err := f.bookings.Cancel(ctx, b.ID, "req1", "changed my mind"); !errors.Is(err, booking.ErrCannotCancel) {
		t.Fatalf("cancel err = %v, want ErrCannotCancel", err)
	}

	final, err := f.engine.SettleBookingPayment(ctx, b.ID, "req1")
	if err != nil {
		t.Fatalf("final settlement: %v", err)
	}
	if final.AmountMinor != 5000 {
		t.Fatalf("final installment = %d, want 5000", final.AmountMinor)
	}
	got, _ = f.bookings.Get(ctx, b.ID)
	if got.Status != booking.StatusCompleted || !got.FinalPaymentCompleted {
		t.Fatalf("after final installment: %+v", got)
	}
	if bal, _ := f.wallets.Balance(ctx, "prov1"); bal != 10000 {
		t.Fatalf("provider balance = %d, want 10000", bal)
	}
}

func TestSettle_FinalInstallmentTracksRenegotiatedTotal(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("req1", 50000)
	f.wallets.Seed("prov1", 0)
	ctx := context.Background()
	b := f.acceptedBooking(t, booking.PlanHalf, 10000)

	if _, err := f.engine.SettleBookingPayment(ctx, b.ID, "req1"); err != nil {
		t.Fatalf("first settlement: %v", err)
	}

	// The parties renegotiate the price upward between installments.
	got, _ := f.bookings.Get(ctx, b.ID)
	agreed := int64(16000)
	got.LineItems[0].AgreedPriceMinor = &agreed
	if err := f.repo.Update(ctx, got); err != nil {
		t.Fatalf("update booking: %v", err)
	}

	final, err := f.engine.SettleBookingPayment(ctx, b.ID, "req1")
	if err != nil {
		t.Fatalf("final settlement: %v", err)
	}
	// 16000 total minus the 5000 already captured.
	if final.AmountMinor != 11000 {
		t.Fatalf("final installment = %d, want 11000", final.AmountMinor)
	}
	if bal, _ := f.wallets.Balance(ctx, "prov1"); bal != 16000 {
		t.Fatalf("provider balance = %d, want 16000", bal)
	}
}

func TestSettle_InsufficientBalanceLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("req1", 1000)
	f.wallets.Seed("prov1", 0)
	ctx := context.Background()
	b := f.acceptedBooking(t, booking.PlanFullUpfront, 60000)

	_, err := f.engine.SettleBookingPayment(ctx, b.ID, "req1")
	if !errors.Is(err, wallet.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if txs, _ := f.ledger.ListByOwner(ctx, "req1"); len(txs) != 0 {
		t.Fatalf("expected no ledger rows, got %d", len(txs))
	}
	if bal, _ := f.wallets.Balance(ctx, "req1"); bal != 1000 {
		t.Fatalf("requester balance mutated")
	}
	got, _ := f.bookings.Get(ctx, b.ID)
	if got.FirstPaymentCompleted {
		t.Fatal("payment flag set despite failed debit")
	}
}

func TestSettle_OnlyRequesterPays(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("req1", 100000)
	f.wallets.Seed("prov1", 0)
	b := f.acceptedBooking(t, booking.PlanFullUpfront, 60000)

	if _, err := f.engine.SettleBookingPayment(context.Background(), b.ID, "prov1"); !errors.Is(err, booking.ErrNotParticipant) {
		t.Fatalf("err = %v, want ErrNotParticipant", err)
	}
}

func TestSettle_PendingBookingRejected(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("req1", 100000)
	ctx := context.Background()
	b, err := f.bookings.Create(ctx, booking.CreateRequest{
		RequesterID: "req1",
		ProviderID:  "prov1",
		PaymentPlan: booking.PlanFullUpfront,
		LineItems:   []booking.ServiceLineItem{{Name: "s", CatalogPriceMinor: 60000, Selected: true}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.engine.SettleBookingPayment(ctx, b.ID, "req1"); !errors.Is(err, booking.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition for unaccepted booking", err)
	}
}

func TestSettle_FailedCreditIsCompensated(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("req1", 100000)
	// Provider wallet never seeded: the credit fails with wallet.ErrNotFound.
	ctx := context.Background()
	b := f.acceptedBooking(t, booking.PlanFullUpfront, 60000)

	_, err := f.engine.SettleBookingPayment(ctx, b.ID, "req1")
	if !errors.Is(err, wallet.ErrNotFound) {
		t.Fatalf("err = %v, want the credit failure surfaced", err)
	}

	// Requester is made whole.
	if bal, _ := f.wallets.Balance(ctx, "req1"); bal != 100000 {
		t.Fatalf("requester balance = %d, want refunded 100000", bal)
	}

	txs, _ := f.ledger.ListByOwner(ctx, "req1")
	if len(txs) != 2 {
		t.Fatalf("expected payment + refund rows, got %d", len(txs))
	}
	var payment, refund *ledger.Transaction
	for i := range txs {
		if txs[i].Metadata[ledger.MetaPaymentStage] == "refund" {
			refund = &txs[i]
		} else {
			payment = &txs[i]
		}
	}
	if payment == nil || refund == nil {
		t.Fatalf("missing payment or refund row: %+v", txs)
	}
	if payment.Status != ledger.StatusFailed {
		t.Fatalf("payment status = %s, want failed", payment.Status)
	}
	if payment.Metadata[ledger.MetaFailureStage] != string(ledger.StageWalletUpdate) {
		t.Fatalf("failure stage = %q", payment.Metadata[ledger.MetaFailureStage])
	}
	if refund.Metadata[ledger.MetaRefundFor] != payment.Reference {
		t.Fatalf("refund not linked to payment: %+v", refund)
	}

	// The refund must not count as captured for the booking.
	captured, _ := f.ledger.SumCapturedForBooking(ctx, b.ID)
	if captured != 0 {
		t.Fatalf("captured = %d, want 0", captured)
	}
	got, _ := f.bookings.Get(ctx, b.ID)
	if got.FirstPaymentCompleted {
		t.Fatal("payment flag set despite compensated settlement")
	}

	// The failed attempt released its claim: once the provider wallet
	// exists the retry goes through.
	f.wallets.Seed("prov1", 0)
	if _, err := f.engine.SettleBookingPayment(ctx, b.ID, "req1"); err != nil {
		t.Fatalf("retry after compensation: %v", err)
	}
	if bal, _ := f.wallets.Balance(ctx, "prov1"); bal != 60000 {
		t.Fatalf("provider balance = %d after retry, want 60000", bal)
	}
}

// gatedWallet wraps a Store and parks the first Decrease until the gate
// opens, holding one settlement mid-saga while the test drives another.
type gatedWallet struct {
	wallet.Store
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (w *gatedWallet) Decrease(ctx context.Context, ownerID string, amountMinor int64) (int64, error) {
	w.once.Do(func() { close(w.entered) })
	<-w.gate
	return w.Store.Decrease(ctx, ownerID, amountMinor)
}

func TestSettle_ConcurrentPaymentsCaptureInstallmentOnce(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("req1", 1000000)
	f.wallets.Seed("prov1", 0)
	ctx := context.Background()
	b := f.acceptedBooking(t, booking.PlanHalf, 10000)

	gated := &gatedWallet{Store: f.wallets, entered: make(chan struct{}), gate: make(chan struct{})}
	engine := NewEngine(gated, f.ledger, f.bookings, f.gw, f.gw, f.notes, audit.NewService(f.audits), NewMetrics(nil), Config{
		MinDepositMinor:    10000,
		MinWithdrawalMinor: 10000,
	})

	firstErr := make(chan error, 1)
	go func() {
		_, err := engine.SettleBookingPayment(ctx, b.ID, "req1")
		firstErr <- err
	}()
	<-gated.entered

	// The first settlement holds the claim between reading the stage and
	// debiting; a duplicate request must bounce before touching any wallet.
	if _, err := engine.SettleBookingPayment(ctx, b.ID, "req1"); !errors.Is(err, booking.ErrInvalidTransition) {
		t.Fatalf("concurrent settlement err = %v, want ErrInvalidTransition", err)
	}

	close(gated.gate)
	if err := <-firstErr; err != nil {
		t.Fatalf("first settlement: %v", err)
	}

	captured, _ := f.ledger.SumCapturedForBooking(ctx, b.ID)
	if captured != 5000 {
		t.Fatalf("captured = %d, want the first installment exactly once", captured)
	}
	if bal, _ := f.wallets.Balance(ctx, "req1"); bal != 995000 {
		t.Fatalf("requester balance = %d, want 995000", bal)
	}
	got, _ := f.bookings.Get(ctx, b.ID)
	if !got.FirstPaymentCompleted || got.FinalPaymentCompleted {
		t.Fatalf("booking flags after first installment: %+v", got)
	}

	// The claim is released and the final installment still settles.
	final, err := engine.SettleBookingPayment(ctx, b.ID, "req1")
	if err != nil {
		t.Fatalf("final settlement: %v", err)
	}
	if final.AmountMinor != 5000 {
		t.Fatalf("final installment = %d, want 5000", final.AmountMinor)
	}
	got, _ = f.bookings.Get(ctx, b.ID)
	if got.Status != booking.StatusCompleted || !got.FinalPaymentCompleted {
		t.Fatalf("booking after final installment: %+v", got)
	}
}

// failingWallet wraps a Store and fails Increase for scripted owners.
type failingWallet struct {
	wallet.Store
	failIncrease map[string]bool
}

func (w *failingWallet) Increase(ctx context.Context, ownerID string, amountMinor int64) (int64, error) {
	if w.failIncrease[ownerID] {
		return 0, fmt.Errorf("storage offline")
	}
	return w.Store.Increase(ctx, ownerID, amountMinor)
}

func TestSettle_FailedCompensationIsInconsistent(t *testing.T) {
	f := newFixture(t)
	f.wallets.Seed("req1", 100000)
	ctx := context.Background()
	b := f.acceptedBooking(t, booking.PlanFullUpfront, 60000)

	// Both the provider credit and the requester refund fail.
	broken := &failingWallet{Store: f.wallets, failIncrease: map[string]bool{"req1": true, "prov1": true}}
	engine := NewEngine(broken, f.ledger, f.bookings, f.gw, f.gw, f.notes, audit.NewService(f.audits), NewMetrics(nil), Config{
		MinDepositMinor:    10000,
		MinWithdrawalMinor: 10000,
	})

	_, err := engine.SettleBookingPayment(ctx, b.ID, "req1")
	if !errors.Is(err, ErrInconsistent) {
		t.Fatalf("err = %v, want ErrInconsistent", err)
	}

	evs := f.audits.Events()
	if len(evs) != 1 || evs[0].Type != audit.EventTypeInconsistency {
		t.Fatalf("expected one inconsistency audit event, got %+v", evs)
	}
	if evs[0].BookingID != b.ID {
		t.Fatalf("audit event booking = %q, want %q", evs[0].BookingID, b.ID)
	}
}
