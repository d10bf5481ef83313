// Package service orchestrates the purchase saga across the reservation
// ledger, the write-ahead log, the payment gateways, and the write buffer.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/flashsale/internal/domain"
	"github.com/utafrali/flashsale/internal/event"
	"github.com/utafrali/flashsale/internal/gateway"
	"github.com/utafrali/flashsale/internal/ledger"
	apperrors "github.com/utafrali/flashsale/pkg/errors"
)

// WALWriter is the slice of the write-ahead log the saga needs.
type WALWriter interface {
	Append(ctx context.Context, op domain.WALOperation, tableName, transactionID string, before, after []byte) (*domain.WALEntry, error)
	AppendLinked(ctx context.Context, op domain.WALOperation, tableName, transactionID, relatedLogID string, before, after []byte) (*domain.WALEntry, error)
	UpdateStatus(ctx context.Context, logID string, status domain.WALStatus, message string) error
}

// CommandQueue accepts deferred database writes.
type CommandQueue interface {
	Enqueue(ctx context.Context, cmd *domain.WriteCommand) error
}

// GatewaySelector resolves a payment gateway for a payment method.
type GatewaySelector interface {
	ForMethod(method string) (gateway.PaymentGateway, error)
}

// PurchaseStatus is the caller-facing outcome of a purchase attempt.
type PurchaseStatus string

const (
	PurchaseCompleted PurchaseStatus = "COMPLETED"
	PurchaseDeclined  PurchaseStatus = "DECLINED"
)

// Decline reasons beyond the ledger's own codes.
const (
	ReasonPaymentDeclined    = "PAYMENT_DECLINED"
	ReasonGatewayUnavailable = "GATEWAY_UNAVAILABLE"
)

// ReasonIdempotentReplay marks a completed result returned for a retry of a
// purchase that already went through.
const ReasonIdempotentReplay = "IDEMPOTENT_REPLAY"

// PurchaseInput describes one purchase attempt. IdempotencyKey, when set,
// becomes the reservation ID so retries of the same attempt do not double-hold
// stock.
type PurchaseInput struct {
	ResourceKey    string
	UserID         string
	Quantity       int64
	Amount         int64
	Currency       string
	PaymentMethod  string
	IdempotencyKey string
}

// PurchaseResult is the outcome returned to the caller. A declined purchase
// is a normal result; errors mean the attempt could not be judged.
type PurchaseResult struct {
	Status        PurchaseStatus `json:"status"`
	Reason        string         `json:"reason,omitempty"`
	ReservationID string         `json:"reservation_id"`
	OrderID       string         `json:"order_id,omitempty"`
	PaymentID     string         `json:"payment_id,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Remaining     int64          `json:"remaining"`
}

// Completed reports whether the purchase went through.
func (r *PurchaseResult) Completed() bool { return r.Status == PurchaseCompleted }

// PurchaseConfig tunes the saga.
type PurchaseConfig struct {
	// ReservationTTL bounds how long a hold survives without confirmation.
	ReservationTTL time.Duration
}

// DefaultPurchaseConfig returns the production saga settings.
func DefaultPurchaseConfig() PurchaseConfig {
	return PurchaseConfig{ReservationTTL: 5 * time.Minute}
}

// PurchaseService runs the purchase saga:
//
//	reserve -> record intent -> authorize -> finalize -> notify
//
// Stock is held before payment, the intent is durable before the gateway is
// called, and every non-terminal failure path releases the hold.
type PurchaseService struct {
	cfg      PurchaseConfig
	ledger   ledger.Ledger
	wal      WALWriter
	queue    CommandQueue
	gateways GatewaySelector
	events   event.Publisher
	logger   *slog.Logger
}

// NewPurchaseService wires the saga dependencies.
func NewPurchaseService(
	cfg PurchaseConfig,
	led ledger.Ledger,
	wal WALWriter,
	queue CommandQueue,
	gateways GatewaySelector,
	events event.Publisher,
	logger *slog.Logger,
) *PurchaseService {
	if events == nil {
		events = event.Nop{}
	}
	return &PurchaseService{
		cfg:      cfg,
		ledger:   led,
		wal:      wal,
		queue:    queue,
		gateways: gateways,
		events:   events,
		logger:   logger,
	}
}

// ProcessPurchase executes the full saga for one purchase attempt.
func (s *PurchaseService) ProcessPurchase(ctx context.Context, input PurchaseInput) (*PurchaseResult, error) {
	start := time.Now()
	defer func() { purchaseDuration.Observe(time.Since(start).Seconds()) }()

	if input.Quantity <= 0 {
		return nil, apperrors.InvalidInput("quantity must be positive")
	}
	if input.Amount <= 0 {
		return nil, apperrors.InvalidInput("amount must be positive")
	}

	reservationID := input.IdempotencyKey
	if reservationID == "" {
		reservationID = uuid.New().String()
	}
	transactionID := uuid.New().String()

	// Phase 1: hold the stock. A rejection here is a plain decline with no
	// compensation to run.
	outcome, err := s.ledger.Reserve(ctx, input.ResourceKey, input.Quantity, reservationID, s.cfg.ReservationTTL)
	if err != nil {
		return nil, apperrors.Wrap(err, "reserve stock")
	}
	if !outcome.ReserveOK() {
		// A confirmed reservation under the same idempotency key means this
		// exact purchase already completed; report that, not a decline.
		if outcome.Code == ledger.CodeAlreadyConfirmed {
			purchasesTotal.WithLabelValues("replayed").Inc()
			return &PurchaseResult{
				Status:        PurchaseCompleted,
				Reason:        ReasonIdempotentReplay,
				ReservationID: reservationID,
				Remaining:     outcome.Available,
			}, nil
		}
		purchasesTotal.WithLabelValues("declined").Inc()
		return &PurchaseResult{
			Status:        PurchaseDeclined,
			Reason:        string(outcome.Code),
			ReservationID: reservationID,
			Remaining:     outcome.Available,
		}, nil
	}

	// Phase 2: durable intent before any money moves. A failed append aborts
	// the purchase; proceeding without the log would leave a crash
	// unrecoverable.
	intent := domain.PurchaseIntent{
		ReservationID: reservationID,
		ResourceKey:   input.ResourceKey,
		UserID:        input.UserID,
		OrderID:       uuid.New().String(),
		Quantity:      input.Quantity,
		Amount:        input.Amount,
		Currency:      input.Currency,
		PaymentMethod: input.PaymentMethod,
	}
	intentJSON, err := json.Marshal(intent)
	if err != nil {
		s.releaseHold(ctx, input, reservationID)
		return nil, apperrors.Internal(fmt.Errorf("encode purchase intent: %w", err))
	}

	entry, err := s.wal.Append(ctx, domain.WALInsert, domain.IntentTableName, transactionID, nil, intentJSON)
	if err != nil {
		s.releaseHold(ctx, input, reservationID)
		purchasesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	// The IN_PROGRESS transition must land before the gateway call: the
	// recovery sweep auto-cancels PENDING intents, and doing that to a
	// captured payment would hand out refunds for delivered stock.
	if err := s.wal.UpdateStatus(ctx, entry.LogID, domain.WALInProgress, ""); err != nil {
		s.releaseHold(ctx, input, reservationID)
		s.failEntry(ctx, entry.LogID, "aborted before authorization: "+err.Error())
		purchasesTotal.WithLabelValues("failed").Inc()
		return nil, apperrors.Wrap(err, "mark intent in progress")
	}

	// Phase 3: authorize. The payment phase gets its own WAL entry linked to
	// the intent, so FindByTransaction reconstructs both phases of the saga.
	// No lock or transaction is held across the gateway call.
	attempt := domain.PaymentAttempt{
		ReservationID: reservationID,
		OrderID:       intent.OrderID,
		TransactionID: transactionID,
		Amount:        input.Amount,
		Currency:      input.Currency,
		PaymentMethod: input.PaymentMethod,
	}
	attemptJSON, err := json.Marshal(attempt)
	if err != nil {
		s.releaseHold(ctx, input, reservationID)
		s.failEntry(ctx, entry.LogID, "aborted before authorization: "+err.Error())
		purchasesTotal.WithLabelValues("failed").Inc()
		return nil, apperrors.Internal(fmt.Errorf("encode payment attempt: %w", err))
	}
	payEntry, err := s.wal.AppendLinked(ctx, domain.WALInsert, domain.PaymentTableName, transactionID, entry.LogID, nil, attemptJSON)
	if err != nil {
		s.releaseHold(ctx, input, reservationID)
		s.failEntry(ctx, entry.LogID, "aborted before authorization: "+err.Error())
		purchasesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	authResult, declineReason, err := s.authorize(ctx, transactionID, intent)
	if err != nil {
		s.releaseHold(ctx, input, reservationID)
		s.failEntry(ctx, payEntry.LogID, "authorization error: "+err.Error())
		s.failEntry(ctx, entry.LogID, "authorization error: "+err.Error())
		purchasesTotal.WithLabelValues("declined").Inc()
		s.notifyPaymentFailed(ctx, intent, transactionID, declineReason)
		return &PurchaseResult{
			Status:        PurchaseDeclined,
			Reason:        declineReason,
			ReservationID: reservationID,
			Remaining:     outcome.Available,
		}, nil
	}
	if !authResult.Authorized() {
		s.releaseHold(ctx, input, reservationID)
		s.failEntry(ctx, payEntry.LogID, "payment declined: "+authResult.Reason)
		s.failEntry(ctx, entry.LogID, "payment declined: "+authResult.Reason)
		purchasesTotal.WithLabelValues("declined").Inc()
		s.notifyPaymentFailed(ctx, intent, transactionID, authResult.Reason)
		return &PurchaseResult{
			Status:        PurchaseDeclined,
			Reason:        ReasonPaymentDeclined,
			ReservationID: reservationID,
			TransactionID: transactionID,
			Remaining:     outcome.Available,
		}, nil
	}

	// The money has moved; the payment-phase entry is settled regardless of
	// how finalization goes.
	if err := s.wal.UpdateStatus(ctx, payEntry.LogID, domain.WALCommitted, ""); err != nil {
		s.logger.WarnContext(ctx, "payment authorized but wal status update failed",
			slog.String("log_id", payEntry.LogID),
			slog.String("error", err.Error()),
		)
	}

	// Phase 4: finalize. The payment is captured; from here the user gets a
	// success even if our own bookkeeping lags, and the WAL entry stays
	// IN_PROGRESS so the recovery sweep surfaces it for review.
	result := &PurchaseResult{
		Status:        PurchaseCompleted,
		ReservationID: reservationID,
		OrderID:       intent.OrderID,
		TransactionID: transactionID,
	}

	confirm, err := s.ledger.Confirm(ctx, input.ResourceKey, input.Quantity, reservationID)
	if err != nil || !confirm.ConfirmOK() {
		s.finalizeFailure(ctx, entry.LogID, intent, transactionID, "confirm hold", err, confirm.Code)
		purchasesTotal.WithLabelValues("completed").Inc()
		return result, nil
	}
	result.Remaining = confirm.Available

	order, payment := s.buildRecords(intent, transactionID, authResult)
	result.PaymentID = payment.ID

	if err := s.enqueueRecords(ctx, order, payment, reservationID, input); err != nil {
		s.finalizeFailure(ctx, entry.LogID, intent, transactionID, "enqueue records", err, "")
		purchasesTotal.WithLabelValues("completed").Inc()
		return result, nil
	}

	if err := s.wal.UpdateStatus(ctx, entry.LogID, domain.WALCommitted, ""); err != nil {
		s.logger.WarnContext(ctx, "purchase committed but wal status update failed",
			slog.String("log_id", entry.LogID),
			slog.String("error", err.Error()),
		)
	}

	purchasesTotal.WithLabelValues("completed").Inc()

	// Phase 5: notify. Best effort only.
	s.publishSafe(ctx, "payment_processed", func() error { return s.events.PaymentProcessed(ctx, payment) })
	s.publishSafe(ctx, "order_completed", func() error { return s.events.OrderCompleted(ctx, order) })

	return result, nil
}

// authorize resolves the gateway for the intent's payment method and runs the
// charge. The returned string is the decline reason used when err is non-nil.
func (s *PurchaseService) authorize(ctx context.Context, transactionID string, intent domain.PurchaseIntent) (*gateway.Result, string, error) {
	gw, err := s.gateways.ForMethod(intent.PaymentMethod)
	if err != nil {
		return nil, ReasonGatewayUnavailable, fmt.Errorf("select gateway for %s: %w", intent.PaymentMethod, err)
	}

	result, err := gw.Authorize(ctx, gateway.Request{
		TransactionID: transactionID,
		OrderID:       intent.OrderID,
		UserID:        intent.UserID,
		Amount:        intent.Amount,
		Currency:      intent.Currency,
		Method:        intent.PaymentMethod,
	})
	if err != nil {
		return nil, ReasonGatewayUnavailable, fmt.Errorf("authorize via %s: %w", gw.Name(), err)
	}
	return result, "", nil
}

// releaseHold is the saga's compensation step: return the held units to the
// pool. Failures are logged; the reservation TTL is the backstop.
func (s *PurchaseService) releaseHold(ctx context.Context, input PurchaseInput, reservationID string) {
	outcome, err := s.ledger.Cancel(ctx, input.ResourceKey, input.Quantity, reservationID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to release reservation, ttl will reclaim it",
			slog.String("reservation_id", reservationID),
			slog.String("resource", input.ResourceKey),
			slog.String("error", err.Error()),
		)
		return
	}
	if !outcome.CancelOK() {
		s.logger.WarnContext(ctx, "reservation release rejected",
			slog.String("reservation_id", reservationID),
			slog.String("code", string(outcome.Code)),
		)
	}
}

func (s *PurchaseService) failEntry(ctx context.Context, logID, message string) {
	if err := s.wal.UpdateStatus(ctx, logID, domain.WALFailed, message); err != nil {
		s.logger.WarnContext(ctx, "failed to mark wal entry failed",
			slog.String("log_id", logID),
			slog.String("error", err.Error()),
		)
	}
}

// finalizeFailure records a purchase whose payment succeeded but whose
// bookkeeping did not. The WAL entry is left IN_PROGRESS on purpose: the
// recovery sweep flags it for manual review instead of auto-undoing a
// captured payment.
func (s *PurchaseService) finalizeFailure(ctx context.Context, logID string, intent domain.PurchaseIntent, transactionID, step string, err error, code ledger.Code) {
	finalizeFailuresTotal.Inc()
	attrs := []any{
		slog.String("log_id", logID),
		slog.String("step", step),
		slog.String("reservation_id", intent.ReservationID),
		slog.String("order_id", intent.OrderID),
		slog.String("transaction_id", transactionID),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if code != "" {
		attrs = append(attrs, slog.String("code", string(code)))
	}
	s.logger.ErrorContext(ctx, "CRITICAL: payment captured but finalization failed, manual review required", attrs...)
}

func (s *PurchaseService) buildRecords(intent domain.PurchaseIntent, transactionID string, auth *gateway.Result) (*domain.Order, *domain.Payment) {
	now := time.Now().UTC()
	order := &domain.Order{
		ID:            intent.OrderID,
		UserID:        intent.UserID,
		ResourceKey:   intent.ResourceKey,
		ReservationID: intent.ReservationID,
		Quantity:      intent.Quantity,
		Amount:        intent.Amount,
		Currency:      intent.Currency,
		Status:        domain.OrderCompleted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	payment := &domain.Payment{
		ID:            uuid.New().String(),
		OrderID:       intent.OrderID,
		TransactionID: transactionID,
		Method:        intent.PaymentMethod,
		Gateway:       auth.ProviderRef,
		Amount:        intent.Amount,
		Currency:      intent.Currency,
		Status:        domain.PaymentCompleted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return order, payment
}

func (s *PurchaseService) enqueueRecords(ctx context.Context, order *domain.Order, payment *domain.Payment, reservationID string, input PurchaseInput) error {
	reservation := &domain.Reservation{
		ID:          reservationID,
		ResourceKey: input.ResourceKey,
		UserID:      input.UserID,
		Quantity:    input.Quantity,
		State:       domain.ReservationConfirmed,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.enqueue(ctx, domain.CommandCreateOrder, order); err != nil {
		return err
	}
	if err := s.enqueue(ctx, domain.CommandCreatePayment, payment); err != nil {
		return err
	}
	return s.enqueue(ctx, domain.CommandSaveReservation, reservation)
}

func (s *PurchaseService) enqueue(ctx context.Context, typ domain.CommandType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return s.queue.Enqueue(ctx, &domain.WriteCommand{
		CommandID: uuid.New().String(),
		Type:      typ,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *PurchaseService) notifyPaymentFailed(ctx context.Context, intent domain.PurchaseIntent, transactionID, reason string) {
	payment := &domain.Payment{
		ID:            uuid.New().String(),
		OrderID:       intent.OrderID,
		TransactionID: transactionID,
		Method:        intent.PaymentMethod,
		Amount:        intent.Amount,
		Currency:      intent.Currency,
		Status:        domain.PaymentFailed,
		FailureReason: reason,
	}
	s.publishSafe(ctx, "payment_failed", func() error { return s.events.PaymentFailed(ctx, payment) })
}

func (s *PurchaseService) publishSafe(ctx context.Context, name string, fn func() error) {
	if err := fn(); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			slog.String("event", name),
			slog.String("error", err.Error()),
		)
	}
}

// ReserveOnly places a hold without running a payment. Used by clients that
// split reservation and checkout.
func (s *PurchaseService) ReserveOnly(ctx context.Context, resourceKey, userID string, qty int64, reservationID string) (*domain.Reservation, ledger.Outcome, error) {
	if qty <= 0 {
		return nil, ledger.Outcome{}, apperrors.InvalidInput("quantity must be positive")
	}
	if reservationID == "" {
		reservationID = uuid.New().String()
	}

	outcome, err := s.ledger.Reserve(ctx, resourceKey, qty, reservationID, s.cfg.ReservationTTL)
	if err != nil {
		return nil, ledger.Outcome{}, apperrors.Wrap(err, "reserve stock")
	}
	if !outcome.ReserveOK() {
		return nil, outcome, nil
	}

	now := time.Now().UTC()
	reservation := &domain.Reservation{
		ID:          reservationID,
		ResourceKey: resourceKey,
		UserID:      userID,
		Quantity:    qty,
		State:       domain.ReservationReserved,
		ExpiresAt:   now.Add(s.cfg.ReservationTTL),
		CreatedAt:   now,
	}

	if err := s.enqueue(ctx, domain.CommandSaveReservation, reservation); err != nil {
		s.logger.WarnContext(ctx, "failed to enqueue reservation audit record",
			slog.String("reservation_id", reservationID),
			slog.String("error", err.Error()),
		)
	}
	s.publishSafe(ctx, "reservation_created", func() error { return s.events.ReservationCreated(ctx, reservation) })

	return reservation, outcome, nil
}

// CancelReservation releases a hold placed via ReserveOnly.
func (s *PurchaseService) CancelReservation(ctx context.Context, reservationID string) (ledger.Outcome, error) {
	resv, err := s.ledger.Reservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, ledger.ErrReservationNotFound) {
			return ledger.Outcome{}, apperrors.NotFound("reservation", reservationID)
		}
		return ledger.Outcome{}, apperrors.Wrap(err, "load reservation")
	}

	outcome, err := s.ledger.Cancel(ctx, resv.ResourceKey, resv.Quantity, reservationID)
	if err != nil {
		return ledger.Outcome{}, apperrors.Wrap(err, "cancel reservation")
	}
	if !outcome.CancelOK() {
		return outcome, nil
	}

	resv.State = domain.ReservationCancelled
	if err := s.enqueue(ctx, domain.CommandSaveReservation, &resv); err != nil {
		s.logger.WarnContext(ctx, "failed to enqueue reservation audit record",
			slog.String("reservation_id", reservationID),
			slog.String("error", err.Error()),
		)
	}
	s.publishSafe(ctx, "reservation_cancelled", func() error { return s.events.ReservationCancelled(ctx, &resv) })

	return outcome, nil
}

// ReservationStatus reads the live reservation record from the ledger.
func (s *PurchaseService) ReservationStatus(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	resv, err := s.ledger.Reservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, ledger.ErrReservationNotFound) {
			return nil, apperrors.NotFound("reservation", reservationID)
		}
		return nil, apperrors.Wrap(err, "load reservation")
	}
	return &resv, nil
}
