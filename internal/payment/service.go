// Package payment runs the hosted-checkout protocol: create a gateway order,
// verify the signed checkout result, then record exactly one paid fee
// record per gateway payment.
package payment

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"academy/internal/apperr"
	"academy/internal/gateway"
	"academy/internal/ledger"
	"academy/internal/logger"
	"academy/internal/metrics"
	"academy/internal/model"
	"academy/internal/queue"
	"academy/internal/recordstore"
)

// Gateway is the part of the gateway client the service uses.
type Gateway interface {
	CreateOrder(ctx context.Context, in gateway.OrderRequest) (gateway.Order, error)
	FetchPayment(ctx context.Context, paymentID string) (gateway.Payment, error)
	CapturePayment(ctx context.Context, paymentID string, amount int64, currency string) (gateway.Payment, error)
	VerifyCheckout(r gateway.CheckoutResponse) bool
	VerifyWebhook(body []byte, signature string) bool
}

// OrderHandle is what the browser needs to open checkout.
type OrderHandle struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Result is the outcome of a settled payment. Duplicate is set when the
// payment had already been recorded.
type Result struct {
	FeeRecord model.FeeRecord    `json:"fee_record"`
	Order     model.PaymentOrder `json:"order"`
	Duplicate bool               `json:"duplicate"`
}

// Service coordinates orders, verification and fee records.
type Service struct {
	store    recordstore.Store
	gw       Gateway
	ledger   *ledger.Service
	queue    queue.Queue
	currency string
	log      *logger.Logger

	// per-student locks; order creation reads the balance before it writes
	students sync.Map
}

// Options configures a Service.
type Options struct {
	Store    recordstore.Store
	Gateway  Gateway
	Ledger   *ledger.Service
	Queue    queue.Queue // nil settles webhooks inline
	Currency string
	Log      *logger.Logger
}

func NewService(o Options) *Service {
	if o.Currency == "" {
		o.Currency = "INR"
	}
	return &Service{
		store:    o.Store,
		gw:       o.Gateway,
		ledger:   o.Ledger,
		queue:    o.Queue,
		currency: o.Currency,
		log:      o.Log.Named("payment"),
	}
}

// CreateOrder opens a gateway order for part or all of a student's pending
// balance and records which student it belongs to. Open orders hold their
// amount, so the orders a student can pay never add up to more than the
// balance.
func (s *Service) CreateOrder(ctx context.Context, studentID string, amount int64) (OrderHandle, error) {
	const op = "payment.create_order"
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return OrderHandle{}, apperr.Validation(op, "student_id is required")
	}
	if amount <= 0 {
		return OrderHandle{}, apperr.Validation(op, "amount must be greater than 0")
	}
	unlock := s.lockStudent(studentID)
	defer unlock()

	bal, err := s.ledger.BalanceFor(ctx, studentID)
	if err != nil {
		return OrderHandle{}, err
	}
	held, err := s.held(ctx, studentID)
	if err != nil {
		return OrderHandle{}, err
	}
	if amount > bal.Raw-held {
		metrics.PaymentOrders.WithLabelValues("rejected").Inc()
		if held > 0 {
			return OrderHandle{}, apperr.Validation(op, "amount %d exceeds pending balance %d less %d held by open orders; abandon them to release it",
				amount, bal.Pending, held)
		}
		return OrderHandle{}, apperr.Validation(op, "amount %d exceeds pending balance %d", amount, bal.Pending)
	}

	receipt := "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	o, err := s.gw.CreateOrder(ctx, gateway.OrderRequest{
		Amount:   amount,
		Currency: s.currency,
		Receipt:  receipt,
		Notes:    map[string]string{"student_id": studentID},
	})
	if err != nil {
		metrics.PaymentOrders.WithLabelValues("gateway_error").Inc()
		return OrderHandle{}, err
	}

	order, err := recordstore.InsertAs(ctx, s.store, recordstore.PaymentOrders, model.PaymentOrder{
		ID:        o.ID,
		StudentID: studentID,
		Amount:    o.Amount,
		Currency:  o.Currency,
		Receipt:   receipt,
		Status:    model.OrderCreated,
	})
	if err != nil {
		metrics.PaymentOrders.WithLabelValues("store_error").Inc()
		return OrderHandle{}, err
	}
	if _, err := s.transition(ctx, order, model.OrderAwaitingClient, nil); err != nil {
		// the order stays usable in created
		s.log.Warnf("order %s: mark awaiting client: %v", order.ID, err)
	}
	metrics.PaymentOrders.WithLabelValues("created").Inc()
	s.log.Infof("order %s created for student %s amount %d", order.ID, studentID, order.Amount)
	return OrderHandle{ID: order.ID, Amount: order.Amount, Currency: order.Currency}, nil
}

// held sums the orders of a student that can still be paid through checkout.
func (s *Service) held(ctx context.Context, studentID string) (int64, error) {
	orders, err := recordstore.ReadAs[model.PaymentOrder](ctx, s.store, recordstore.PaymentOrders, recordstore.Filter{"student_id": studentID})
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, o := range orders {
		if Open(o.Status) {
			sum += o.Amount
		}
	}
	return sum, nil
}

func (s *Service) lockStudent(id string) func() {
	v, _ := s.students.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// VerifyPayment checks the checkout signature and, when it holds, records
// the payment. A signature mismatch or a payment the gateway does not
// confirm for this order writes no fee record.
func (s *Service) VerifyPayment(ctx context.Context, r gateway.CheckoutResponse) (Result, error) {
	const op = "payment.verify"
	if r.OrderID == "" || r.PaymentID == "" || r.Signature == "" {
		return Result{}, apperr.Validation(op, "razorpay_order_id, razorpay_payment_id and razorpay_signature are required")
	}
	order, err := s.order(ctx, r.OrderID)
	if err != nil {
		return Result{}, err
	}
	if !s.gw.VerifyCheckout(r) {
		metrics.PaymentSettlements.WithLabelValues("checkout", "verification_failed").Inc()
		s.fail(ctx, order, "signature mismatch")
		return Result{}, apperr.VerificationFailed(op, "payment signature mismatch")
	}
	return s.settle(ctx, order, r.PaymentID, "checkout")
}

// RecordCaptured records a payment reported by a verified webhook.
func (s *Service) RecordCaptured(ctx context.Context, orderID, paymentID string) (Result, error) {
	if orderID == "" || paymentID == "" {
		return Result{}, apperr.Validation("payment.record_captured", "order and payment ids are required")
	}
	order, err := s.order(ctx, orderID)
	if err != nil {
		return Result{}, err
	}
	return s.settle(ctx, order, paymentID, "webhook")
}

// Abandon closes an order whose checkout was dismissed. Abandoning twice is
// a no-op; a persisted or failed order cannot be abandoned.
func (s *Service) Abandon(ctx context.Context, orderID string) (model.PaymentOrder, error) {
	order, err := s.order(ctx, orderID)
	if err != nil {
		return model.PaymentOrder{}, err
	}
	if order.Status == model.OrderAbandoned {
		return order, nil
	}
	if !CanTransition(order.Status, model.OrderAbandoned) {
		return model.PaymentOrder{}, apperr.Conflict("payment.abandon", "order %s is %s", order.ID, order.Status)
	}
	return s.transition(ctx, order, model.OrderAbandoned, nil)
}

// Order returns a stored order.
func (s *Service) Order(ctx context.Context, orderID string) (model.PaymentOrder, error) {
	return s.order(ctx, orderID)
}

func (s *Service) order(ctx context.Context, orderID string) (model.PaymentOrder, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return model.PaymentOrder{}, apperr.Validation("payment", "order id is required")
	}
	return recordstore.GetAs[model.PaymentOrder](ctx, s.store, recordstore.PaymentOrders, orderID)
}

// settle confirms the payment with the gateway and writes the fee record.
// The unique payment_id makes concurrent or repeated settlement safe: the
// loser of the insert race reads back the winner's record.
func (s *Service) settle(ctx context.Context, order model.PaymentOrder, paymentID, source string) (Result, error) {
	const op = "payment.settle"
	p, err := s.gw.FetchPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, apperr.ErrUpstream) {
			metrics.PaymentSettlements.WithLabelValues(source, "upstream_error").Inc()
			return Result{}, err
		}
		metrics.PaymentSettlements.WithLabelValues(source, "verification_failed").Inc()
		s.fail(ctx, order, "payment lookup rejected")
		return Result{}, apperr.VerificationFailed(op, "payment %s could not be confirmed", paymentID)
	}
	if p.OrderID != order.ID {
		metrics.PaymentSettlements.WithLabelValues(source, "verification_failed").Inc()
		s.fail(ctx, order, "payment belongs to order "+p.OrderID)
		return Result{}, apperr.VerificationFailed(op, "payment %s does not belong to order %s", paymentID, order.ID)
	}
	if p.Capturable() {
		captured, err := s.capture(ctx, p)
		switch {
		case err == nil:
			p = captured
		case errors.Is(err, apperr.ErrUpstream):
			metrics.PaymentSettlements.WithLabelValues(source, "upstream_error").Inc()
			return Result{}, err
		default:
			s.log.Warnf("payment %s: capture rejected: %v", p.ID, err)
		}
	}
	if !p.Settled() {
		metrics.PaymentSettlements.WithLabelValues(source, "verification_failed").Inc()
		s.fail(ctx, order, "payment status "+p.Status)
		return Result{}, apperr.VerificationFailed(op, "payment %s is %s", paymentID, p.Status)
	}
	if p.Amount != order.Amount {
		s.log.Warnf("order %s: gateway amount %d differs from order amount %d; recording gateway amount", order.ID, p.Amount, order.Amount)
	}

	res := Result{}
	rec, err := recordstore.InsertAs(ctx, s.store, recordstore.FeeRecords, model.FeeRecord{
		StudentID: order.StudentID,
		Amount:    p.Amount,
		Status:    model.FeePaid,
		PaymentID: model.Ptr(p.ID),
		OrderID:   model.Ptr(order.ID),
	})
	switch {
	case err == nil:
		res.FeeRecord = rec
	case errors.Is(err, apperr.ErrConflict):
		existing, rerr := recordstore.ReadAs[model.FeeRecord](ctx, s.store, recordstore.FeeRecords, recordstore.Filter{"payment_id": p.ID})
		if rerr != nil {
			return Result{}, rerr
		}
		if len(existing) == 0 {
			return Result{}, err
		}
		res.FeeRecord = existing[0]
		res.Duplicate = true
	default:
		metrics.PaymentSettlements.WithLabelValues(source, "store_error").Inc()
		return Result{}, err
	}

	res.Order = order
	if order.Status != model.OrderPersisted {
		updated, err := s.transition(ctx, order, model.OrderPersisted, &p.ID)
		if err != nil {
			// the fee record is the source of truth; the order status catches up on retry
			s.log.Errorf("order %s: mark persisted: %v", order.ID, err)
		} else {
			res.Order = updated
		}
	}

	result := "persisted"
	if res.Duplicate {
		result = "duplicate"
	}
	metrics.PaymentSettlements.WithLabelValues(source, result).Inc()
	s.log.Infof("payment %s for order %s %s (student %s, amount %d)", p.ID, order.ID, result, order.StudentID, p.Amount)
	return res, nil
}

// capture takes the money of an authorized payment. A capture rejected
// because another settler got there first is confirmed by fetching again.
func (s *Service) capture(ctx context.Context, p gateway.Payment) (gateway.Payment, error) {
	captured, err := s.gw.CapturePayment(ctx, p.ID, p.Amount, p.Currency)
	if err == nil {
		s.log.Infof("payment %s captured", p.ID)
		return captured, nil
	}
	if errors.Is(err, apperr.ErrUpstream) {
		return gateway.Payment{}, err
	}
	again, ferr := s.gw.FetchPayment(ctx, p.ID)
	if ferr != nil {
		return gateway.Payment{}, ferr
	}
	if !again.Settled() {
		return gateway.Payment{}, err
	}
	return again, nil
}

// fail moves an order to verification_failed when the machine allows it.
func (s *Service) fail(ctx context.Context, order model.PaymentOrder, reason string) {
	s.log.Warnf("order %s: verification failed: %s", order.ID, reason)
	if !CanTransition(order.Status, model.OrderVerificationFailed) {
		return
	}
	if _, err := s.transition(ctx, order, model.OrderVerificationFailed, nil); err != nil {
		s.log.Errorf("order %s: mark verification failed: %v", order.ID, err)
	}
}

func (s *Service) transition(ctx context.Context, order model.PaymentOrder, to model.OrderStatus, paymentID *string) (model.PaymentOrder, error) {
	if !CanTransition(order.Status, to) {
		return model.PaymentOrder{}, apperr.Conflict("payment.transition", "order %s cannot move from %s to %s", order.ID, order.Status, to)
	}
	patch := recordstore.Patch{"status": string(to)}
	if paymentID != nil {
		patch["payment_id"] = *paymentID
	}
	return recordstore.UpdateAs[model.PaymentOrder](ctx, s.store, recordstore.PaymentOrders, order.ID, patch)
}
