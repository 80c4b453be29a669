package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"academy/internal/apperr"
	"academy/internal/gateway"
	"academy/internal/logger"
	"academy/internal/metrics"
	"academy/internal/queue"
)

// CapturedType is the queue message type of a verified capture.
const CapturedType = "payment.captured"

// Captured is the body of a CapturedType message.
type Captured struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
}

// HandleWebhook authenticates a webhook delivery and hands captured
// payments to the worker. Without a queue the capture is settled inline.
// Events other than captures are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	const op = "payment.webhook"
	if !s.gw.VerifyWebhook(body, signature) {
		metrics.Webhooks.WithLabelValues("unknown", "bad_signature").Inc()
		return apperr.VerificationFailed(op, "webhook signature mismatch")
	}
	w, err := gateway.ParseWebhook(body)
	if err != nil {
		metrics.Webhooks.WithLabelValues("unknown", "invalid").Inc()
		return apperr.Validation(op, "%v", err)
	}

	switch w.Event {
	case gateway.EventPaymentCaptured, gateway.EventPaymentAuthorized:
	case gateway.EventPaymentFailed:
		if p, ok := w.Payment(); ok {
			s.log.Infof("payment %s for order %s failed at the gateway", p.ID, p.OrderID)
		}
		metrics.Webhooks.WithLabelValues(w.Event, "ignored").Inc()
		return nil
	default:
		metrics.Webhooks.WithLabelValues(w.Event, "ignored").Inc()
		return nil
	}

	p, ok := w.Payment()
	if !ok || p.ID == "" || p.OrderID == "" {
		metrics.Webhooks.WithLabelValues(w.Event, "invalid").Inc()
		return apperr.Validation(op, "%s without payment entity", w.Event)
	}
	msg := Captured{PaymentID: p.ID, OrderID: p.OrderID}

	if s.queue == nil {
		_, err := s.RecordCaptured(ctx, msg.OrderID, msg.PaymentID)
		if err != nil {
			metrics.Webhooks.WithLabelValues(w.Event, apperr.Code(err)).Inc()
			return err
		}
		metrics.Webhooks.WithLabelValues(w.Event, "settled").Inc()
		return nil
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.queue.Publish(ctx, queue.Message{Type: CapturedType, Body: raw}); err != nil {
		metrics.Webhooks.WithLabelValues(w.Event, "enqueue_failed").Inc()
		return apperr.Upstream(op, err)
	}
	metrics.Webhooks.WithLabelValues(w.Event, "queued").Inc()
	s.log.Debugf("queued %s for payment %s", w.Event, p.ID)
	return nil
}

// Worker settles queued captures. Retryable failures go back on the queue
// until MaxAttempts.
type Worker struct {
	svc         *Service
	q           queue.Queue
	log         *logger.Logger
	maxAttempts int
	retryDelay  time.Duration
}

func NewWorker(svc *Service, q queue.Queue, maxAttempts int, log *logger.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Worker{svc: svc, q: q, log: log.Named("payment-worker"), maxAttempts: maxAttempts, retryDelay: time.Second}
}

// Run consumes until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	msgs, err := w.q.Consume(ctx)
	if err != nil {
		return err
	}
	w.log.Infof("worker started (max attempts %d)", w.maxAttempts)
	for {
		select {
		case <-ctx.Done():
			w.log.Infof("worker stopping")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			w.Process(ctx, msg)
		}
	}
}

// Process handles one message and reports whether it was settled.
func (w *Worker) Process(ctx context.Context, msg queue.Message) bool {
	if msg.Type != CapturedType {
		w.log.Warnf("dropping message of unknown type %q", msg.Type)
		return false
	}
	var c Captured
	if err := json.Unmarshal(msg.Body, &c); err != nil {
		w.log.Warnf("dropping undecodable capture: %v", err)
		return false
	}

	res, err := w.svc.RecordCaptured(context.WithoutCancel(ctx), c.OrderID, c.PaymentID)
	if err == nil {
		if res.Duplicate {
			w.log.Debugf("payment %s already recorded", c.PaymentID)
		}
		return true
	}
	if !errors.Is(err, apperr.ErrUpstream) {
		w.log.Errorf("payment %s for order %s: %v", c.PaymentID, c.OrderID, err)
		return false
	}

	msg.Attempts++
	if msg.Attempts >= w.maxAttempts {
		w.log.Errorf("payment %s for order %s: giving up after %d attempts: %v", c.PaymentID, c.OrderID, msg.Attempts, err)
		return false
	}
	w.log.Warnf("payment %s for order %s: attempt %d failed, requeueing: %v", c.PaymentID, c.OrderID, msg.Attempts, err)
	select {
	case <-time.After(w.retryDelay * time.Duration(msg.Attempts)):
	case <-ctx.Done():
	}
	if err := w.q.Publish(context.WithoutCancel(ctx), msg); err != nil {
		w.log.Errorf("requeue payment %s: %v", c.PaymentID, err)
	}
	return false
}
