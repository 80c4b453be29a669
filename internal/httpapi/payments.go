package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"academy/internal/apperr"
	"academy/internal/auth"
	"academy/internal/gateway"
)

const maxWebhookBody = 1 << 20

func (s *server) paymentError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"success": false, "error": apperr.Message(err), "code": apperr.Code(err)})
}

func (s *server) createOrder(c *gin.Context) {
	var in struct {
		StudentID string `json:"student_id" binding:"required"`
		Amount    int64  `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		s.paymentError(c, apperr.Validation("payment.create_order", "student_id and amount are required"))
		return
	}
	if !auth.CanAccessStudent(c, in.StudentID) {
		forbidden(c)
		return
	}
	h, err := s.Payments.CreateOrder(context.WithoutCancel(c.Request.Context()), in.StudentID, in.Amount)
	if err != nil {
		s.paymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": h})
}

// verifyPayment answers 200 with success false when the payment could not be
// verified, so the checkout page can show the failure without treating it as
// a transport error.
func (s *server) verifyPayment(c *gin.Context) {
	var in gateway.CheckoutResponse
	if err := c.ShouldBindJSON(&in); err != nil {
		s.paymentError(c, apperr.Validation("payment.verify", "razorpay_order_id, razorpay_payment_id and razorpay_signature are required"))
		return
	}
	ctx := context.WithoutCancel(c.Request.Context())
	order, err := s.Payments.Order(ctx, in.OrderID)
	if err != nil {
		s.paymentError(c, err)
		return
	}
	if !auth.CanAccessStudent(c, order.StudentID) {
		forbidden(c)
		return
	}
	res, err := s.Payments.VerifyPayment(ctx, in)
	if errors.Is(err, apperr.ErrVerificationFailed) {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": apperr.Message(err), "code": apperr.Code(err)})
		return
	}
	if err != nil {
		s.paymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "duplicate": res.Duplicate, "fee_record": res.FeeRecord})
}

func (s *server) abandonOrder(c *gin.Context) {
	var in struct {
		OrderID string `json:"order_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		s.paymentError(c, apperr.Validation("payment.abandon", "order_id is required"))
		return
	}
	ctx := context.WithoutCancel(c.Request.Context())
	order, err := s.Payments.Order(ctx, in.OrderID)
	if err != nil {
		s.paymentError(c, err)
		return
	}
	if !auth.CanAccessStudent(c, order.StudentID) {
		forbidden(c)
		return
	}
	order, err = s.Payments.Abandon(ctx, in.OrderID)
	if err != nil {
		s.paymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": order.Status})
}

func (s *server) paymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		s.writeError(c, apperr.Validation("payment.webhook", "unreadable body"))
		return
	}
	err = s.Payments.HandleWebhook(context.WithoutCancel(c.Request.Context()), body, c.GetHeader("X-Razorpay-Signature"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
