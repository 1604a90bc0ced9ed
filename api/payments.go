package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/templeseva/darshan/internal/domain"
	"github.com/templeseva/darshan/internal/service/booking"
	"github.com/templeseva/darshan/internal/service/settlement"
)

type PaymentHandler struct {
	service  settlement.SettlementUseCase
	bookings booking.BookingUseCase
	log      logrus.FieldLogger
}

func NewPaymentHandler(service settlement.SettlementUseCase, bookings booking.BookingUseCase, log logrus.FieldLogger) *PaymentHandler {
	return &PaymentHandler{service: service, bookings: bookings, log: log}
}

func (h *PaymentHandler) Register(router *gin.RouterGroup, auth gin.HandlerFunc) {
	r := router.Group("", auth)
	r.POST("/create-order", h.createOrder)
	r.POST("/verify", h.verify)
	r.GET("/:id/status", h.status)
	r.POST("/:id/refund", RequireRole(RoleStaff, RoleAdmin), h.refund)
}

func (h *PaymentHandler) createOrder(c *gin.Context) {
	var req settlement.CreateOrderInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.BookingID != "" && !h.mayPay(c, req.BookingID) {
		return
	}

	order, err := h.service.CreateOrder(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *PaymentHandler) verify(c *gin.Context) {
	var req settlement.VerifyInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.BookingID != "" && !h.mayPay(c, req.BookingID) {
		return
	}

	result, err := h.service.VerifyPayment(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	resp := gin.H{"verified": result.Verified, "payment": result.Payment}
	if result.Booking != nil {
		resp["booking"] = newBookingResponse(result.Booking)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *PaymentHandler) status(c *gin.Context) {
	p, err := h.service.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *PaymentHandler) refund(c *gin.Context) {
	var req settlement.RefundInput
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	r, err := h.service.Refund(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// mayPay reports whether the caller owns bookingID or is staff.
func (h *PaymentHandler) mayPay(c *gin.Context, bookingID string) bool {
	b, err := h.bookings.GetBooking(c.Request.Context(), bookingID)
	if err != nil {
		writeError(c, h.log, err)
		return false
	}
	caller := callerFrom(c)
	if b.UserID != caller.UserID && !caller.IsStaff() {
		writeError(c, h.log, domain.ErrNotFound)
		return false
	}
	return true
}
