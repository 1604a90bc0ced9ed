package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/templeseva/darshan/internal/domain"
	"github.com/templeseva/darshan/internal/repository"
	"github.com/templeseva/darshan/internal/service/booking"
)

type BookingHandler struct {
	service booking.BookingUseCase
	log     logrus.FieldLogger
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type checkInRequest struct {
	Ticket string `json:"ticket"`
}

type timeSlotResponse struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type visitorsResponse struct {
	Adults   int `json:"adults"`
	Children int `json:"children"`
	Seniors  int `json:"seniors"`
	Total    int `json:"total"`
}

type contactResponse struct {
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	Email           string `json:"email"`
	SpecialRequests string `json:"specialRequests,omitempty"`
}

type paymentResponse struct {
	Method        string `json:"method"`
	Status        string `json:"status"`
	OrderID       string `json:"orderId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

type bookingResponse struct {
	ID                 string           `json:"id"`
	TempleID           string           `json:"templeId"`
	UserID             string           `json:"userId"`
	VisitDate          string           `json:"visitDate"`
	TimeSlot           timeSlotResponse `json:"timeSlot"`
	Visitors           visitorsResponse `json:"visitors"`
	TotalAmount        domain.Amount    `json:"totalAmount"`
	ServiceFee         domain.Amount    `json:"serviceFee"`
	FinalAmount        domain.Amount    `json:"finalAmount"`
	ContactInfo        contactResponse  `json:"contactInfo"`
	PaymentInfo        paymentResponse  `json:"paymentInfo"`
	BookingStatus      string           `json:"bookingStatus"`
	QRCode             string           `json:"qrCode,omitempty"`
	ConfirmedAt        *time.Time       `json:"confirmedAt,omitempty"`
	CheckInTime        *time.Time       `json:"checkInTime,omitempty"`
	CheckOutTime       *time.Time       `json:"checkOutTime,omitempty"`
	CancellationReason string           `json:"cancellationReason,omitempty"`
	RefundAmount       *domain.Amount   `json:"refundAmount,omitempty"`
	RefundStatus       string           `json:"refundStatus,omitempty"`
	ExpiresAt          *time.Time       `json:"expiresAt,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}

type listResponse struct {
	Bookings   []bookingResponse `json:"bookings"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	Total      int               `json:"total"`
	TotalPages int               `json:"totalPages"`
}

func newBookingResponse(b *domain.Booking) bookingResponse {
	resp := bookingResponse{
		ID:        b.ID,
		TempleID:  b.TempleID,
		UserID:    b.UserID,
		VisitDate: b.FormattedDate(),
		TimeSlot:  timeSlotResponse{Start: b.TimeSlot.Start, End: b.TimeSlot.End},
		Visitors: visitorsResponse{
			Adults:   b.Visitors.Adults,
			Children: b.Visitors.Children,
			Seniors:  b.Visitors.Seniors,
			Total:    b.TotalVisitors(),
		},
		TotalAmount: b.TotalAmount,
		ServiceFee:  b.ServiceFee,
		FinalAmount: b.FinalAmount,
		ContactInfo: contactResponse{
			Name:            b.Contact.Name,
			Phone:           b.Contact.Phone,
			Email:           b.Contact.Email,
			SpecialRequests: b.Contact.SpecialRequests,
		},
		PaymentInfo: paymentResponse{
			Method:        string(b.Payment.Method),
			Status:        string(b.Payment.Status),
			OrderID:       b.Payment.OrderID,
			TransactionID: b.Payment.TransactionID,
		},
		BookingStatus: string(b.Status),
		QRCode:        b.QRCode,
		ConfirmedAt:   b.ConfirmedAt,
		CheckInTime:   b.CheckInTime,
		CheckOutTime:  b.CheckOutTime,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
	if b.Status == domain.BookingStatusPending {
		expires := b.ExpiresAt
		resp.ExpiresAt = &expires
	}
	if b.Status == domain.BookingStatusCancelled {
		refund := b.RefundAmount
		resp.CancellationReason = b.CancellationReason
		resp.RefundAmount = &refund
		resp.RefundStatus = string(b.RefundStatus)
	}
	return resp
}

func NewBookingHandler(service booking.BookingUseCase, log logrus.FieldLogger) *BookingHandler {
	return &BookingHandler{service: service, log: log}
}

// Register mounts the booking routes. Every route requires auth; lifecycle
// moves driven by temple staff additionally require the staff role.
func (h *BookingHandler) Register(router *gin.RouterGroup, auth gin.HandlerFunc) {
	staff := RequireRole(RoleStaff, RoleAdmin)

	r := router.Group("", auth)
	r.GET("", h.list)
	r.POST("", h.create)
	r.GET("/:id", h.get)
	r.GET("/:id/ticket", h.ticket)
	r.PATCH("/:id/cancel", h.cancel)
	r.PATCH("/:id/payment", staff, h.updatePayment)
	r.PATCH("/:id/checkin", staff, h.checkIn)
	r.PATCH("/:id/complete", staff, h.complete)
}

func (h *BookingHandler) create(c *gin.Context) {
	var req booking.CreateBookingInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	req.UserID = callerFrom(c).UserID

	b, err := h.service.CreateBooking(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, newBookingResponse(b))
}

func (h *BookingHandler) list(c *gin.Context) {
	page, err := queryInt(c, "page")
	if err != nil {
		badRequest(c, "page must be a number")
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		badRequest(c, "limit must be a number")
		return
	}

	filter := repository.ListFilter{
		UserID: callerFrom(c).UserID,
		Status: domain.BookingStatus(c.Query("status")),
		Page:   page,
		Limit:  limit,
	}
	items, total, err := h.service.ListBookings(c.Request.Context(), filter)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	if filter.Page == 0 {
		filter.Page = 1
	}
	if filter.Limit == 0 {
		filter.Limit = booking.DefaultPageLimit
	}
	resp := listResponse{
		Bookings:   make([]bookingResponse, 0, len(items)),
		Page:       filter.Page,
		Limit:      filter.Limit,
		Total:      total,
		TotalPages: (total + filter.Limit - 1) / filter.Limit,
	}
	for i := range items {
		resp.Bookings = append(resp.Bookings, newBookingResponse(&items[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *BookingHandler) get(c *gin.Context) {
	b, ok := h.owned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(b))
}

func (h *BookingHandler) cancel(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	current, ok := h.owned(c)
	if !ok {
		return
	}

	b, err := h.service.CancelBooking(c.Request.Context(), current.ID, req.Reason)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"booking":      newBookingResponse(b),
		"refundAmount": b.RefundAmount,
	})
}

func (h *BookingHandler) updatePayment(c *gin.Context) {
	var req booking.PaymentUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	b, err := h.service.UpdatePaymentStatus(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(b))
}

func (h *BookingHandler) checkIn(c *gin.Context) {
	var req checkInRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	b, err := h.service.CheckIn(c.Request.Context(), c.Param("id"), req.Ticket)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(b))
}

func (h *BookingHandler) complete(c *gin.Context) {
	b, err := h.service.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, newBookingResponse(b))
}

func (h *BookingHandler) ticket(c *gin.Context) {
	current, ok := h.owned(c)
	if !ok {
		return
	}
	_, png, err := h.service.Ticket(c.Request.Context(), current.ID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// owned loads the booking in the path and checks the caller may see it.
// Other users' bookings are reported as missing.
func (h *BookingHandler) owned(c *gin.Context) (*domain.Booking, bool) {
	b, err := h.service.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return nil, false
	}
	caller := callerFrom(c)
	if b.UserID != caller.UserID && !caller.IsStaff() {
		writeError(c, h.log, domain.ErrNotFound)
		return nil, false
	}
	return b, true
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
