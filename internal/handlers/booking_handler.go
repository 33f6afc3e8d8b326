package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Evg-Mazay/rsoi-curse/internal/middleware"
	"github.com/Evg-Mazay/rsoi-curse/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BookingSaga is the booking API backed by services.BookingSagaService
type BookingSaga interface {
	CreateBooking(ctx context.Context, requestor models.RequestorContext, req models.CreateBookingRequest) (uuid.UUID, error)
	CancelBooking(ctx context.Context, requestor models.RequestorContext, bookingID uuid.UUID) error
	FinishBooking(ctx context.Context, requestor models.RequestorContext, bookingID uuid.UUID) error
	GetBooking(ctx context.Context, requestor models.RequestorContext, bookingID uuid.UUID) (*models.Booking, error)
	ListBookings(ctx context.Context, requestor models.RequestorContext, userFilter string, limit, offset int) ([]models.Booking, error)
}

// BookingHandler handles booking endpoints
type BookingHandler struct {
	saga   BookingSaga
	logger *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(saga BookingSaga, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{saga: saga, logger: logger}
}

// ============================================================================
// CREATE - POST /api/v1/booking
// ============================================================================

// CreateBooking charges the card, moves the vehicle and stores the booking
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	requestor, ok := requestorOrAbort(c)
	if !ok {
		return
	}

	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	bookingID, err := h.saga.CreateBooking(c.Request.Context(), requestor, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, models.CreateBookingResponse{BookingID: bookingID})
}

// ============================================================================
// CANCEL - DELETE /api/v1/booking/:id
// ============================================================================

// CancelBooking refunds and cancels a NEW booking
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	h.transition(c, h.saga.CancelBooking)
}

// ============================================================================
// FINISH - PATCH /api/v1/booking/:id/finish
// ============================================================================

// FinishBooking marks a NEW booking finished
func (h *BookingHandler) FinishBooking(c *gin.Context) {
	h.transition(c, h.saga.FinishBooking)
}

func (h *BookingHandler) transition(
	c *gin.Context,
	apply func(ctx context.Context, requestor models.RequestorContext, bookingID uuid.UUID) error,
) {
	requestor, ok := requestorOrAbort(c)
	if !ok {
		return
	}
	bookingID, ok := bookingIDParam(c)
	if !ok {
		return
	}

	if err := apply(c.Request.Context(), requestor, bookingID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{})
}

// ============================================================================
// READS - GET /api/v1/booking, GET /api/v1/booking/:id
// ============================================================================

// GetBooking returns one booking
func (h *BookingHandler) GetBooking(c *gin.Context) {
	requestor, ok := requestorOrAbort(c)
	if !ok {
		return
	}
	bookingID, ok := bookingIDParam(c)
	if !ok {
		return
	}

	booking, err := h.saga.GetBooking(c.Request.Context(), requestor, bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// ListBookings returns a page of bookings. Query: limit, offset, user_id (admins and services).
func (h *BookingHandler) ListBookings(c *gin.Context) {
	requestor, ok := requestorOrAbort(c)
	if !ok {
		return
	}

	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		badRequest(c, "limit must be an integer")
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		badRequest(c, "offset must be an integer")
		return
	}

	bookings, err := h.saga.ListBookings(c.Request.Context(), requestor, c.Query("user_id"), limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, models.ListBookingsResponse{
		Bookings: bookings,
		Limit:    limit,
		Offset:   offset,
	})
}

// ============================================================================
// HELPERS
// ============================================================================

func requestorOrAbort(c *gin.Context) (models.RequestorContext, bool) {
	requestor, exists := middleware.GetRequestor(c)
	if !exists {
		c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:   models.KindUnauthorized,
			Message: "user not authenticated",
		})
		return models.RequestorContext{}, false
	}
	return requestor, true
}

func bookingIDParam(c *gin.Context) (uuid.UUID, bool) {
	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid booking id")
		return uuid.Nil, false
	}
	return bookingID, true
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
