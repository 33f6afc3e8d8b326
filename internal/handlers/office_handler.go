package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/Evg-Mazay/rsoi-curse/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Ledger is the availability API backed by services.LedgerService
type Ledger interface {
	CurrentAvailability(ctx context.Context, vehicleID string) (*models.CurrentAvailability, error)
	HistoryForVehicle(ctx context.Context, vehicleID string) ([]models.AvailabilityInterval, error)
	HistoryForOffice(ctx context.Context, officeID int64) ([]models.AvailabilityInterval, error)
	HistoryForOfficeVehicle(ctx context.Context, officeID int64, vehicleID string) ([]models.AvailabilityInterval, error)
	ListOffices(ctx context.Context) ([]models.Office, error)
	ReserveMove(ctx context.Context, vehicleID string, req models.MoveRequest) error
	ReleaseMove(ctx context.Context, vehicleID string, req models.ReleaseRequest) error
	StockVehicle(ctx context.Context, officeID int64, vehicleID string, from int64) error
	RemoveVehicleFromOffice(ctx context.Context, officeID int64, vehicleID string) error
}

// OfficeHandler handles office and vehicle availability endpoints
type OfficeHandler struct {
	ledger Ledger
	logger *logrus.Logger
}

// NewOfficeHandler creates a new OfficeHandler
func NewOfficeHandler(ledger Ledger, logger *logrus.Logger) *OfficeHandler {
	return &OfficeHandler{ledger: ledger, logger: logger}
}

// ============================================================================
// OFFICES
// ============================================================================

// ListOffices handles GET /offices
func (h *OfficeHandler) ListOffices(c *gin.Context) {
	offices, err := h.ledger.ListOffices(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, offices)
}

// OfficeAvailability handles GET /offices/:office_id/availability
func (h *OfficeHandler) OfficeAvailability(c *gin.Context) {
	officeID, ok := officeIDParam(c)
	if !ok {
		return
	}

	intervals, err := h.ledger.HistoryForOffice(c.Request.Context(), officeID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, intervals)
}

// OfficeVehicleHistory handles GET /offices/:office_id/vehicles/:vehicle_id
func (h *OfficeHandler) OfficeVehicleHistory(c *gin.Context) {
	officeID, ok := officeIDParam(c)
	if !ok {
		return
	}

	intervals, err := h.ledger.HistoryForOfficeVehicle(c.Request.Context(), officeID, c.Param("vehicle_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if len(intervals) == 0 {
		respondError(c, h.logger, models.NewError(models.KindNotFound, "vehicle is not stocked at that office"))
		return
	}
	c.JSON(http.StatusOK, intervals)
}

// StockVehicle handles POST /offices/:office_id/vehicles/:vehicle_id.
// Body {"from": t} is optional; the vehicle is available from 0 without it.
func (h *OfficeHandler) StockVehicle(c *gin.Context) {
	officeID, ok := officeIDParam(c)
	if !ok {
		return
	}

	var req models.StockVehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	var from int64
	if req.From != nil {
		from = *req.From
	}

	if err := h.ledger.StockVehicle(c.Request.Context(), officeID, c.Param("vehicle_id"), from); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{})
}

// RemoveVehicle handles DELETE /offices/:office_id/vehicles/:vehicle_id
func (h *OfficeHandler) RemoveVehicle(c *gin.Context) {
	officeID, ok := officeIDParam(c)
	if !ok {
		return
	}

	if err := h.ledger.RemoveVehicleFromOffice(c.Request.Context(), officeID, c.Param("vehicle_id")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// ============================================================================
// VEHICLES
// ============================================================================

// VehicleAvailability handles GET /vehicles/:vehicle_id/availability
func (h *OfficeHandler) VehicleAvailability(c *gin.Context) {
	vehicleID := c.Param("vehicle_id")

	history, err := h.ledger.HistoryForVehicle(c.Request.Context(), vehicleID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if len(history) == 0 {
		respondError(c, h.logger, models.NewError(models.KindNotFound, "vehicle %s has no availability", vehicleID))
		return
	}

	response := models.VehicleAvailabilityResponse{VehicleID: vehicleID, History: history}
	current, err := h.ledger.CurrentAvailability(c.Request.Context(), vehicleID)
	switch {
	case err == nil:
		response.LastAvailable = current
	case !errors.Is(err, models.ErrVehicleNotAvailable):
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// ReserveMove handles PUT /vehicles/:vehicle_id/availability
func (h *OfficeHandler) ReserveMove(c *gin.Context) {
	var req models.MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	if err := h.ledger.ReserveMove(c.Request.Context(), c.Param("vehicle_id"), req); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// ReleaseMove handles POST /vehicles/:vehicle_id/availability/release
func (h *OfficeHandler) ReleaseMove(c *gin.Context) {
	var req models.ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	if err := h.ledger.ReleaseMove(c.Request.Context(), c.Param("vehicle_id"), req); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func officeIDParam(c *gin.Context) (int64, bool) {
	officeID, err := strconv.ParseInt(c.Param("office_id"), 10, 64)
	if err != nil || officeID <= 0 {
		badRequest(c, "invalid office id")
		return 0, false
	}
	return officeID, true
}
