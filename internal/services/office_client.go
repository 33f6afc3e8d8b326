package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Evg-Mazay/rsoi-curse/internal/models"
	"github.com/Evg-Mazay/rsoi-curse/pkg/serviceauth"
)

// OfficeClient reaches the availability ledger of the office service over HTTP
type OfficeClient struct {
	caller  ServiceCaller
	baseURL string
}

// NewOfficeClient creates a new OfficeClient
func NewOfficeClient(caller ServiceCaller, baseURL string) *OfficeClient {
	return &OfficeClient{caller: caller, baseURL: strings.TrimRight(baseURL, "/")}
}

func (c *OfficeClient) availabilityURL(vehicleID string) string {
	return c.baseURL + "/api/v1/vehicles/" + url.PathEscape(vehicleID) + "/availability"
}

// ReserveMove asks the office service to move the vehicle
func (c *OfficeClient) ReserveMove(ctx context.Context, vehicleID string, req models.MoveRequest) error {
	resp, err := c.caller.Do(ctx, http.MethodPut, c.availabilityURL(vehicleID), req)
	if err != nil {
		return models.WrapError(models.KindUpstreamUnavailable, err, "office service unavailable")
	}
	return officeError(resp)
}

// ReleaseMove asks the office service to undo a move
func (c *OfficeClient) ReleaseMove(ctx context.Context, vehicleID string, req models.ReleaseRequest) error {
	resp, err := c.caller.Do(ctx, http.MethodPost, c.availabilityURL(vehicleID)+"/release", req)
	if err != nil {
		return models.WrapError(models.KindUpstreamUnavailable, err, "office service unavailable")
	}
	return officeError(resp)
}

// officeError turns a non-2xx office response back into the typed error the
// office service produced. Unknown or server-side failures become UpstreamUnavailable.
func officeError(resp *serviceauth.Response) error {
	if resp.IsSuccess() {
		return nil
	}

	var body models.ErrorResponse
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		switch body.Error {
		case models.KindVehicleNotAvailable,
			models.KindWrongOffice,
			models.KindInvalidWindow,
			models.KindNotFound,
			models.KindBadRequest:
			return models.NewError(body.Error, "%s", body.Message)
		}
	}

	return models.WrapError(models.KindUpstreamUnavailable,
		fmt.Errorf("office service returned status %d: %s", resp.StatusCode, string(resp.Body)),
		"office service failed")
}
