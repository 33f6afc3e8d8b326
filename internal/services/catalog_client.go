package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// CatalogClient checks vehicles against the car catalog service
type CatalogClient struct {
	caller  ServiceCaller
	baseURL string
}

// NewCatalogClient creates a new CatalogClient
func NewCatalogClient(caller ServiceCaller, baseURL string) *CatalogClient {
	return &CatalogClient{caller: caller, baseURL: strings.TrimRight(baseURL, "/")}
}

// Exists reports whether the catalog knows vehicleID
func (c *CatalogClient) Exists(ctx context.Context, vehicleID string) (bool, error) {
	resp, err := c.caller.Do(ctx, http.MethodGet, c.baseURL+"/cars/"+url.PathEscape(vehicleID), nil)
	if err != nil {
		return false, fmt.Errorf("failed to call vehicle catalog: %w", err)
	}

	switch {
	case resp.IsSuccess():
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("vehicle catalog returned status %d", resp.StatusCode)
	}
}
