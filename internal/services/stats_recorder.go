package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// StatsRoutingKey is the AMQP routing key for booking statistics events
const StatsRoutingKey = "booking.stats"

// HTTPStatsRecorder reports bookings to the statistics service
type HTTPStatsRecorder struct {
	caller  ServiceCaller
	baseURL string
}

// NewHTTPStatsRecorder creates a new HTTPStatsRecorder
func NewHTTPStatsRecorder(caller ServiceCaller, baseURL string) *HTTPStatsRecorder {
	return &HTTPStatsRecorder{caller: caller, baseURL: strings.TrimRight(baseURL, "/")}
}

type statsRecord struct {
	CarModel string `json:"car_model"`
	Office   int64  `json:"office"`
}

// Record reports one booking of vehicleID taken from officeID
func (r *HTTPStatsRecorder) Record(ctx context.Context, vehicleID string, officeID int64) error {
	resp, err := r.caller.Do(ctx, http.MethodPost, r.baseURL+"/reports/create_record", statsRecord{
		CarModel: vehicleID,
		Office:   officeID,
	})
	if err != nil {
		return fmt.Errorf("failed to call statistics service: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("statistics service returned status %d", resp.StatusCode)
	}
	return nil
}

// JSONPublisher publishes a JSON message under a routing key
type JSONPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// StatsEvent is the message published for every booking
type StatsEvent struct {
	VehicleID string `json:"vehicle_id"`
	OfficeID  int64  `json:"office_id"`
}

// AMQPStatsRecorder publishes booking events to the message broker
type AMQPStatsRecorder struct {
	publisher JSONPublisher
}

// NewAMQPStatsRecorder creates a new AMQPStatsRecorder
func NewAMQPStatsRecorder(publisher JSONPublisher) *AMQPStatsRecorder {
	return &AMQPStatsRecorder{publisher: publisher}
}

// Record publishes one booking event
func (r *AMQPStatsRecorder) Record(ctx context.Context, vehicleID string, officeID int64) error {
	if err := r.publisher.PublishJSON(ctx, StatsRoutingKey, StatsEvent{VehicleID: vehicleID, OfficeID: officeID}); err != nil {
		return fmt.Errorf("failed to publish stats event: %w", err)
	}
	return nil
}

// NoopStatsRecorder drops statistics
type NoopStatsRecorder struct{}

func (NoopStatsRecorder) Record(context.Context, string, int64) error { return nil }
