// Package provider holds the provider definition registry, the vendor adapter
// factory and the vendor specific adapters and wizard steps.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/smartenergy/smartenergy/pkg/log"
	"github.com/smartenergy/smartenergy/pkg/metrics"
	"github.com/smartenergy/smartenergy/pkg/types"
)

// Adapter is a client for one vendor account. Adapters are built by the
// Factory without any network I/O; Connect must be called before use.
type Adapter interface {
	// Connect authenticates with the vendor.
	Connect(ctx context.Context) error
	// ListStations returns the plants/sites of the account.
	ListStations(ctx context.Context) ([]types.Station, error)
	// ListDevices returns the devices of a station.
	ListDevices(ctx context.Context, stationCode string) ([]types.Device, error)
	// GetCurrentPower returns the current output of a device in kW.
	GetCurrentPower(ctx context.Context, deviceID string) (float64, error)
}

// Error codes reported by adapters.
const (
	CodeAuthFailed      = "auth_failed"
	CodeRateLimited     = "rate_limited"
	CodeTimeout         = "timeout"
	CodeUnavailable     = "unavailable"
	CodeInvalidResponse = "invalid_response"
	CodeNotFound        = "not_found"
	CodeVendorError     = "vendor_error"
)

// Error is a vendor-side failure. StatusCode is the HTTP status that best
// describes the failure from the caller's point of view.
type Error struct {
	Vendor     types.Vendor
	Code       string
	StatusCode int
	Message    string
	Details    map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s provider error (%s, %d): %s", e.Vendor, e.Code, e.StatusCode, e.Message)
}

func newError(vendor types.Vendor, code string, status int, format string, args ...any) *Error {
	return &Error{
		Vendor:     vendor,
		Code:       code,
		StatusCode: status,
		Message:    fmt.Sprintf(format, args...),
	}
}

// authError is returned when the vendor rejects the credentials.
func authError(vendor types.Vendor, msg string) *Error {
	return newError(vendor, CodeAuthFailed, http.StatusUnauthorized, "%s", msg)
}

// transportError maps a failed request onto an Error. Errors that already are
// an *Error are returned unchanged. The cause is logged and not returned since
// it names vendor hosts and addresses.
func transportError(ctx context.Context, vendor types.Vendor, op string, err error) error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Vendor:     vendor,
			Code:       CodeTimeout,
			StatusCode: http.StatusGatewayTimeout,
			Message:    fmt.Sprintf("%s timed out", op),
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	log.Ctx(ctx).WarnContext(ctx, "vendor request failed", slog.String("vendor", string(vendor)), slog.String("op", op), slog.Any("error", err))
	return &Error{
		Vendor:     vendor,
		Code:       CodeUnavailable,
		StatusCode: http.StatusBadGateway,
		Message:    fmt.Sprintf("%s failed", op),
	}
}

// statusError maps an unexpected HTTP status from the vendor.
func statusError(vendor types.Vendor, op string, status int) *Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(vendor, CodeAuthFailed, http.StatusUnauthorized, "%s was rejected by %s", op, vendor)
	case status == http.StatusTooManyRequests:
		return newError(vendor, CodeRateLimited, http.StatusTooManyRequests, "%s was rate limited by %s", op, vendor)
	case status == http.StatusNotFound:
		return newError(vendor, CodeNotFound, http.StatusNotFound, "%s returned not found", op)
	default:
		e := newError(vendor, CodeVendorError, http.StatusBadGateway, "%s returned status %d", op, status)
		e.Details = map[string]any{"status": status}
		return e
	}
}

// observe records a vendor request in metrics. It is meant to be deferred.
func observe(vendor types.Vendor, op string, start time.Time, err *error) {
	metrics.ProviderRequestDuration.WithLabelValues(string(vendor), op).Observe(time.Since(start).Seconds())
	metrics.ProviderRequestsTotal.WithLabelValues(string(vendor), op, metrics.Result(*err)).Inc()
}
