package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/smartenergy/smartenergy/pkg/common"
	"github.com/smartenergy/smartenergy/pkg/log"
	"github.com/smartenergy/smartenergy/pkg/types"
	"golang.org/x/time/rate"
)

const (
	huaweiLoginPath = "/thirdData/login"

	// failCodes returned by the northbound API
	huaweiFailNotLoggedIn = 305
	huaweiFailRateLimited = 407

	// devTypeId of a string inverter
	huaweiDevTypeInverter = 1
)

// the northbound API allows very few calls per account and minute
var huaweiLimiters = newAccountLimiters(rate.Every(2*time.Second), 3)

// Huawei is an Adapter for the FusionSolar northbound (thirdData) API.
type Huawei struct {
	client   *resty.Client
	limiter  *rate.Limiter
	username string
	password string

	mu       sync.Mutex
	token    string
	devTypes map[string]int
}

type huaweiOptions struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	BaseURL  string  `json:"base_url"`
	Timeout  float64 `json:"timeout"`
}

func huaweiSpec() *AdapterSpec {
	return &AdapterSpec{
		Params: []Param{
			{Name: "username", Required: true},
			{Name: "password", Required: true},
			{Name: "base_url", Required: true},
			{Name: "timeout"},
		},
		New: func(args Args) (Adapter, error) {
			var opts huaweiOptions
			if err := args.Decode(&opts); err != nil {
				return nil, err
			}
			return newHuawei(opts), nil
		},
	}
}

func newHuawei(opts huaweiOptions) *Huawei {
	client := resty.NewWithClient(common.HTTPClient(common.SecondsToDuration(opts.Timeout, 30*time.Second))).
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Content-Type", "application/json")
	return &Huawei{
		client:   client,
		limiter:  huaweiLimiters.get(opts.Username),
		username: opts.Username,
		password: opts.Password,
		devTypes: map[string]int{},
	}
}

type huaweiResponse struct {
	Success  bool            `json:"success"`
	FailCode int             `json:"failCode"`
	Message  string          `json:"message"`
	Data     json.RawMessage `json:"data"`
}

// post sends one request and decodes the envelope. Vendor failures are
// returned in the envelope, not as an error.
func (h *Huawei) post(ctx context.Context, op, path, token string, body any) (*resty.Response, huaweiResponse, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, huaweiResponse{}, transportError(ctx, types.VendorHuawei, op, err)
	}
	req := h.client.R().SetContext(ctx).SetBody(body)
	if token != "" {
		req.SetHeader("XSRF-TOKEN", token)
	}
	resp, err := req.Post(path)
	if err != nil {
		return nil, huaweiResponse{}, transportError(ctx, types.VendorHuawei, op, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, huaweiResponse{}, statusError(types.VendorHuawei, op, resp.StatusCode())
	}
	var hr huaweiResponse
	if err := json.Unmarshal(resp.Body(), &hr); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode huawei response", slog.Any("error", err), slog.String("body", string(resp.Body())))
		return nil, huaweiResponse{}, newError(types.VendorHuawei, CodeInvalidResponse, http.StatusBadGateway, "%s returned an invalid response", op)
	}
	return resp, hr, nil
}

// Connect implements Adapter.
func (h *Huawei) Connect(ctx context.Context) (err error) {
	defer observe(types.VendorHuawei, "login", time.Now(), &err)

	resp, hr, err := h.post(ctx, "login", huaweiLoginPath, "", map[string]string{
		"userName":   h.username,
		"systemCode": h.password,
	})
	if err != nil {
		return err
	}
	if !hr.Success {
		if hr.FailCode == huaweiFailRateLimited {
			return newError(types.VendorHuawei, CodeRateLimited, http.StatusTooManyRequests, "login was rate limited")
		}
		log.Ctx(ctx).WarnContext(ctx, "huawei login rejected", slog.Int("failCode", hr.FailCode), slog.String("message", hr.Message))
		return authError(types.VendorHuawei, "invalid username or password")
	}

	token := resp.Header().Get("xsrf-token")
	if token == "" {
		for _, c := range resp.Cookies() {
			if c.Name == "XSRF-TOKEN" {
				token = c.Value
			}
		}
	}
	if token == "" {
		return newError(types.VendorHuawei, CodeInvalidResponse, http.StatusBadGateway, "login returned no token")
	}

	h.mu.Lock()
	h.token = token
	h.mu.Unlock()
	log.Ctx(ctx).DebugContext(ctx, "huawei login success", slog.String("username", h.username))
	return nil
}

// ensureToken will not login again if the token we have cached is still valid
func (h *Huawei) ensureToken(ctx context.Context) (string, error) {
	h.mu.Lock()
	token := h.token
	h.mu.Unlock()
	if token != "" {
		return token, nil
	}
	if err := h.Connect(ctx); err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token, nil
}

// call runs an authenticated request and decodes data into dest. An expired
// token triggers one fresh login.
func (h *Huawei) call(ctx context.Context, op, path string, body any, dest any) (err error) {
	defer observe(types.VendorHuawei, op, time.Now(), &err)

	// we try up to 2 times because we might have an expired token
	for i := 0; i < 2; i++ {
		token, err := h.ensureToken(ctx)
		if err != nil {
			return err
		}

		_, hr, err := h.post(ctx, op, path, token, body)
		if err != nil {
			return err
		}
		if !hr.Success {
			switch hr.FailCode {
			case huaweiFailNotLoggedIn:
				log.Ctx(ctx).DebugContext(ctx, "huawei token expired")
				h.mu.Lock()
				h.token = ""
				h.mu.Unlock()
				continue
			case huaweiFailRateLimited:
				return newError(types.VendorHuawei, CodeRateLimited, http.StatusTooManyRequests, "%s was rate limited", op)
			default:
				e := newError(types.VendorHuawei, CodeVendorError, http.StatusBadGateway, "%s failed: %s", op, hr.Message)
				e.Details = map[string]any{"fail_code": hr.FailCode}
				return e
			}
		}
		if dest != nil {
			if err := json.Unmarshal(hr.Data, dest); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to decode huawei data", slog.String("op", op), slog.Any("error", err))
				return newError(types.VendorHuawei, CodeInvalidResponse, http.StatusBadGateway, "%s returned invalid data", op)
			}
		}
		return nil
	}
	return authError(types.VendorHuawei, "session could not be re-established")
}

type huaweiStation struct {
	Code     string  `json:"stationCode"`
	Name     string  `json:"stationName"`
	Address  string  `json:"stationAddr"`
	Capacity float64 `json:"capacity"`
}

// ListStations implements Adapter.
func (h *Huawei) ListStations(ctx context.Context) ([]types.Station, error) {
	var list []huaweiStation
	if err := h.call(ctx, "getStationList", "/thirdData/getStationList", map[string]any{}, &list); err != nil {
		return nil, err
	}
	stations := make([]types.Station, 0, len(list))
	for _, s := range list {
		stations = append(stations, types.Station{
			Code:       s.Code,
			Name:       s.Name,
			Address:    s.Address,
			CapacityKW: s.Capacity * 1000, // reported in MW
		})
	}
	return stations, nil
}

type huaweiDevice struct {
	ID          json.Number `json:"id"`
	Name        string      `json:"devName"`
	StationCode string      `json:"stationCode"`
	TypeID      int         `json:"devTypeId"`
	ESN         string      `json:"esnCode"`
}

// ListDevices implements Adapter.
func (h *Huawei) ListDevices(ctx context.Context, stationCode string) ([]types.Device, error) {
	var list []huaweiDevice
	if err := h.call(ctx, "getDevList", "/thirdData/getDevList", map[string]string{"stationCodes": stationCode}, &list); err != nil {
		return nil, err
	}
	devices := make([]types.Device, 0, len(list))
	h.mu.Lock()
	for _, d := range list {
		id := d.ID.String()
		h.devTypes[id] = d.TypeID
		devices = append(devices, types.Device{
			ID:           id,
			Name:         d.Name,
			StationCode:  d.StationCode,
			Type:         strconv.Itoa(d.TypeID),
			SerialNumber: d.ESN,
		})
	}
	h.mu.Unlock()
	return devices, nil
}

type huaweiDeviceKPI struct {
	DevID       json.Number        `json:"devId"`
	DataItemMap map[string]float64 `json:"dataItemMap"`
}

// GetCurrentPower implements Adapter.
func (h *Huawei) GetCurrentPower(ctx context.Context, deviceID string) (float64, error) {
	h.mu.Lock()
	devType, ok := h.devTypes[deviceID]
	h.mu.Unlock()
	if !ok {
		devType = huaweiDevTypeInverter
	}

	var kpis []huaweiDeviceKPI
	err := h.call(ctx, "getDevRealKpi", "/thirdData/getDevRealKpi", map[string]any{
		"devIds":    deviceID,
		"devTypeId": devType,
	}, &kpis)
	if err != nil {
		return 0, err
	}
	for _, k := range kpis {
		if k.DevID.String() != deviceID {
			continue
		}
		power, ok := k.DataItemMap["active_power"]
		if !ok {
			return 0, newError(types.VendorHuawei, CodeInvalidResponse, http.StatusBadGateway, "device %s reported no active power", deviceID)
		}
		return power, nil
	}
	return 0, newError(types.VendorHuawei, CodeNotFound, http.StatusNotFound, "device %s not found", deviceID)
}
