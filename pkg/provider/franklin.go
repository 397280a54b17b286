package provider

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/smartenergy/smartenergy/pkg/common"
	"github.com/smartenergy/smartenergy/pkg/log"
	"github.com/smartenergy/smartenergy/pkg/types"
)

const franklinLoginPath = "hes-gateway/terminal/initialize/appUserOrInstallerLogin"

// Franklin is an Adapter for the FranklinWH cloud. Stations are the aGate
// gateways of the account and devices are a gateway plus its batteries.
type Franklin struct {
	client      *http.Client
	baseURL     string
	username    string
	md5Password string

	mu       sync.Mutex
	tokenStr string
	// deviceID -> where its power is reported
	devices map[string]franklinDevice
}

type franklinDevice struct {
	gatewayID string
	// battery is the index into fhpPower or -1 for the gateway itself
	battery int
}

type franklinOptions struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	BaseURL  string  `json:"base_url"`
	Timeout  float64 `json:"timeout"`
}

func franklinSpec() *AdapterSpec {
	return &AdapterSpec{
		Params: []Param{
			{Name: "username", Required: true},
			{Name: "password", Required: true},
			{Name: "base_url", Required: true},
			{Name: "timeout"},
		},
		New: func(args Args) (Adapter, error) {
			var opts franklinOptions
			if err := args.Decode(&opts); err != nil {
				return nil, err
			}
			return newFranklin(opts), nil
		},
	}
}

func newFranklin(opts franklinOptions) *Franklin {
	// the API only accepts the md5 of the password
	hash := md5.Sum([]byte(opts.Password))
	return &Franklin{
		client:      common.HTTPClient(common.SecondsToDuration(opts.Timeout, time.Minute)),
		baseURL:     opts.BaseURL,
		username:    opts.Username,
		md5Password: hex.EncodeToString(hash[:]),
		devices:     map[string]franklinDevice{},
	}
}

type franklinLoginResult struct {
	UserID int    `json:"userId"`
	Token  string `json:"token"`
}

// Connect implements Adapter.
func (f *Franklin) Connect(ctx context.Context) (err error) {
	defer observe(types.VendorFranklin, "login", time.Now(), &err)

	token, err := f.login(ctx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.tokenStr = token
	f.mu.Unlock()
	return nil
}

func (f *Franklin) login(ctx context.Context) (string, error) {
	data := url.Values{}
	data.Set("account", f.username)
	data.Set("password", f.md5Password)
	data.Set("type", "0")

	var res franklinLoginResult
	err := f.doRequest(ctx, "login", func(ctx context.Context) (*http.Request, error) {
		return f.newPostFormRequest(ctx, franklinLoginPath, data)
	}, &res)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "franklin login failed", slog.Any("error", err))
		return "", err
	}
	if res.Token == "" {
		return "", newError(types.VendorFranklin, CodeInvalidResponse, http.StatusBadGateway, "login returned no token")
	}
	log.Ctx(ctx).DebugContext(ctx, "franklin login success", slog.String("username", f.username))
	return res.Token, nil
}

// ensureLogin will not login again if the token we have cached is still valid
func (f *Franklin) ensureLogin(ctx context.Context) (string, error) {
	f.mu.Lock()
	token := f.tokenStr
	f.mu.Unlock()
	if token != "" {
		return token, nil
	}
	token, err := f.login(ctx)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.tokenStr = token
	f.mu.Unlock()
	return token, nil
}

func (f *Franklin) endpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (f *Franklin) newPostFormRequest(ctx context.Context, endpoint string, data url.Values) (*http.Request, error) {
	u, err := f.endpoint(endpoint)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func (f *Franklin) newGetRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := f.endpoint(endpoint)
	if err != nil {
		return nil, err
	}
	u.RawQuery = params.Encode()
	return http.NewRequestWithContext(ctx, "GET", u.String(), nil)
}

type franklinResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
	Success bool            `json:"success"`
}

// doRequest sends the request built by newReq and decodes the result into
// dest. Requests other than the login carry the token and log in again once
// when it expired.
func (f *Franklin) doRequest(ctx context.Context, op string, newReq func(context.Context) (*http.Request, error), dest any) error {
	isLogin := op == "login"

	// we try up to 2 times because we might have an expired token
	for i := 0; i < 2; i++ {
		req, err := newReq(ctx)
		if err != nil {
			return fmt.Errorf("failed to build franklin %s request: %w", op, err)
		}
		var token string
		if !isLogin {
			token, err = f.ensureLogin(ctx)
			if err != nil {
				return err
			}
			req.Header.Set("logintoken", token)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return transportError(ctx, types.VendorFranklin, op, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return transportError(ctx, types.VendorFranklin, op, err)
		}

		if resp.StatusCode != http.StatusOK {
			if resp.StatusCode == http.StatusUnauthorized && !isLogin {
				log.Ctx(ctx).DebugContext(ctx, "franklin token expired")
				f.clearToken(token)
				continue
			}
			if isLogin && resp.StatusCode == http.StatusUnauthorized {
				return authError(types.VendorFranklin, "invalid email or password")
			}
			return statusError(types.VendorFranklin, op, resp.StatusCode)
		}

		var fr franklinResponse
		if err := json.Unmarshal(body, &fr); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to decode franklin response", slog.Any("error", err), slog.String("body", string(body)))
			return newError(types.VendorFranklin, CodeInvalidResponse, http.StatusBadGateway, "%s returned an invalid response", op)
		}

		if !fr.Success && fr.Code != 200 {
			// if we got a 401 error, it wasn't a login, and we sent a token then we
			// need to get another token
			if fr.Code == 401 && !isLogin {
				log.Ctx(ctx).DebugContext(ctx, "franklin token expired", slog.String("message", fr.Message))
				f.clearToken(token)
				continue
			}
			if isLogin {
				return authError(types.VendorFranklin, "invalid email or password")
			}
			log.Ctx(ctx).ErrorContext(ctx, "franklin api error", slog.String("op", op), slog.Int("code", fr.Code), slog.String("message", fr.Message))
			e := newError(types.VendorFranklin, CodeVendorError, http.StatusBadGateway, "%s failed: %s", op, fr.Message)
			e.Details = map[string]any{"code": fr.Code}
			return e
		}

		if dest != nil {
			if err := json.Unmarshal(fr.Result, dest); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to decode franklin result", slog.String("op", op), slog.Any("error", err))
				return newError(types.VendorFranklin, CodeInvalidResponse, http.StatusBadGateway, "%s returned invalid data", op)
			}
		}
		return nil
	}
	return authError(types.VendorFranklin, "session could not be re-established")
}

// clearToken drops token unless another request already replaced it.
func (f *Franklin) clearToken(token string) {
	f.mu.Lock()
	if f.tokenStr == token {
		f.tokenStr = ""
	}
	f.mu.Unlock()
}

func (f *Franklin) get(ctx context.Context, op, endpoint string, params url.Values, dest any) (err error) {
	defer observe(types.VendorFranklin, op, time.Now(), &err)
	return f.doRequest(ctx, op, func(ctx context.Context) (*http.Request, error) {
		return f.newGetRequest(ctx, endpoint, params)
	}, dest)
}

type franklinGateway struct {
	ID       string `json:"id"`
	Status   int    `json:"status"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	ZoneInfo string `json:"zoneInfo"`
}

// ListStations implements Adapter.
func (f *Franklin) ListStations(ctx context.Context) ([]types.Station, error) {
	var list []franklinGateway
	if err := f.get(ctx, "getHomeGatewayList", "hes-gateway/terminal/getHomeGatewayList", nil, &list); err != nil {
		return nil, err
	}
	stations := make([]types.Station, 0, len(list))
	for _, g := range list {
		stations = append(stations, types.Station{
			Code: g.ID,
			Name: g.Name,
		})
	}
	return stations, nil
}

type franklinDeviceInfo struct {
	GatewayID           string                `json:"gatewayId"`
	TimeZone            string                `json:"zoneInfo"`
	TotalBatteryPowerKW float64               `json:"fixedPowerTotal"`
	BatteryList         []franklinBatteryInfo `json:"batteryList"`
}

type franklinBatteryInfo struct {
	Serial     int `json:"id"`
	CapacityWH int `json:"rateBatCap"`
	PowerW     int `json:"ratedPwr"`
}

// ListDevices implements Adapter.
func (f *Franklin) ListDevices(ctx context.Context, gatewayID string) ([]types.Device, error) {
	params := url.Values{}
	params.Set("gatewayId", gatewayID)
	params.Set("lang", "en_US")

	var res franklinDeviceInfo
	if err := f.get(ctx, "getDeviceInfoV2", "hes-gateway/terminal/getDeviceInfoV2", params, &res); err != nil {
		return nil, err
	}

	devices := []types.Device{{
		ID:          gatewayID,
		Name:        "aGate " + gatewayID,
		StationCode: gatewayID,
		Type:        "gateway",
	}}
	f.mu.Lock()
	f.devices[gatewayID] = franklinDevice{gatewayID: gatewayID, battery: -1}
	for i, b := range res.BatteryList {
		id := strconv.Itoa(b.Serial)
		f.devices[id] = franklinDevice{gatewayID: gatewayID, battery: i}
		devices = append(devices, types.Device{
			ID:           id,
			Name:         fmt.Sprintf("aPower %d", i+1),
			StationCode:  gatewayID,
			Type:         "battery",
			SerialNumber: id,
		})
	}
	f.mu.Unlock()
	return devices, nil
}

type franklinCompositeInfo struct {
	RuntimeData struct {
		PowerSolar       float64   `json:"p_sun"`
		PowerEachBattery []float64 `json:"fhpPower"`
	} `json:"runtimeData"`
}

// GetCurrentPower implements Adapter. A gateway reports its solar output and
// a battery its own charge (negative) or discharge power. Unknown ids are
// treated as gateway ids.
func (f *Franklin) GetCurrentPower(ctx context.Context, deviceID string) (float64, error) {
	f.mu.Lock()
	dev, ok := f.devices[deviceID]
	f.mu.Unlock()
	if !ok {
		dev = franklinDevice{gatewayID: deviceID, battery: -1}
	}

	params := url.Values{}
	params.Set("gatewayId", dev.gatewayID)
	// 0 is set on the first call and subsequent calls should set to 1
	params.Set("refreshFlag", "0")

	var res franklinCompositeInfo
	if err := f.get(ctx, "getDeviceCompositeInfo", "hes-gateway/terminal/getDeviceCompositeInfo", params, &res); err != nil {
		return 0, err
	}

	if dev.battery < 0 {
		// solar inverters/combiners use power so it can be negative, just set it to 0
		return max(res.RuntimeData.PowerSolar, 0), nil
	}
	if dev.battery >= len(res.RuntimeData.PowerEachBattery) {
		return 0, newError(types.VendorFranklin, CodeNotFound, http.StatusNotFound, "battery %s not reported by gateway %s", deviceID, dev.gatewayID)
	}
	return res.RuntimeData.PowerEachBattery[dev.battery], nil
}
