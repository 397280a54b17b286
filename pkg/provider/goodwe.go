package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/smartenergy/smartenergy/pkg/common"
	"github.com/smartenergy/smartenergy/pkg/log"
	"github.com/smartenergy/smartenergy/pkg/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	goodweLoginPath = "/api/v2/Common/CrossLogin"

	// Token header sent before logging in
	goodweAnonymousToken = `{"version":"v2.1.0","client":"ios","language":"en"}`

	// codes meaning the token is no longer accepted
	goodweCodeAuthExpired  = 100001
	goodweCodeAuthRequired = 100002

	// number of station details fetched at once
	goodweDetailConcurrency = 4
)

var goodweLimiters = newAccountLimiters(rate.Every(500*time.Millisecond), 5)

// GoodWe is an Adapter for the SEMS portal API.
type GoodWe struct {
	client   *resty.Client
	limiter  *rate.Limiter
	account  string
	password string

	mu sync.Mutex
	// token is the Token header returned by the login
	token string
	// api is the regional base URL returned by the login
	api string
	// inverter serial number -> powerstation id
	inverters map[string]string
}

type goodweOptions struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	BaseURL  string  `json:"base_url"`
	Timeout  float64 `json:"timeout"`
}

func goodweSpec() *AdapterSpec {
	return &AdapterSpec{
		Params: []Param{
			{Name: "username", Required: true},
			{Name: "password", Required: true},
			{Name: "base_url", Required: true},
			{Name: "timeout"},
		},
		New: func(args Args) (Adapter, error) {
			var opts goodweOptions
			if err := args.Decode(&opts); err != nil {
				return nil, err
			}
			return newGoodWe(opts), nil
		},
	}
}

func newGoodWe(opts goodweOptions) *GoodWe {
	client := resty.NewWithClient(common.HTTPClient(common.SecondsToDuration(opts.Timeout, 30*time.Second))).
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetHeader("Content-Type", "application/json")
	return &GoodWe{
		client:    client,
		limiter:   goodweLimiters.get(opts.Username),
		account:   opts.Username,
		password:  opts.Password,
		inverters: map[string]string{},
	}
}

type goodweResponse struct {
	HasError bool            `json:"hasError"`
	Code     int             `json:"code"`
	Msg      string          `json:"msg"`
	Data     json.RawMessage `json:"data"`
	API      string          `json:"api"`
}

func (g *GoodWe) post(ctx context.Context, op, url, token string, body any) (goodweResponse, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return goodweResponse{}, transportError(ctx, types.VendorGoodWe, op, err)
	}
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("Token", token).
		SetBody(body).
		Post(url)
	if err != nil {
		return goodweResponse{}, transportError(ctx, types.VendorGoodWe, op, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return goodweResponse{}, statusError(types.VendorGoodWe, op, resp.StatusCode())
	}
	var gr goodweResponse
	if err := json.Unmarshal(resp.Body(), &gr); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode goodwe response", slog.Any("error", err), slog.String("body", string(resp.Body())))
		return goodweResponse{}, newError(types.VendorGoodWe, CodeInvalidResponse, http.StatusBadGateway, "%s returned an invalid response", op)
	}
	return gr, nil
}

// Connect implements Adapter.
func (g *GoodWe) Connect(ctx context.Context) (err error) {
	defer observe(types.VendorGoodWe, "login", time.Now(), &err)

	gr, err := g.post(ctx, "login", goodweLoginPath, goodweAnonymousToken, map[string]string{
		"account": g.account,
		"pwd":     g.password,
	})
	if err != nil {
		return err
	}
	if gr.HasError || len(gr.Data) == 0 || string(gr.Data) == "null" {
		log.Ctx(ctx).WarnContext(ctx, "goodwe login rejected", slog.Int("code", gr.Code), slog.String("msg", gr.Msg))
		return authError(types.VendorGoodWe, "invalid account or password")
	}
	if gr.API == "" {
		return newError(types.VendorGoodWe, CodeInvalidResponse, http.StatusBadGateway, "login returned no api url")
	}

	g.mu.Lock()
	// the token info is sent back verbatim on every call
	g.token = string(gr.Data)
	g.api = strings.TrimRight(gr.API, "/") + "/"
	g.mu.Unlock()
	log.Ctx(ctx).DebugContext(ctx, "goodwe login success", slog.String("account", g.account), slog.String("api", gr.API))
	return nil
}

// ensureToken will not login again if the token we have cached is still valid
func (g *GoodWe) ensureToken(ctx context.Context) (string, string, error) {
	g.mu.Lock()
	token, api := g.token, g.api
	g.mu.Unlock()
	if token != "" {
		return token, api, nil
	}
	if err := g.Connect(ctx); err != nil {
		return "", "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token, g.api, nil
}

func (g *GoodWe) call(ctx context.Context, op, path string, body any, dest any) (err error) {
	defer observe(types.VendorGoodWe, op, time.Now(), &err)

	// we try up to 2 times because we might have an expired token
	for i := 0; i < 2; i++ {
		token, api, err := g.ensureToken(ctx)
		if err != nil {
			return err
		}
		gr, err := g.post(ctx, op, api+path, token, body)
		if err != nil {
			return err
		}
		if gr.HasError {
			if gr.Code == goodweCodeAuthExpired || gr.Code == goodweCodeAuthRequired {
				log.Ctx(ctx).DebugContext(ctx, "goodwe token expired", slog.String("msg", gr.Msg))
				g.mu.Lock()
				if g.token == token {
					g.token = ""
				}
				g.mu.Unlock()
				continue
			}
			e := newError(types.VendorGoodWe, CodeVendorError, http.StatusBadGateway, "%s failed: %s", op, gr.Msg)
			e.Details = map[string]any{"code": gr.Code}
			return e
		}
		if dest != nil {
			if err := json.Unmarshal(gr.Data, dest); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to decode goodwe data", slog.String("op", op), slog.Any("error", err))
				return newError(types.VendorGoodWe, CodeInvalidResponse, http.StatusBadGateway, "%s returned invalid data", op)
			}
		}
		return nil
	}
	return authError(types.VendorGoodWe, "session could not be re-established")
}

type goodweStationList struct {
	List []struct {
		ID      string `json:"id"`
		Name    string `json:"pw_name"`
		Address string `json:"pw_address"`
	} `json:"list"`
}

type goodweMonitorDetail struct {
	Info struct {
		ID       string  `json:"powerstation_id"`
		Name     string  `json:"stationname"`
		Address  string  `json:"address"`
		Capacity float64 `json:"capacity"`
	} `json:"info"`
	Inverter []struct {
		SN     string  `json:"sn"`
		Name   string  `json:"name"`
		Type   string  `json:"type"`
		OutPac float64 `json:"out_pac"`
	} `json:"inverter"`
}

func (g *GoodWe) monitorDetail(ctx context.Context, stationID string) (goodweMonitorDetail, error) {
	var d goodweMonitorDetail
	err := g.call(ctx, "getMonitorDetail", "v2/PowerStation/GetMonitorDetailByPowerstationId", map[string]string{
		"powerStationId": stationID,
	}, &d)
	if err != nil {
		return goodweMonitorDetail{}, err
	}

	g.mu.Lock()
	for _, inv := range d.Inverter {
		g.inverters[inv.SN] = stationID
	}
	g.mu.Unlock()
	return d, nil
}

// ListStations implements Adapter. The list call lacks capacities so the
// details of every station are fetched as well.
func (g *GoodWe) ListStations(ctx context.Context) ([]types.Station, error) {
	var list goodweStationList
	if err := g.call(ctx, "listStations", "v2/HistoryData/QueryPowerStationByHistory", map[string]any{}, &list); err != nil {
		return nil, err
	}

	stations := make([]types.Station, len(list.List))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(goodweDetailConcurrency)
	for i, s := range list.List {
		stations[i] = types.Station{Code: s.ID, Name: s.Name, Address: s.Address}
		eg.Go(func() error {
			d, err := g.monitorDetail(ectx, s.ID)
			if err != nil {
				return err
			}
			stations[i].CapacityKW = d.Info.Capacity
			if stations[i].Address == "" {
				stations[i].Address = d.Info.Address
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return stations, nil
}

// ListDevices implements Adapter.
func (g *GoodWe) ListDevices(ctx context.Context, stationID string) ([]types.Device, error) {
	d, err := g.monitorDetail(ctx, stationID)
	if err != nil {
		return nil, err
	}
	devices := make([]types.Device, 0, len(d.Inverter))
	for _, inv := range d.Inverter {
		devices = append(devices, types.Device{
			ID:           inv.SN,
			Name:         inv.Name,
			StationCode:  stationID,
			Type:         inv.Type,
			SerialNumber: inv.SN,
		})
	}
	return devices, nil
}

// GetCurrentPower implements Adapter. The inverter must have been seen by
// ListStations or ListDevices first.
func (g *GoodWe) GetCurrentPower(ctx context.Context, sn string) (float64, error) {
	g.mu.Lock()
	stationID, ok := g.inverters[sn]
	g.mu.Unlock()
	if !ok {
		return 0, newError(types.VendorGoodWe, CodeNotFound, http.StatusNotFound, "inverter %s not found", sn)
	}

	d, err := g.monitorDetail(ctx, stationID)
	if err != nil {
		return 0, err
	}
	for _, inv := range d.Inverter {
		if inv.SN == sn {
			// out_pac is reported in W
			return inv.OutPac / 1000, nil
		}
	}
	return 0, newError(types.VendorGoodWe, CodeNotFound, http.StatusNotFound, "inverter %s not found", sn)
}
