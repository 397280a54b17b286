package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/smartenergy/smartenergy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHuawei is a minimal northbound API. Tokens issued by login are
// "token-<n>"; expire makes the next data call fail with failCode 305.
type fakeHuawei struct {
	t        *testing.T
	logins   atomic.Int32
	expire   atomic.Bool
	password string
}

func (f *fakeHuawei) reply(w http.ResponseWriter, success bool, failCode int, data any) {
	json.NewEncoder(w).Encode(map[string]any{
		"success":  success,
		"failCode": failCode,
		"message":  "",
		"data":     data,
	})
}

func (f *fakeHuawei) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))

	if r.URL.Path == huaweiLoginPath {
		if body["userName"] != "api-user" || body["systemCode"] != f.password {
			f.reply(w, false, 20001, nil)
			return
		}
		n := f.logins.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "token-" + string(rune('0'+n))})
		f.reply(w, true, 0, nil)
		return
	}

	if r.Header.Get("XSRF-TOKEN") == "" || f.expire.CompareAndSwap(true, false) {
		f.reply(w, false, huaweiFailNotLoggedIn, nil)
		return
	}

	switch r.URL.Path {
	case "/thirdData/getStationList":
		f.reply(w, true, 0, []map[string]any{
			{"stationCode": "NE=1", "stationName": "Roof", "stationAddr": "Main St", "capacity": 0.012},
		})
	case "/thirdData/getDevList":
		assert.Equal(f.t, "NE=1", body["stationCodes"])
		f.reply(w, true, 0, []map[string]any{
			{"id": 1000001, "devName": "Inverter-1", "stationCode": "NE=1", "devTypeId": 1, "esnCode": "ESN1"},
			{"id": 1000002, "devName": "Meter", "stationCode": "NE=1", "devTypeId": 17, "esnCode": "ESN2"},
		})
	case "/thirdData/getDevRealKpi":
		f.reply(w, true, 0, []map[string]any{
			{"devId": 1000001, "dataItemMap": map[string]any{"active_power": 4.2}},
		})
	case "/thirdData/limited":
		f.reply(w, false, huaweiFailRateLimited, nil)
	default:
		http.NotFound(w, r)
	}
}

func newTestHuawei(t *testing.T, password string) (*Huawei, *fakeHuawei) {
	fake := &fakeHuawei{t: t, password: "secret"}
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)
	return newHuawei(huaweiOptions{
		Username: "api-user",
		Password: password,
		BaseURL:  ts.URL + "/",
		Timeout:  5,
	}), fake
}

func TestHuawei(t *testing.T) {
	ctx := context.Background()

	t.Run("Login And Stations", func(t *testing.T) {
		h, fake := newTestHuawei(t, "secret")
		require.NoError(t, h.Connect(ctx))
		assert.Equal(t, "token-1", h.token)

		stations, err := h.ListStations(ctx)
		require.NoError(t, err)
		require.Len(t, stations, 1)
		assert.Equal(t, types.Station{Code: "NE=1", Name: "Roof", Address: "Main St", CapacityKW: 12}, stations[0])
		assert.EqualValues(t, 1, fake.logins.Load())
	})

	t.Run("Invalid Credentials", func(t *testing.T) {
		h, _ := newTestHuawei(t, "wrong")
		err := h.Connect(ctx)
		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, CodeAuthFailed, perr.Code)
		assert.Equal(t, http.StatusUnauthorized, perr.StatusCode)
		assert.Equal(t, types.VendorHuawei, perr.Vendor)
	})

	t.Run("Devices And Power", func(t *testing.T) {
		h, _ := newTestHuawei(t, "secret")

		devices, err := h.ListDevices(ctx, "NE=1")
		require.NoError(t, err)
		require.Len(t, devices, 2)
		assert.Equal(t, "1000001", devices[0].ID)
		assert.Equal(t, "1", devices[0].Type)
		assert.Equal(t, "ESN1", devices[0].SerialNumber)

		power, err := h.GetCurrentPower(ctx, "1000001")
		require.NoError(t, err)
		assert.Equal(t, 4.2, power)

		_, err = h.GetCurrentPower(ctx, "1000002")
		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, CodeNotFound, perr.Code)
	})

	t.Run("Expired Token", func(t *testing.T) {
		h, fake := newTestHuawei(t, "secret")
		require.NoError(t, h.Connect(ctx))

		fake.expire.Store(true)
		stations, err := h.ListStations(ctx)
		require.NoError(t, err)
		assert.Len(t, stations, 1)
		assert.EqualValues(t, 2, fake.logins.Load())
		assert.Equal(t, "token-2", h.token)
	})

	t.Run("Rate Limited", func(t *testing.T) {
		h, _ := newTestHuawei(t, "secret")
		err := h.call(ctx, "limited", "/thirdData/limited", map[string]any{}, nil)
		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, CodeRateLimited, perr.Code)
		assert.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	})

	t.Run("Unexpected Status", func(t *testing.T) {
		h, _ := newTestHuawei(t, "secret")
		require.NoError(t, h.Connect(ctx))
		err := h.call(ctx, "missing", "/thirdData/missing", map[string]any{}, nil)
		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, CodeNotFound, perr.Code)
	})

	t.Run("Unreachable", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		ts.Close()
		h := newHuawei(huaweiOptions{Username: "api-user", Password: "secret", BaseURL: ts.URL, Timeout: 1})
		err := h.Connect(ctx)
		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, CodeUnavailable, perr.Code)
		assert.Equal(t, http.StatusBadGateway, perr.StatusCode)
		// the dial error names the vendor address and stays in the logs
		assert.Empty(t, perr.Details)
		assert.NotContains(t, perr.Error(), ts.Listener.Addr().String())
	})
}
