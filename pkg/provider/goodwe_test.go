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

type fakeGoodWe struct {
	t      *testing.T
	url    string
	logins atomic.Int32
	expire atomic.Bool
}

func (f *fakeGoodWe) reply(w http.ResponseWriter, code int, data any) {
	json.NewEncoder(w).Encode(map[string]any{
		"hasError": code != 0,
		"code":     code,
		"msg":      "",
		"data":     data,
		"api":      f.url + "/eu/api/",
	})
}

func (f *fakeGoodWe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))

	if r.URL.Path == goodweLoginPath {
		assert.JSONEq(f.t, goodweAnonymousToken, r.Header.Get("Token"))
		if body["account"] != "owner@example.com" || body["pwd"] != "secret" {
			f.reply(w, 100005, nil)
			return
		}
		f.logins.Add(1)
		f.reply(w, 0, map[string]any{"uid": "u1", "token": "tok", "timestamp": 1})
		return
	}

	var token map[string]any
	if err := json.Unmarshal([]byte(r.Header.Get("Token")), &token); err != nil || token["token"] != "tok" || f.expire.CompareAndSwap(true, false) {
		f.reply(w, goodweCodeAuthExpired, nil)
		return
	}

	switch r.URL.Path {
	case "/eu/api/v2/HistoryData/QueryPowerStationByHistory":
		f.reply(w, 0, map[string]any{"list": []map[string]any{
			{"id": "ps-1", "pw_name": "Home", "pw_address": ""},
			{"id": "ps-2", "pw_name": "Barn", "pw_address": "Farm Rd"},
		}})
	case "/eu/api/v2/PowerStation/GetMonitorDetailByPowerstationId":
		id := body["powerStationId"].(string)
		if id == "ps-missing" {
			f.reply(w, 1, nil)
			return
		}
		f.reply(w, 0, map[string]any{
			"info": map[string]any{"powerstation_id": id, "stationname": id, "address": "Addr " + id, "capacity": 8.5},
			"inverter": []map[string]any{
				{"sn": "SN-" + id, "name": "GW8K", "type": "ET", "out_pac": 2500.0},
			},
		})
	default:
		http.NotFound(w, r)
	}
}

func newTestGoodWe(t *testing.T) (*GoodWe, *fakeGoodWe) {
	fake := &fakeGoodWe{t: t}
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)
	fake.url = ts.URL
	return newGoodWe(goodweOptions{
		Username: "owner@example.com",
		Password: "secret",
		BaseURL:  ts.URL,
		Timeout:  5,
	}), fake
}

func TestGoodWe(t *testing.T) {
	ctx := context.Background()

	t.Run("Stations", func(t *testing.T) {
		g, fake := newTestGoodWe(t)
		require.NoError(t, g.Connect(ctx))
		assert.Equal(t, fake.url+"/eu/api/", g.api)

		stations, err := g.ListStations(ctx)
		require.NoError(t, err)
		assert.Equal(t, []types.Station{
			{Code: "ps-1", Name: "Home", Address: "Addr ps-1", CapacityKW: 8.5},
			{Code: "ps-2", Name: "Barn", Address: "Farm Rd", CapacityKW: 8.5},
		}, stations)
	})

	t.Run("Invalid Credentials", func(t *testing.T) {
		g, _ := newTestGoodWe(t)
		g.password = "wrong"
		err := g.Connect(ctx)
		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, CodeAuthFailed, perr.Code)
	})

	t.Run("Devices And Power", func(t *testing.T) {
		g, _ := newTestGoodWe(t)

		devices, err := g.ListDevices(ctx, "ps-1")
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, types.Device{ID: "SN-ps-1", Name: "GW8K", StationCode: "ps-1", Type: "ET", SerialNumber: "SN-ps-1"}, devices[0])

		power, err := g.GetCurrentPower(ctx, "SN-ps-1")
		require.NoError(t, err)
		assert.Equal(t, 2.5, power)

		_, err = g.GetCurrentPower(ctx, "SN-unknown")
		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, CodeNotFound, perr.Code)
	})

	t.Run("Expired Token", func(t *testing.T) {
		g, fake := newTestGoodWe(t)
		require.NoError(t, g.Connect(ctx))
		fake.expire.Store(true)

		_, err := g.ListDevices(ctx, "ps-1")
		require.NoError(t, err)
		assert.EqualValues(t, 2, fake.logins.Load())
	})

	t.Run("Vendor Error", func(t *testing.T) {
		g, _ := newTestGoodWe(t)
		_, err := g.ListDevices(ctx, "ps-missing")
		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, CodeVendorError, perr.Code)
		assert.Equal(t, http.StatusBadGateway, perr.StatusCode)
		assert.Equal(t, 1, perr.Details["code"])
	})
}

func TestGoodWeSelection(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
		ok    bool
	}{
		{"Plain Id", "ps-1", "ps-1", true},
		{"Selection", map[string]any{"value": "ps-456", "label": "ps-456"}, "ps-456", true},
		{"Selection List", []any{map[string]any{"value": "ps-123", "label": "ps-123"}}, "ps-123", true},
		{"Empty List", []any{}, "", false},
		{"Empty String", "", "", false},
		{"Number", 12.0, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := selectedValue(tt.value)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("Schema", func(t *testing.T) {
		steps := goodweSteps(nil)
		v, err := schemaValidator(steps[1])
		require.NoError(t, err)

		assert.NoError(t, v.Validate(map[string]any{"powerstation_id": "ps-1"}))
		assert.NoError(t, v.Validate(map[string]any{"powerstation_id": map[string]any{"value": "ps-456", "label": "ps-456"}}))
		assert.NoError(t, v.Validate(map[string]any{"powerstation_id": []any{map[string]any{"value": "ps-123", "label": "ps-123"}}}))
		assert.Error(t, v.Validate(map[string]any{"powerstation_id": []any{}}))
		assert.Error(t, v.Validate(map[string]any{}))
	})
}
