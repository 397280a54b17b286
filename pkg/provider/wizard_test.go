package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smartenergy/smartenergy/pkg/schema"
	"github.com/smartenergy/smartenergy/pkg/storage"
	"github.com/smartenergy/smartenergy/pkg/types"
	"github.com/smartenergy/smartenergy/pkg/wizard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWizard(t *testing.T) (*wizard.Engine, *storage.Memory) {
	t.Helper()
	huawei := httptest.NewServer(&fakeHuawei{t: t, password: "secret"})
	t.Cleanup(huawei.Close)
	goodwe := &fakeGoodWe{t: t}
	goodweServer := httptest.NewServer(goodwe)
	t.Cleanup(goodweServer.Close)
	goodwe.url = goodweServer.URL
	franklin := httptest.NewServer(&fakeFranklin{t: t})
	t.Cleanup(franklin.Close)

	f, err := New(Settings{
		HuaweiBaseURL:   huawei.URL,
		GoodWeBaseURL:   goodweServer.URL,
		FranklinBaseURL: franklin.URL,
		Timeout:         5 * time.Second,
	})
	require.NoError(t, err)

	store := storage.NewMemory(time.Minute)
	return wizard.New(f.Registry(), store, wizard.Config{StrictOrder: true}), store
}

func TestHuaweiWizard(t *testing.T) {
	ctx := context.Background()

	t.Run("Complete", func(t *testing.T) {
		e, store := newTestWizard(t)

		name, _, err := e.InitialStep(types.VendorHuawei)
		require.NoError(t, err)
		assert.Equal(t, wizard.AuthStep, name)

		out, err := e.RunStep(ctx, types.VendorHuawei, wizard.AuthStep, map[string]any{
			"username": "api-user",
			"password": "secret",
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, "station", out.Step)
		assert.Equal(t, []types.Option{{Value: "NE=1", Label: "Roof"}}, out.Options["stations"])
		require.NotEmpty(t, wizard.SessionID(out.Context))

		out, err = e.RunStep(ctx, types.VendorHuawei, "station", map[string]any{"station_code": "NE=1"}, out.Context)
		require.NoError(t, err)
		assert.Equal(t, "device", out.Step)
		assert.Equal(t, []types.Option{
			{Value: "1000001", Label: "Inverter-1"},
			{Value: "1000002", Label: "Meter"},
		}, out.Options["devices"])
		wctx := out.Context

		_, err = e.RunStep(ctx, types.VendorHuawei, "device", map[string]any{"device_id": "999", "max_power_kw": 10}, wctx)
		var verr *schema.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "device_id", verr.Fields[0].Field)

		out, err = e.RunStep(ctx, types.VendorHuawei, "device", map[string]any{"device_id": "1000001", "max_power_kw": 10}, wctx)
		require.NoError(t, err)
		assert.True(t, out.IsComplete)
		assert.Equal(t, map[string]any{
			"station_code": "NE=1",
			"device_id":    "1000001",
			"max_power_kw": 10.0,
			"min_power_kw": 0.0,
			"credentials":  map[string]any{"username": "api-user", "password": "secret"},
		}, out.FinalConfig)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("Rejected Credentials", func(t *testing.T) {
		e, store := newTestWizard(t)

		_, err := e.RunStep(ctx, types.VendorHuawei, wizard.AuthStep, map[string]any{
			"username": "api-user",
			"password": "wrong",
		}, nil)
		var perr *Error
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, http.StatusUnauthorized, perr.StatusCode)
		assert.Equal(t, 0, store.Len())
	})

	t.Run("Missing Password", func(t *testing.T) {
		e, _ := newTestWizard(t)

		_, err := e.RunStep(ctx, types.VendorHuawei, wizard.AuthStep, map[string]any{"username": "api-user"}, nil)
		var verr *schema.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "password", verr.Fields[0].Field)
	})

	t.Run("Out Of Order", func(t *testing.T) {
		e, _ := newTestWizard(t)

		out, err := e.RunStep(ctx, types.VendorHuawei, wizard.AuthStep, map[string]any{
			"username": "api-user",
			"password": "secret",
		}, nil)
		require.NoError(t, err)
		_, err = e.RunStep(ctx, types.VendorHuawei, "device", map[string]any{"device_id": "1000001", "max_power_kw": 10}, out.Context)
		assert.ErrorIs(t, err, wizard.ErrSessionState)
	})
}

func TestGoodWeWizard(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestWizard(t)

	out, err := e.RunStep(ctx, types.VendorGoodWe, wizard.AuthStep, map[string]any{
		"username": "owner@example.com",
		"password": "secret",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "powerstation", out.Step)
	assert.Equal(t, []types.Option{{Value: "ps-1", Label: "Home"}, {Value: "ps-2", Label: "Barn"}}, out.Options["powerstations"])

	_, err = e.RunStep(ctx, types.VendorGoodWe, "powerstation", map[string]any{"powerstation_id": []any{}}, out.Context)
	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)

	out, err = e.RunStep(ctx, types.VendorGoodWe, "powerstation", map[string]any{
		"powerstation_id": []any{map[string]any{"value": "ps-2", "label": "Barn"}},
	}, out.Context)
	require.NoError(t, err)
	assert.True(t, out.IsComplete)
	assert.Equal(t, "ps-2", out.FinalConfig["powerstation_id"])
}

func TestFranklinWizard(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestWizard(t)

	out, err := e.RunStep(ctx, types.VendorFranklin, wizard.AuthStep, map[string]any{
		"username": "user@example.com",
		"password": "secret",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "gateway", out.Step)

	_, err = e.RunStep(ctx, types.VendorFranklin, "gateway", map[string]any{"gateway_id": "GW9"}, out.Context)
	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "gateway_id", verr.Fields[0].Field)

	out, err = e.RunStep(ctx, types.VendorFranklin, "gateway", map[string]any{"gateway_id": "GW1"}, out.Context)
	require.NoError(t, err)
	assert.True(t, out.IsComplete)
	assert.Equal(t, map[string]any{
		"gateway_id":  "GW1",
		"credentials": map[string]any{"username": "user@example.com", "password": "secret"},
	}, out.FinalConfig)
}

func TestManualHasNoWizard(t *testing.T) {
	e, _ := newTestWizard(t)
	_, _, err := e.InitialStep(types.VendorManual)
	assert.ErrorIs(t, err, wizard.ErrNotConfigured)
}
