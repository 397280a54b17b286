package provider

import (
	"context"
	"fmt"

	"github.com/smartenergy/smartenergy/pkg/schema"
	"github.com/smartenergy/smartenergy/pkg/types"
	"github.com/smartenergy/smartenergy/pkg/wizard"
)

func huaweiConfigSchema() *schema.Schema {
	return schema.Object("Huawei FusionSolar", map[string]*schema.Schema{
		"station_code": schema.String("Station"),
		"device_id":    schema.String("Inverter"),
		"max_power_kw": schema.Number("Maximum power (kW)", 0),
		"min_power_kw": schema.Number("Minimum power (kW)", 0),
		"credentials":  credentialsConfigSchema(),
	}, "station_code", "device_id", "max_power_kw", "min_power_kw")
}

type huaweiStationInput struct {
	StationCode string `json:"station_code"`
}

type huaweiDeviceInput struct {
	DeviceID   string  `json:"device_id"`
	MaxPowerKW float64 `json:"max_power_kw"`
	MinPowerKW float64 `json:"min_power_kw"`
}

// huaweiSteps is auth -> station -> device.
func huaweiSteps(connect connectFunc) []wizard.Step {
	return []wizard.Step{
		wizard.TypedStep[loginInput]{
			StepName: wizard.AuthStep,
			Input:    loginSchema("Northbound API user"),
			Handle: func(ctx context.Context, in loginInput, session map[string]any) (wizard.StepResult, error) {
				creds := in.credentials()
				a, err := connect(ctx, creds)
				if err != nil {
					return wizard.StepResult{}, err
				}
				stations, err := a.ListStations(ctx)
				if err != nil {
					return wizard.StepResult{}, err
				}
				if len(stations) == 0 {
					return wizard.StepResult{}, noStationsError(types.VendorHuawei)
				}
				return wizard.Next("station", map[string]any{
					sessionCredentials: creds,
				}, map[string]any{
					"stations": types.StationOptions(stations),
				}), nil
			},
		},
		wizard.TypedStep[huaweiStationInput]{
			StepName: "station",
			Input: schema.Object("Station", map[string]*schema.Schema{
				"station_code": schema.String("Station"),
			}, "station_code"),
			Handle: func(ctx context.Context, in huaweiStationInput, session map[string]any) (wizard.StepResult, error) {
				creds, err := sessionCredentialsFrom(session)
				if err != nil {
					return wizard.StepResult{}, err
				}
				a, err := connect(ctx, creds)
				if err != nil {
					return wizard.StepResult{}, err
				}
				devices, err := a.ListDevices(ctx, in.StationCode)
				if err != nil {
					return wizard.StepResult{}, err
				}
				if len(devices) == 0 {
					return wizard.StepResult{}, fieldError(types.VendorHuawei, "station", "station_code", fmt.Sprintf("station %s has no devices", in.StationCode))
				}
				ids := make([]string, 0, len(devices))
				for _, d := range devices {
					ids = append(ids, d.ID)
				}
				return wizard.Next("device", map[string]any{
					sessionStationCode: in.StationCode,
					sessionDeviceIDs:   ids,
				}, map[string]any{
					"devices": types.DeviceOptions(devices),
				}), nil
			},
		},
		wizard.TypedStep[huaweiDeviceInput]{
			StepName: "device",
			Input: schema.Object("Inverter", map[string]*schema.Schema{
				"device_id":    schema.String("Inverter"),
				"max_power_kw": schema.Number("Maximum power (kW)", 0),
				"min_power_kw": {Type: "number", Title: "Minimum power (kW)", Minimum: schema.Float(0), Default: 0},
			}, "device_id", "max_power_kw"),
			Handle: func(ctx context.Context, in huaweiDeviceInput, session map[string]any) (wizard.StepResult, error) {
				stationCode, err := sessionString(session, sessionStationCode)
				if err != nil {
					return wizard.StepResult{}, err
				}
				if !contains(stringList(session[sessionDeviceIDs]), in.DeviceID) {
					return wizard.StepResult{}, fieldError(types.VendorHuawei, "device", "device_id", fmt.Sprintf("device %s is not part of station %s", in.DeviceID, stationCode))
				}
				if in.MinPowerKW > in.MaxPowerKW {
					return wizard.StepResult{}, fieldError(types.VendorHuawei, "device", "min_power_kw", "must not exceed max_power_kw")
				}
				return wizard.Complete(map[string]any{
					"station_code": stationCode,
					"device_id":    in.DeviceID,
					"max_power_kw": in.MaxPowerKW,
					"min_power_kw": in.MinPowerKW,
					"credentials":  session[sessionCredentials],
				}), nil
			},
		},
	}
}
