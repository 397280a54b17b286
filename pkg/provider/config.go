package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/smartenergy/smartenergy/pkg/types"
	"github.com/smartenergy/smartenergy/pkg/wizard"
)

// Settings are the deployment specific adapter defaults.
type Settings struct {
	HuaweiBaseURL   string
	GoodWeBaseURL   string
	FranklinBaseURL string
	// Timeout bounds every vendor HTTP request.
	Timeout time.Duration
	// Cache keeps connected adapters, a new one is made when nil.
	Cache *Cache
}

func (s Settings) adapterSettings(baseURL string) map[string]any {
	return map[string]any{
		"base_url": baseURL,
		"timeout":  s.Timeout.Seconds(),
	}
}

// connector returns a connectFunc that goes through the Factory, so wizard
// steps share its adapter cache.
func (f *Factory) connector(vendor types.Vendor) connectFunc {
	return func(ctx context.Context, credentials map[string]any) (Adapter, error) {
		a, err := f.Connect(ctx, vendor, credentials, nil)
		if err != nil {
			return nil, err
		}
		return evictingAdapter{
			Adapter: a,
			forget:  func() { f.Forget(vendor, credentials, nil) },
		}, nil
	}
}

// evictingAdapter drops a cached adapter once the vendor stops accepting its
// login, so the next step connects again.
type evictingAdapter struct {
	Adapter
	forget func()
}

func (a evictingAdapter) check(err error) error {
	var perr *Error
	if errors.As(err, &perr) && perr.Code == CodeAuthFailed {
		a.forget()
	}
	return err
}

func (a evictingAdapter) ListStations(ctx context.Context) ([]types.Station, error) {
	stations, err := a.Adapter.ListStations(ctx)
	return stations, a.check(err)
}

func (a evictingAdapter) ListDevices(ctx context.Context, stationCode string) ([]types.Device, error) {
	devices, err := a.Adapter.ListDevices(ctx, stationCode)
	return devices, a.check(err)
}

func (a evictingAdapter) GetCurrentPower(ctx context.Context, deviceID string) (float64, error) {
	kw, err := a.Adapter.GetCurrentPower(ctx, deviceID)
	return kw, a.check(err)
}

// definitions returns the definition of every supported vendor.
func definitions(s Settings, f *Factory) []Definition {
	var defs []Definition
	for _, v := range types.Vendors() {
		switch v {
		case types.VendorHuawei:
			defs = append(defs, Definition{
				Vendor:          v,
				Label:           "Huawei FusionSolar",
				ProviderType:    types.ProviderTypeAPI,
				Kind:            types.ProviderKindPower,
				DefaultUnit:     types.UnitKilowatt,
				RequiresWizard:  true,
				ConfigSchema:    huaweiConfigSchema(),
				Adapter:         huaweiSpec(),
				AdapterSettings: s.adapterSettings(s.HuaweiBaseURL),
				Wizard:          wizard.MustNewFlow(v, huaweiSteps(f.connector(v))...),
			})
		case types.VendorGoodWe:
			defs = append(defs, Definition{
				Vendor:          v,
				Label:           "GoodWe SEMS",
				ProviderType:    types.ProviderTypeAPI,
				Kind:            types.ProviderKindPower,
				DefaultUnit:     types.UnitWatt,
				RequiresWizard:  true,
				ConfigSchema:    goodweConfigSchema(),
				Adapter:         goodweSpec(),
				AdapterSettings: s.adapterSettings(s.GoodWeBaseURL),
				Wizard:          wizard.MustNewFlow(v, goodweSteps(f.connector(v))...),
			})
		case types.VendorFranklin:
			defs = append(defs, Definition{
				Vendor:          v,
				Label:           "FranklinWH",
				ProviderType:    types.ProviderTypeAPI,
				Kind:            types.ProviderKindPower,
				DefaultUnit:     types.UnitKilowatt,
				RequiresWizard:  true,
				ConfigSchema:    franklinConfigSchema(),
				Adapter:         franklinSpec(),
				AdapterSettings: s.adapterSettings(s.FranklinBaseURL),
				Wizard:          wizard.MustNewFlow(v, franklinSteps(f.connector(v))...),
			})
		case types.VendorManual:
			defs = append(defs, manualDefinition())
		default:
			panic(fmt.Sprintf("no provider definition for %s", v))
		}
	}
	return defs
}

// build fills f with the registry of every supported vendor.
func (f *Factory) build(s Settings) error {
	r, err := NewRegistry(definitions(s, f)...)
	if err != nil {
		return err
	}
	*f.registry = *r
	return nil
}

// New returns a Factory over the registry of every supported vendor.
func New(s Settings) (*Factory, error) {
	f := NewFactory(&Registry{}, s.Cache)
	if err := f.build(s); err != nil {
		return nil, err
	}
	return f, nil
}

// Configured sets up the provider registry and adapter factory based on
// flags.
func Configured() *Factory {
	huaweiURL := lflag.String("huawei-base-url", "https://eu5.fusionsolar.huawei.com", "Base URL of the Huawei FusionSolar northbound API")
	goodweURL := lflag.String("goodwe-base-url", "https://www.semsportal.com", "Base URL of the GoodWe SEMS API")
	franklinURL := lflag.String("franklin-base-url", "https://energy.franklinwh.com", "Base URL of the FranklinWH API")
	timeout := lflag.Duration("provider-timeout", 30*time.Second, "Timeout for a single vendor API request")
	cacheTTL := lflag.Duration("provider-cache-ttl", DefaultCacheTTL, "How long a connected vendor adapter is reused")

	// the registry pointer is handed out before flags are parsed
	f := NewFactory(&Registry{}, nil)
	lflag.Do(func() {
		f.cache = NewCache(*cacheTTL)
		err := f.build(Settings{
			HuaweiBaseURL:   *huaweiURL,
			GoodWeBaseURL:   *goodweURL,
			FranklinBaseURL: *franklinURL,
			Timeout:         *timeout,
		})
		if err != nil {
			panic(fmt.Sprintf("provider registry failed: %v", err))
		}
	})
	return f
}

// Registry returns the registry the factory builds adapters from.
func (f *Factory) Registry() *Registry {
	return f.registry
}
