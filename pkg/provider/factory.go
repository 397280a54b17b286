package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/smartenergy/smartenergy/pkg/log"
	"github.com/smartenergy/smartenergy/pkg/schema"
	"github.com/smartenergy/smartenergy/pkg/types"
)

var (
	ErrUnknownVendor       = errors.New("unknown provider vendor")
	ErrNoAdapter           = errors.New("provider has no adapter")
	ErrAdapterConstruction = errors.New("failed to construct provider adapter")
)

// Param is a constructor parameter an adapter accepts.
type Param struct {
	Name     string
	Required bool
}

// Args are the filtered constructor arguments handed to an adapter.
type Args map[string]any

// Decode copies the arguments into an options struct using its json tags.
func (a Args) Decode(out any) error {
	return schema.Decode(a, out)
}

// AdapterSpec declares how to build an adapter: which parameters it accepts
// and a constructor receiving only those.
type AdapterSpec struct {
	Params []Param
	New    func(Args) (Adapter, error)
}

// AdapterConstructionError reports missing required parameters or a failing
// constructor.
type AdapterConstructionError struct {
	Vendor  types.Vendor
	Missing []string
	Err     error
}

func (e *AdapterConstructionError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("failed to construct %s adapter: missing required parameters: %s", e.Vendor, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("failed to construct %s adapter: %v", e.Vendor, e.Err)
}

func (e *AdapterConstructionError) Is(target error) bool {
	return target == ErrAdapterConstruction
}

func (e *AdapterConstructionError) Unwrap() error {
	return e.Err
}

// build filters credentials and settings down to the declared parameters and
// calls New. Settings win over credentials for identical keys.
func (s *AdapterSpec) build(ctx context.Context, vendor types.Vendor, credentials, settings map[string]any) (Adapter, error) {
	allowed := make(map[string]bool, len(s.Params))
	for _, p := range s.Params {
		allowed[p.Name] = true
	}

	args := make(Args, len(s.Params))
	var dropped []string
	for _, src := range []map[string]any{credentials, settings} {
		for k, v := range src {
			if !allowed[k] {
				dropped = append(dropped, k)
				continue
			}
			args[k] = v
		}
	}
	if len(dropped) > 0 {
		sort.Strings(dropped)
		log.Ctx(ctx).DebugContext(ctx, "dropped unknown adapter arguments", slog.String("vendor", string(vendor)), slog.Any("keys", dropped))
	}

	var missing []string
	for _, p := range s.Params {
		if !p.Required {
			continue
		}
		if v, ok := args[p.Name]; !ok || v == nil || v == "" {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return nil, &AdapterConstructionError{Vendor: vendor, Missing: missing}
	}

	a, err := s.New(args)
	if err != nil {
		return nil, &AdapterConstructionError{Vendor: vendor, Err: err}
	}
	return a, nil
}

// Factory builds adapters from the registry.
type Factory struct {
	registry *Registry
	cache    *Cache
}

// NewFactory returns a Factory over r that keeps connected adapters in cache.
func NewFactory(r *Registry, cache *Cache) *Factory {
	if cache == nil {
		cache = NewCache(DefaultCacheTTL)
	}
	return &Factory{registry: r, cache: cache}
}

// Create builds an adapter for vendor. The definition's adapter settings are
// merged with overrides (overrides win), then only credentials and settings
// matching a declared parameter are passed on. Unknown keys are dropped. The
// adapter is not connected.
func (f *Factory) Create(ctx context.Context, vendor types.Vendor, credentials, overrides map[string]any) (Adapter, error) {
	def, ok := f.registry.Get(vendor)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVendor, vendor)
	}
	if def.Adapter == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, vendor)
	}
	settings := types.MergeSessionData(types.MergeSessionData(nil, def.AdapterSettings), overrides)
	return def.Adapter.build(ctx, vendor, credentials, settings)
}

// Connect returns a connected adapter for vendor, reusing a cached one built
// from the same arguments.
func (f *Factory) Connect(ctx context.Context, vendor types.Vendor, credentials, overrides map[string]any) (Adapter, error) {
	return f.cache.Get(ctx, vendor, func(ctx context.Context) (Adapter, error) {
		a, err := f.Create(ctx, vendor, credentials, overrides)
		if err != nil {
			return nil, err
		}
		if err := a.Connect(ctx); err != nil {
			return nil, err
		}
		return a, nil
	}, credentials, overrides)
}

// Forget drops a cached adapter, e.g. after its credentials were rejected.
func (f *Factory) Forget(vendor types.Vendor, credentials, overrides map[string]any) {
	f.cache.Forget(vendor, credentials, overrides)
}
