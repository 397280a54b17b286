package provider

import (
	"errors"
	"fmt"

	"github.com/smartenergy/smartenergy/pkg/schema"
	"github.com/smartenergy/smartenergy/pkg/types"
	"github.com/smartenergy/smartenergy/pkg/wizard"
)

// Definition describes one supported vendor.
type Definition struct {
	Vendor         types.Vendor
	Label          string
	ProviderType   types.ProviderType
	Kind           types.ProviderKind
	DefaultUnit    types.Unit
	RequiresWizard bool
	// ConfigSchema is the shape of a fully configured provider.
	ConfigSchema *schema.Schema
	// Adapter is nil for vendors without an API.
	Adapter *AdapterSpec
	// AdapterSettings are construction defaults merged under overrides.
	AdapterSettings map[string]any
	// Wizard is only set when RequiresWizard is.
	Wizard *wizard.Flow

	config *schema.Validator
}

// Registry is the immutable set of provider definitions.
type Registry struct {
	defs  map[types.Vendor]*Definition
	order []types.Vendor
}

var _ wizard.Definitions = (*Registry)(nil)

// NewRegistry validates defs and compiles their config schemas.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[types.Vendor]*Definition, len(defs))}
	for i := range defs {
		def := defs[i]
		if _, err := types.ParseVendor(string(def.Vendor)); err != nil {
			return nil, err
		}
		if _, ok := r.defs[def.Vendor]; ok {
			return nil, fmt.Errorf("duplicate provider definition for %s", def.Vendor)
		}
		if err := def.validate(); err != nil {
			return nil, fmt.Errorf("invalid provider definition for %s: %w", def.Vendor, err)
		}
		v, err := schema.Compile(fmt.Sprintf("%s/config", def.Vendor), def.ConfigSchema)
		if err != nil {
			return nil, fmt.Errorf("invalid provider definition for %s: %w", def.Vendor, err)
		}
		def.config = v
		r.defs[def.Vendor] = &def
	}
	// display order follows types.Vendors
	for _, v := range types.Vendors() {
		if _, ok := r.defs[v]; ok {
			r.order = append(r.order, v)
		}
	}
	return r, nil
}

func (d *Definition) validate() error {
	if d.Label == "" {
		return errors.New("missing label")
	}
	if d.ConfigSchema == nil {
		return errors.New("missing config schema")
	}
	switch d.ProviderType {
	case types.ProviderTypeAPI:
		if d.Adapter == nil {
			return errors.New("api provider without an adapter")
		}
		if d.Adapter.New == nil {
			return errors.New("adapter without a constructor")
		}
	case types.ProviderTypeManual:
	default:
		return fmt.Errorf("unknown provider type %q", d.ProviderType)
	}
	if d.RequiresWizard {
		if d.Wizard == nil {
			return errors.New("requires a wizard but has none")
		}
		if first := d.Wizard.First().Name(); first != wizard.AuthStep {
			return fmt.Errorf("wizard starts with %q instead of %q", first, wizard.AuthStep)
		}
	} else if d.Wizard != nil {
		return errors.New("has a wizard but does not require one")
	}
	return nil
}

// Get returns the definition of vendor. The returned value must not be
// modified.
func (r *Registry) Get(vendor types.Vendor) (*Definition, bool) {
	def, ok := r.defs[vendor]
	return def, ok
}

// All returns every definition in display order.
func (r *Registry) All() []*Definition {
	all := make([]*Definition, 0, len(r.order))
	for _, v := range r.order {
		all = append(all, r.defs[v])
	}
	return all
}

// ValidateConfig checks a provider configuration against the vendor's config
// schema.
func (r *Registry) ValidateConfig(vendor types.Vendor, config map[string]any) error {
	def, ok := r.defs[vendor]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVendor, vendor)
	}
	return def.config.Validate(config)
}

// WizardDefinition implements wizard.Definitions.
func (r *Registry) WizardDefinition(vendor types.Vendor) (wizard.Definition, bool) {
	def, ok := r.defs[vendor]
	if !ok {
		return wizard.Definition{}, false
	}
	wd := wizard.Definition{Config: def.config}
	if def.RequiresWizard {
		wd.Flow = def.Wizard
	}
	return wd, true
}

// Summaries groups the definitions by provider type, API providers first.
func (r *Registry) Summaries() []types.ProviderTypeDefinitions {
	var out []types.ProviderTypeDefinitions
	for _, pt := range []types.ProviderType{types.ProviderTypeAPI, types.ProviderTypeManual} {
		group := types.ProviderTypeDefinitions{Type: pt, Vendors: []types.ProviderVendorSummary{}}
		for _, def := range r.All() {
			if def.ProviderType != pt {
				continue
			}
			group.Vendors = append(group.Vendors, types.ProviderVendorSummary{
				Vendor:         def.Vendor,
				Label:          def.Label,
				Kind:           def.Kind,
				DefaultUnit:    def.DefaultUnit,
				RequiresWizard: def.RequiresWizard,
			})
		}
		if len(group.Vendors) > 0 {
			out = append(out, group)
		}
	}
	return out
}

// Detail returns the public view of a definition including its config schema
// document.
func (r *Registry) Detail(vendor types.Vendor) (types.ProviderDefinitionDetail, error) {
	def, ok := r.defs[vendor]
	if !ok {
		return types.ProviderDefinitionDetail{}, fmt.Errorf("%w: %s", ErrUnknownVendor, vendor)
	}
	doc, err := def.ConfigSchema.Document()
	if err != nil {
		return types.ProviderDefinitionDetail{}, err
	}
	return types.ProviderDefinitionDetail{
		Vendor:         def.Vendor,
		Label:          def.Label,
		ProviderType:   def.ProviderType,
		Kind:           def.Kind,
		DefaultUnit:    def.DefaultUnit,
		RequiresWizard: def.RequiresWizard,
		ConfigSchema:   doc,
	}, nil
}
