package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/smartenergy/smartenergy/pkg/log"
	"github.com/smartenergy/smartenergy/pkg/provider"
	"github.com/smartenergy/smartenergy/pkg/types"
)

// pathVendor parses the vendor path value and writes a 404 when it is not a
// known vendor.
func pathVendor(w http.ResponseWriter, r *http.Request) (types.Vendor, bool) {
	vendor, err := types.ParseVendor(r.PathValue("vendor"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusNotFound)
		return "", false
	}
	return vendor, true
}

func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		ProviderTypes []types.ProviderTypeDefinitions `json:"provider_types"`
	}{
		ProviderTypes: s.registry.Summaries(),
	}, http.StatusOK)
}

func (s *Server) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.definitionDetail(w, r)
	if !ok {
		return
	}
	writeJSON(w, detail, http.StatusOK)
}

// handleGetDefinitionConfig returns only what a client needs to render the
// configuration form of a vendor.
func (s *Server) handleGetDefinitionConfig(w http.ResponseWriter, r *http.Request) {
	detail, ok := s.definitionDetail(w, r)
	if !ok {
		return
	}
	writeJSON(w, struct {
		Vendor         types.Vendor   `json:"vendor"`
		Label          string         `json:"label"`
		RequiresWizard bool           `json:"requires_wizard"`
		ConfigSchema   map[string]any `json:"config_schema"`
	}{
		Vendor:         detail.Vendor,
		Label:          detail.Label,
		RequiresWizard: detail.RequiresWizard,
		ConfigSchema:   detail.ConfigSchema,
	}, http.StatusOK)
}

func (s *Server) definitionDetail(w http.ResponseWriter, r *http.Request) (types.ProviderDefinitionDetail, bool) {
	ctx := r.Context()
	vendor, ok := pathVendor(w, r)
	if !ok {
		return types.ProviderDefinitionDetail{}, false
	}
	detail, err := s.registry.Detail(vendor)
	if errors.Is(err, provider.ErrUnknownVendor) {
		writeJSONError(w, "provider definition not found", http.StatusNotFound)
		return types.ProviderDefinitionDetail{}, false
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to render provider definition", slog.Any("error", err))
		writeJSONError(w, "failed to render provider definition", http.StatusInternalServerError)
		return types.ProviderDefinitionDetail{}, false
	}
	return detail, true
}
