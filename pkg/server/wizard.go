package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/smartenergy/smartenergy/pkg/log"
	"github.com/smartenergy/smartenergy/pkg/provider"
	"github.com/smartenergy/smartenergy/pkg/schema"
	"github.com/smartenergy/smartenergy/pkg/wizard"
)

// legacy clients send the session id inside the payload
const payloadSessionID = "wizard_session_id"

func (s *Server) handleWizardStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vendor, ok := pathVendor(w, r)
	if !ok {
		return
	}

	name, stepSchema, err := s.engine.InitialStep(vendor)
	if err != nil {
		// a vendor that should have a wizard but cannot start one is our bug
		if def, found := s.registry.Get(vendor); found && def.RequiresWizard && def.Wizard != nil {
			log.Ctx(ctx).ErrorContext(ctx, "wizard is misconfigured", slog.String("vendor", string(vendor)), slog.Any("error", err))
			writeJSONError(w, "internal wizard error", http.StatusInternalServerError)
			return
		}
		s.writeWizardError(ctx, w, err)
		return
	}

	writeJSON(w, wizard.Outcome{
		Vendor:  vendor,
		Step:    name,
		Schema:  stepSchema,
		Options: map[string]any{},
		Context: map[string]any{},
	}, http.StatusOK)
}

// readWizardBody decodes {payload, context}. A body without a payload object
// is the payload itself.
func readWizardBody(w http.ResponseWriter, r *http.Request) (payload, wctx map[string]any, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, err
	}
	body := map[string]any{}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &body); err != nil {
			return nil, nil, err
		}
		if body == nil {
			body = map[string]any{}
		}
	}

	wctx, _ = body["context"].(map[string]any)
	if p, ok := body["payload"].(map[string]any); ok {
		payload = p
	} else {
		payload = body
		delete(payload, "context")
		delete(payload, "payload")
	}
	delete(payload, payloadSessionID)
	return payload, wctx, nil
}

func (s *Server) handleWizardStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vendor, ok := pathVendor(w, r)
	if !ok {
		return
	}

	payload, wctx, err := readWizardBody(w, r)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to read wizard request", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	out, err := s.engine.RunStep(ctx, vendor, r.PathValue("step"), payload, wctx)
	if err != nil {
		s.writeWizardError(ctx, w, err)
		return
	}
	writeJSON(w, out, http.StatusOK)
}

func (s *Server) handleWizardAbandon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vendor, ok := pathVendor(w, r)
	if !ok {
		return
	}

	_, wctx, err := readWizardBody(w, r)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to read wizard request", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.engine.Abandon(ctx, vendor, wctx); err != nil {
		s.writeWizardError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type fieldErrorResponse struct {
	Error  string              `json:"error"`
	Fields []schema.FieldError `json:"fields"`
}

type providerErrorResponse struct {
	Error providerErrorBody `json:"error"`
}

type providerErrorBody struct {
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// writeWizardError maps an engine error onto a status code. Expected
// failures are logged below error level.
func (s *Server) writeWizardError(ctx context.Context, w http.ResponseWriter, err error) {
	var verr *schema.ValidationError
	var perr *provider.Error
	switch {
	case errors.As(err, &verr):
		log.Ctx(ctx).InfoContext(ctx, "wizard input rejected", slog.Any("error", err))
		writeJSON(w, fieldErrorResponse{
			Error:  "validation failed",
			Fields: verr.Fields,
		}, http.StatusUnprocessableEntity)
	case errors.As(err, &perr):
		status := perr.StatusCode
		// a 401 would tell clients their own session is invalid
		if status == http.StatusUnauthorized {
			status = http.StatusBadRequest
		}
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		log.Ctx(ctx).WarnContext(ctx, "wizard provider error", slog.String("vendor", string(perr.Vendor)), slog.String("code", perr.Code), slog.Any("error", err))
		writeJSON(w, providerErrorResponse{Error: providerErrorBody{
			Message: perr.Message,
			Code:    perr.Code,
			Details: perr.Details,
		}}, status)
	case errors.Is(err, wizard.ErrNotConfigured), errors.Is(err, wizard.ErrStepNotFound):
		log.Ctx(ctx).InfoContext(ctx, "wizard not found", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, wizard.ErrSessionExpired):
		log.Ctx(ctx).InfoContext(ctx, "wizard session expired", slog.Any("error", err))
		writeJSONError(w, "wizard session expired, start again", http.StatusGone)
	case errors.Is(err, wizard.ErrSessionState):
		log.Ctx(ctx).WarnContext(ctx, "wizard session state error", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, wizard.ErrWizardResult):
		log.Ctx(ctx).WarnContext(ctx, "wizard step returned an invalid result", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	default:
		log.Ctx(ctx).ErrorContext(ctx, "wizard failed", slog.Any("error", err))
		writeJSONError(w, "internal wizard error", http.StatusInternalServerError)
	}
}

