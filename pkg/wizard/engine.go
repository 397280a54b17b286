package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/smartenergy/smartenergy/pkg/log"
	"github.com/smartenergy/smartenergy/pkg/metrics"
	"github.com/smartenergy/smartenergy/pkg/schema"
	"github.com/smartenergy/smartenergy/pkg/storage"
	"github.com/smartenergy/smartenergy/pkg/types"
)

// ContextSessionID is the key of the session id inside the opaque context a
// caller replays between steps.
const ContextSessionID = "session_id"

// DefaultStepTimeout bounds a single step, including its vendor calls.
const DefaultStepTimeout = 30 * time.Second

// Store holds wizard sessions between steps. See storage.Sessions for the
// error contract.
type Store interface {
	Create(ctx context.Context, vendor types.Vendor) (types.WizardSession, error)
	Get(ctx context.Context, id string) (types.WizardSession, error)
	Update(ctx context.Context, id string, update types.WizardSessionUpdate) error
	Destroy(ctx context.Context, id string) error
}

// Definition is the part of a provider definition the engine needs.
type Definition struct {
	// Flow is nil when the vendor does not use a wizard.
	Flow *Flow
	// Config validates the final configuration.
	Config *schema.Validator
}

// Definitions resolves vendors to their wizard definition.
type Definitions interface {
	WizardDefinition(vendor types.Vendor) (Definition, bool)
}

// Config holds the engine policies.
type Config struct {
	// StrictOrder only allows the step the session expects next, or a re-run
	// of the last completed step. When false any step of the flow may run
	// once a session exists.
	StrictOrder bool
	// StepTimeout bounds each step. Zero means DefaultStepTimeout.
	StepTimeout time.Duration
}

// Outcome is the response of a step run. FinalConfig holds the vendor
// credentials and is only meant for the caller that stores the provider.
type Outcome struct {
	Vendor      types.Vendor   `json:"vendor"`
	Step        string         `json:"step"`
	Schema      *schema.Schema `json:"schema,omitempty"`
	Options     map[string]any `json:"options"`
	Context     map[string]any `json:"context"`
	IsComplete  bool           `json:"is_complete"`
	FinalConfig map[string]any `json:"final_config"`
}

// Engine runs wizard steps against a session store.
type Engine struct {
	defs  Definitions
	store Store
	cfg   Config
}

// New returns an Engine.
func New(defs Definitions, store Store, cfg Config) *Engine {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	return &Engine{defs: defs, store: store, cfg: cfg}
}

// Configured returns an Engine whose policies are set by flags.
func Configured(defs Definitions, store Store) *Engine {
	strictOrder := lflag.Bool("wizard-strict-order", true, "Only allow the wizard step the session expects next")
	stepTimeout := lflag.Duration("wizard-step-timeout", DefaultStepTimeout, "Timeout for a single wizard step, including vendor calls")

	e := New(defs, store, Config{})
	lflag.Do(func() {
		e.cfg.StrictOrder = *strictOrder
		if *stepTimeout > 0 {
			e.cfg.StepTimeout = *stepTimeout
		}
	})
	return e
}

// SessionID returns the session id carried in a wizard context.
func SessionID(wctx map[string]any) string {
	id, _ := wctx[ContextSessionID].(string)
	return id
}

func (e *Engine) definition(vendor types.Vendor) (Definition, error) {
	def, ok := e.defs.WizardDefinition(vendor)
	if !ok || def.Flow == nil {
		return Definition{}, fmt.Errorf("%w: %s", ErrNotConfigured, vendor)
	}
	return def, nil
}

// InitialStep returns the entry step of the vendor's wizard, which is always
// the auth step.
func (e *Engine) InitialStep(vendor types.Vendor) (string, *schema.Schema, error) {
	def, err := e.definition(vendor)
	if err != nil {
		return "", nil, err
	}
	first := def.Flow.First()
	if first.Name() != AuthStep {
		return "", nil, fmt.Errorf("%w: %s wizard starts with %q instead of %q", ErrNotConfigured, vendor, first.Name(), AuthStep)
	}
	return first.Name(), first.Schema(), nil
}

// RunStep validates payload against the step schema, runs the step and
// advances the session. Schema failures are returned as an unwrapped
// *schema.ValidationError.
func (e *Engine) RunStep(ctx context.Context, vendor types.Vendor, stepName string, payload, wctx map[string]any) (out Outcome, err error) {
	ctx = log.WithAttrs(ctx, slog.String("vendor", string(vendor)), slog.String("step", stepName))
	start := time.Now()
	// unknown vendors and steps share a label to bound cardinality
	vendorLabel, stepLabel := "unknown", "unknown"
	defer func() {
		metrics.WizardStepDuration.WithLabelValues(vendorLabel, stepLabel).Observe(time.Since(start).Seconds())
		metrics.WizardStepsTotal.WithLabelValues(vendorLabel, stepLabel, resultLabel(err)).Inc()
	}()

	def, err := e.definition(vendor)
	if err != nil {
		return Outcome{}, err
	}
	vendorLabel = string(vendor)
	if _, ok := def.Flow.Step(stepName); !ok {
		return Outcome{}, fmt.Errorf("%w: %s/%s", ErrStepNotFound, vendor, stepName)
	}
	stepLabel = stepName

	sess, err := e.session(ctx, vendor, stepName, wctx)
	if err != nil {
		return Outcome{}, err
	}

	if payload == nil {
		payload = map[string]any{}
	}
	if err := def.Flow.validator(stepName).Validate(payload); err != nil {
		log.Ctx(ctx).InfoContext(ctx, "wizard payload rejected", slog.Any("error", err))
		return Outcome{}, err
	}

	step, _ := def.Flow.Step(stepName)
	res, err := e.process(ctx, step, payload, types.MergeSessionData(nil, sess.Data))
	if err != nil {
		return Outcome{}, err
	}
	if err := checkResult(def.Flow, stepName, res); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "wizard step returned an invalid result", slog.Any("error", err))
		return Outcome{}, err
	}

	if res.IsComplete {
		if err := def.Config.Validate(res.FinalConfig); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "wizard final config rejected", slog.Any("error", err))
			return Outcome{}, err
		}
		e.replaced(ctx, stepName, wctx)
		if sess.ID != "" {
			if err := e.store.Destroy(ctx, sess.ID); err != nil {
				// the session expires on its own
				log.Ctx(ctx).WarnContext(ctx, "failed to destroy completed wizard session", slog.Any("error", err))
			}
		}
		metrics.WizardSessionsTotal.WithLabelValues(string(vendor), "completed").Inc()
		log.Ctx(ctx).InfoContext(ctx, "wizard completed")
		return Outcome{
			Vendor:      vendor,
			Step:        stepName,
			Options:     map[string]any{},
			Context:     map[string]any{},
			IsComplete:  true,
			FinalConfig: res.FinalConfig,
		}, nil
	}

	if sess.ID == "" {
		created, err := e.store.Create(ctx, vendor)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to create wizard session: %w", err)
		}
		sess = created
		metrics.WizardSessionsTotal.WithLabelValues(string(vendor), "created").Inc()
		e.replaced(ctx, stepName, wctx)
	}
	update := types.WizardSessionUpdate{
		Data:     res.SessionUpdates,
		LastStep: stepName,
		NextStep: res.NextStep,
	}
	if err := e.store.Update(ctx, sess.ID, update); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) || errors.Is(err, storage.ErrSessionExpired) {
			return Outcome{}, fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
		return Outcome{}, fmt.Errorf("failed to update wizard session: %w", err)
	}

	next, _ := def.Flow.Step(res.NextStep)
	options := res.Options
	if options == nil {
		options = map[string]any{}
	}
	return Outcome{
		Vendor:  vendor,
		Step:    next.Name(),
		Schema:  next.Schema(),
		Options: options,
		Context: map[string]any{ContextSessionID: sess.ID},
	}, nil
}

// session resolves the session a step runs against. The auth step always
// starts over with an unsaved session, which is only persisted once the step
// succeeds.
func (e *Engine) session(ctx context.Context, vendor types.Vendor, stepName string, wctx map[string]any) (types.WizardSession, error) {
	id := SessionID(wctx)
	if stepName == AuthStep {
		return types.WizardSession{Vendor: vendor, Data: map[string]any{}}, nil
	}

	if id == "" {
		return types.WizardSession{}, fmt.Errorf("%w: missing %s in context", ErrSessionState, ContextSessionID)
	}
	sess, err := e.store.Get(ctx, id)
	switch {
	case errors.Is(err, storage.ErrSessionExpired):
		log.Ctx(ctx).InfoContext(ctx, "wizard session expired", slog.String("sessionID", id))
		return types.WizardSession{}, fmt.Errorf("%w: %s", ErrSessionExpired, id)
	case errors.Is(err, storage.ErrSessionNotFound):
		log.Ctx(ctx).InfoContext(ctx, "wizard session not found", slog.String("sessionID", id))
		return types.WizardSession{}, fmt.Errorf("%w: %s", ErrSessionExpired, id)
	case err != nil:
		return types.WizardSession{}, fmt.Errorf("failed to load wizard session: %w", err)
	}

	if sess.Vendor != vendor {
		return types.WizardSession{}, fmt.Errorf("%w: session belongs to %s", ErrSessionState, sess.Vendor)
	}
	if e.cfg.StrictOrder && stepName != sess.NextStep && stepName != sess.LastStep {
		return types.WizardSession{}, fmt.Errorf("%w: expected step %q, got %q", ErrSessionState, sess.NextStep, stepName)
	}
	return sess, nil
}

// replaced destroys the session named in the context once a repeated auth
// step succeeded. A failed retry leaves the previous session usable.
func (e *Engine) replaced(ctx context.Context, stepName string, wctx map[string]any) {
	id := SessionID(wctx)
	if stepName != AuthStep || id == "" {
		return
	}
	if err := e.store.Destroy(ctx, id); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to destroy previous wizard session", slog.String("sessionID", id), slog.Any("error", err))
	}
}

func (e *Engine) process(ctx context.Context, step Step, payload, data map[string]any) (res StepResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).ErrorContext(ctx, "wizard step panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("wizard step %s panicked: %v", step.Name(), r)
		}
	}()
	res, err = step.Process(ctx, payload, data)
	if err != nil {
		return StepResult{}, fmt.Errorf("wizard step %s failed: %w", step.Name(), err)
	}
	return res, nil
}

func checkResult(flow *Flow, stepName string, res StepResult) error {
	switch {
	case res.IsComplete && res.NextStep != "":
		return fmt.Errorf("%w: step %s reported completion and next step %q", ErrWizardResult, stepName, res.NextStep)
	case !res.IsComplete && res.NextStep == "":
		return fmt.Errorf("%w: step %s reported neither completion nor a next step", ErrWizardResult, stepName)
	case !res.IsComplete:
		if _, ok := flow.Step(res.NextStep); !ok {
			return fmt.Errorf("%w: step %s points to unknown step %q", ErrWizardResult, stepName, res.NextStep)
		}
	}
	return nil
}

// Abandon destroys the session named in the context. Unknown or expired
// sessions are already gone and are not an error.
func (e *Engine) Abandon(ctx context.Context, vendor types.Vendor, wctx map[string]any) error {
	ctx = log.WithAttrs(ctx, slog.String("vendor", string(vendor)))
	if _, err := e.definition(vendor); err != nil {
		return err
	}
	id := SessionID(wctx)
	if id == "" {
		return fmt.Errorf("%w: missing %s in context", ErrSessionState, ContextSessionID)
	}
	sess, err := e.store.Get(ctx, id)
	switch {
	case errors.Is(err, storage.ErrSessionNotFound), errors.Is(err, storage.ErrSessionExpired):
		return nil
	case err != nil:
		return fmt.Errorf("failed to load wizard session: %w", err)
	}
	if sess.Vendor != vendor {
		return fmt.Errorf("%w: session belongs to %s", ErrSessionState, sess.Vendor)
	}
	if err := e.store.Destroy(ctx, id); err != nil {
		return fmt.Errorf("failed to destroy wizard session: %w", err)
	}
	metrics.WizardSessionsTotal.WithLabelValues(string(vendor), "abandoned").Inc()
	log.Ctx(ctx).InfoContext(ctx, "wizard abandoned", slog.String("sessionID", id))
	return nil
}

func resultLabel(err error) string {
	var verr *schema.ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "invalid"
	case errors.Is(err, ErrSessionExpired):
		return "expired"
	case errors.Is(err, ErrSessionState):
		return "state"
	case errors.Is(err, ErrWizardResult):
		return "result"
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrStepNotFound):
		return "not_found"
	default:
		return "error"
	}
}
