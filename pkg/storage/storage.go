package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/smartenergy/smartenergy/pkg/log"
	"github.com/smartenergy/smartenergy/pkg/metrics"
	"github.com/smartenergy/smartenergy/pkg/types"
)

// DefaultSweepInterval is how often expired sessions are purged.
const DefaultSweepInterval = time.Minute

var (
	ErrSessionNotFound = errors.New("wizard session not found")
	ErrSessionExpired  = errors.New("wizard session expired")
)

// Sessions persists wizard sessions with a fixed time-to-live measured from
// creation.
type Sessions interface {
	// Create starts a new session for vendor with empty data.
	Create(ctx context.Context, vendor types.Vendor) (types.WizardSession, error)
	// Get returns ErrSessionNotFound for unknown ids and ErrSessionExpired
	// once the deadline has passed.
	Get(ctx context.Context, id string) (types.WizardSession, error)
	// Update merges update.Data into the session data at the top level and
	// records the step markers. Concurrent updates are last-writer-wins per
	// key.
	Update(ctx context.Context, id string, update types.WizardSessionUpdate) error
	// Destroy removes the session. Destroying an unknown id is not an error.
	Destroy(ctx context.Context, id string) error
	// PurgeExpired removes every expired session and returns how many were
	// removed.
	PurgeExpired(ctx context.Context) (int, error)

	// Lifecycle
	Close() error
}

// Configured sets up the session store based on flags.
func Configured() Sessions {
	provider := lflag.String("wizard-session-store", "memory", "Wizard session store to use (available: memory, firestore)")
	ttl := lflag.Duration("wizard-session-ttl", 30*time.Minute, "How long a wizard session lives after creation")

	var p struct{ Sessions }

	fs := configuredFirestore()

	lflag.Do(func() {
		if *ttl <= 0 {
			panic(fmt.Sprintf("wizard-session-ttl must be positive: %s", *ttl))
		}
		switch *provider {
		case "memory":
			p.Sessions = NewMemory(*ttl)
		case "firestore":
			fs.ttl = *ttl
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Sessions = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown wizard session store: %s", *provider))
		}
	})

	return &p
}

// Sweep purges expired sessions of s every interval until ctx is done.
func Sweep(ctx context.Context, s Sessions, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to purge expired wizard sessions", slog.Any("error", err))
			}
			if n > 0 {
				metrics.WizardSessionsPurgedTotal.Add(float64(n))
				log.Ctx(ctx).DebugContext(ctx, "purged expired wizard sessions", slog.Int("count", n))
			}
		}
	}
}
