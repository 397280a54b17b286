package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/smartenergy/smartenergy/pkg/log"
	"github.com/smartenergy/smartenergy/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const sessionsCollection = "wizard_sessions"

// FirestoreProvider stores wizard sessions in Google Cloud Firestore so they
// can be resumed by any instance. Session data may hold vendor credentials so
// every data value is sealed before it is written.
type FirestoreProvider struct {
	client    *firestore.Client
	sealer    *Sealer
	projectID string
	database  string
	ttl       time.Duration
	now       func() time.Time
}

var _ Sessions = (*FirestoreProvider)(nil)

// sessionDoc is the stored form of a session. Data values are sealed JSON.
type sessionDoc struct {
	Vendor    string            `firestore:"vendor"`
	Data      map[string][]byte `firestore:"data"`
	LastStep  string            `firestore:"lastStep"`
	NextStep  string            `firestore:"nextStep"`
	CreatedAt time.Time         `firestore:"createdAt"`
	ExpiresAt time.Time         `firestore:"expiresAt"`
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	encryptionKey := lflag.String("credentials-encryption-key", "", "32 character key for sealing wizard session data at rest")

	f := &FirestoreProvider{now: time.Now}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}

		if *encryptionKey != "" {
			sealer, err := NewSealer(*encryptionKey)
			if err != nil {
				log.Ctx(context.Background()).Error("invalid credentials-encryption-key", slog.Any("error", err))
				os.Exit(1)
			}
			f.sealer = sealer
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if f.sealer == nil {
		return errors.New("credentials-encryption-key is required for the firestore session store")
	}
	if f.ttl <= 0 {
		return errors.New("session ttl must be positive")
	}
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) sessionDoc(id string) (*firestore.DocumentRef, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	return f.client.Collection(sessionsCollection).Doc(id), nil
}

// Create implements Sessions.
func (f *FirestoreProvider) Create(ctx context.Context, vendor types.Vendor) (types.WizardSession, error) {
	now := f.now().UTC()
	sess := types.WizardSession{
		ID:        uuid.NewString(),
		Vendor:    vendor,
		Data:      map[string]any{},
		CreatedAt: now,
		ExpiresAt: now.Add(f.ttl),
	}
	ref, err := f.sessionDoc(sess.ID)
	if err != nil {
		return types.WizardSession{}, err
	}
	_, err = ref.Create(ctx, sessionDoc{
		Vendor:    string(vendor),
		Data:      map[string][]byte{},
		CreatedAt: sess.CreatedAt,
		ExpiresAt: sess.ExpiresAt,
	})
	if err != nil {
		return types.WizardSession{}, fmt.Errorf("failed to create session doc: %w", err)
	}
	return sess, nil
}

// Get implements Sessions.
func (f *FirestoreProvider) Get(ctx context.Context, id string) (types.WizardSession, error) {
	ref, err := f.sessionDoc(id)
	if err != nil {
		return types.WizardSession{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.WizardSession{}, ErrSessionNotFound
		}
		return types.WizardSession{}, fmt.Errorf("failed to fetch session doc: %w", err)
	}

	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode session doc", slog.String("sessionID", id), slog.Any("err", err))
		return types.WizardSession{}, fmt.Errorf("failed to decode session doc: %w", err)
	}

	sess := types.WizardSession{
		ID:        id,
		Vendor:    types.Vendor(doc.Vendor),
		Data:      make(map[string]any, len(doc.Data)),
		LastStep:  doc.LastStep,
		NextStep:  doc.NextStep,
		CreatedAt: doc.CreatedAt,
		ExpiresAt: doc.ExpiresAt,
	}
	if sess.Expired(f.now()) {
		return types.WizardSession{}, ErrSessionExpired
	}
	for k, sealed := range doc.Data {
		var v any
		if err := f.sealer.Open(ctx, sealed, &v); err != nil {
			return types.WizardSession{}, fmt.Errorf("failed to open session value %q: %w", k, err)
		}
		sess.Data[k] = v
	}
	return sess, nil
}

// Update implements Sessions. Each data key is written as its own field path
// so concurrent writers only overwrite the keys they set.
func (f *FirestoreProvider) Update(ctx context.Context, id string, update types.WizardSessionUpdate) error {
	ref, err := f.sessionDoc(id)
	if err != nil {
		return err
	}

	// read first so expired sessions cannot be extended by a late writer
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to fetch session doc: %w", err)
	}
	if v, err := snap.DataAt("expiresAt"); err == nil {
		if exp, ok := v.(time.Time); ok && !f.now().Before(exp) {
			return ErrSessionExpired
		}
	}

	updates := []firestore.Update{
		{FieldPath: firestore.FieldPath{"nextStep"}, Value: update.NextStep},
	}
	if update.LastStep != "" {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{"lastStep"}, Value: update.LastStep})
	}
	for k, v := range update.Data {
		sealed, err := f.sealer.Seal(ctx, v)
		if err != nil {
			return fmt.Errorf("failed to seal session value %q: %w", k, err)
		}
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{"data", k}, Value: sealed})
	}

	if _, err := ref.Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to update session doc: %w", err)
	}
	return nil
}

// Destroy implements Sessions.
func (f *FirestoreProvider) Destroy(ctx context.Context, id string) error {
	ref, err := f.sessionDoc(id)
	if err != nil {
		return nil
	}
	if _, err := ref.Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("failed to delete session doc: %w", err)
	}
	return nil
}

// PurgeExpired implements Sessions.
func (f *FirestoreProvider) PurgeExpired(ctx context.Context) (int, error) {
	iter := f.client.Collection(sessionsCollection).
		Where("expiresAt", "<=", f.now().UTC()).
		Documents(ctx)
	defer iter.Stop()

	var purged int
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return purged, fmt.Errorf("error iterating sessions: %w", err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
			return purged, fmt.Errorf("failed to delete session doc %s: %w", doc.Ref.ID, err)
		}
		purged++
	}
	return purged, nil
}
