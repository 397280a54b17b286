package storagemock

import (
	"context"

	"github.com/smartenergy/smartenergy/pkg/storage"
	"github.com/smartenergy/smartenergy/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockSessions struct {
	mock.Mock
}

var _ storage.Sessions = (*MockSessions)(nil)

func (m *MockSessions) Create(ctx context.Context, vendor types.Vendor) (types.WizardSession, error) {
	args := m.Called(ctx, vendor)
	return args.Get(0).(types.WizardSession), args.Error(1)
}

func (m *MockSessions) Get(ctx context.Context, id string) (types.WizardSession, error) {
	args := m.Called(ctx, id)
	// return empty if not specified, or checks args
	if len(args) > 1 {
		return args.Get(0).(types.WizardSession), args.Error(1)
	}
	return types.WizardSession{}, args.Error(0)
}

func (m *MockSessions) Update(ctx context.Context, id string, update types.WizardSessionUpdate) error {
	args := m.Called(ctx, id, update)
	return args.Error(0)
}

func (m *MockSessions) Destroy(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSessions) PurgeExpired(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockSessions) Close() error {
	args := m.Called()
	return args.Error(0)
}
