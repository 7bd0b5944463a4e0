package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/riskmap-cli/internal/model"
)

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateRun(ctx context.Context, command string, layers []string) (*model.Run, error) {
	args := m.Called(ctx, command, layers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) CompleteRun(ctx context.Context, runID string, runErr error) error {
	args := m.Called(ctx, runID, runErr)
	return args.Error(0)
}

func (m *mockStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) SaveStats(ctx context.Context, runID string, recs []model.StatsRecord) (int64, error) {
	args := m.Called(ctx, runID, recs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) ListStats(ctx context.Context, riskType string) ([]model.StatsRecord, error) {
	args := m.Called(ctx, riskType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.StatsRecord), args.Error(1)
}

func (m *mockStore) GetTile(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockStore) SetTile(ctx context.Context, key string, data []byte) error {
	args := m.Called(ctx, key, data)
	return args.Error(0)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
