package inference

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/vintagevision/vintagevision/pkg/anthropic"
)

// mockAPI is a testify mock of anthropic.Client.
type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}
