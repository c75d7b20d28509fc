package mocks

import (
	"context"

	"personnelexport/internal/portal"
	"github.com/stretchr/testify/mock"
)

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, creds portal.Credentials, q portal.Query) (*portal.Listing, error) {
	args := m.Called(ctx, creds, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*portal.Listing), args.Error(1)
}
