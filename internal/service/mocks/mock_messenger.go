package mocks

import (
	"context"
	"sync"

	"debtapproval/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// Messenger is a testify mock of service.Messenger that also keeps every delivered prompt.
type Messenger struct {
	mock.Mock

	mu   sync.Mutex
	sent map[uuid.UUID][]service.Prompt
}

func (m *Messenger) Send(ctx context.Context, userID uuid.UUID, p service.Prompt) error {
	args := m.Called(ctx, userID, p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == nil {
		m.sent = map[uuid.UUID][]service.Prompt{}
	}
	m.sent[userID] = append(m.sent[userID], p)
	return args.Error(0)
}

// Sent returns the prompts delivered to userID in order.
func (m *Messenger) Sent(userID uuid.UUID) []service.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]service.Prompt(nil), m.sent[userID]...)
}

// AcceptAll makes every Send succeed.
func (m *Messenger) AcceptAll() *Messenger {
	m.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return m
}
