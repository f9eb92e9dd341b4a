// Package conversation stores agent chat history per session, in Redis when
// configured and in process memory otherwise.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"databricks_smoke/internal/logger"

	"github.com/cloudwego/eino/schema"
)

// DefaultTTL bounds how long an idle session's history is kept.
const DefaultTTL = 24 * time.Hour

type History struct {
	Messages []*schema.Message `json:"messages"`
}

type Repository interface {
	Load(ctx context.Context, sessionID string) (*History, error)
	Save(ctx context.Context, sessionID string, history *History) error
	AddMessages(ctx context.Context, sessionID string, messages ...*schema.Message) error
	Close() error
}

// NewRepository connects to Redis when redisURL is set, otherwise keeps
// history in memory.
func NewRepository(ctx context.Context, redisURL string, ttl time.Duration) (Repository, error) {
	if redisURL == "" {
		logger.Debug().Msg("REDIS_URL not set, keeping conversation history in memory")
		return NewMemoryRepository(), nil
	}
	repo, err := NewRedisRepository(ctx, redisURL, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}
	return repo, nil
}

// MemoryRepository keeps history for the life of the process.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string][]*schema.Message
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: map[string][]*schema.Message{}}
}

func (m *MemoryRepository) Load(ctx context.Context, sessionID string) (*History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := append([]*schema.Message{}, m.sessions[sessionID]...)
	return &History{Messages: msgs}, nil
}

func (m *MemoryRepository) Save(ctx context.Context, sessionID string, history *History) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = append([]*schema.Message{}, history.Messages...)
	return nil
}

func (m *MemoryRepository) AddMessages(ctx context.Context, sessionID string, messages ...*schema.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = append(m.sessions[sessionID], messages...)
	return nil
}

func (m *MemoryRepository) Close() error { return nil }
