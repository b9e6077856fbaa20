package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	auditQueueKey = "audit_events"
)

// Event - неизменяемая запись аудита о переходе этапа инцидента
type Event struct {
	IncidentID uuid.UUID       `json:"incident_id"`
	Stage      string          `json:"stage"`
	Timestamp  time.Time       `json:"timestamp"`
	Outcome    string          `json:"outcome"` // completed, escalated, cancelled, resolved
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Publisher - интерфейс для публикации событий аудита
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// RedisPublisher - реализация Publisher, использующая Redis как локальный буфер.
// Доставка выполняется воркером асинхронно: публикация не блокирует конвейер.
type RedisPublisher struct {
	redisClient *redis.Client
}

// NewRedisPublisher создает новый RedisPublisher
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{
		redisClient: client,
	}
}

// Publish добавляет событие аудита в очередь Redis
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	// Используем LPUSH для добавления события в левую часть списка (очереди)
	if err := p.redisClient.LPush(ctx, auditQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish audit event to Redis: %w", err)
	}
	return nil
}
