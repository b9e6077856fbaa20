package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/service"
)

type IncidentRepository struct {
	db          *pgxpool.Pool
	redisClient *redis.Client
}

func NewIncidentRepository(db *pgxpool.Pool, redisClient *redis.Client) service.IncidentRepository {
	return &IncidentRepository{
		db:          db,
		redisClient: redisClient,
	}
}

const incidentColumns = `
	id,
	caller_name,
	caller_phone,
	incident_type,
	symptoms,
	summary,
	ST_Y(location::geometry) as latitude,
	ST_X(location::geometry) as longitude,
	address,
	priority,
	status,
	escalated,
	escalation_reason,
	assigned_responder_id,
	stage_outputs,
	created_at,
	updated_at
`

// Create создает новую запись об инциденте в бд
func (r *IncidentRepository) Create(ctx context.Context, incident *models.Incident) error {
	stageOutputs, err := json.Marshal(incident.StageOutputs)
	if err != nil {
		return fmt.Errorf("failed to marshal stage outputs: %w", err)
	}

	query := `
		INSERT INTO incidents (caller_name, caller_phone, incident_type, symptoms, summary, location, address, priority, status, stage_outputs)
		VALUES ($1, $2, $3, $4, $5, ST_SetSRID(ST_MakePoint($6, $7), 4326), $8, $9, $10, $11) RETURNING id, created_at, updated_at;
	`
	err = r.db.QueryRow(ctx, query,
		incident.CallerName,
		incident.CallerPhone,
		incident.IncidentType,
		incident.Symptoms,
		incident.Summary,
		incident.Longitude,
		incident.Latitude,
		incident.Address,
		incident.Priority,
		incident.Status,
		stageOutputs,
	).Scan(&incident.ID, &incident.CreatedAt, &incident.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	return nil
}

// GetByID возвращает инцидент по его UUID
func (r *IncidentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1;`

	incident, err := scanIncident(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("incident with id %s not found", id)
		}
		return nil, fmt.Errorf("failed to get incident by id: %w", err)
	}
	return incident, nil
}

// List возвращает список инцидентов с пагинацией
func (r *IncidentRepository) List(ctx context.Context, page, pageSize int) ([]*models.Incident, error) {
	// рассчитываем смещение
	offset := (page - 1) * pageSize

	query := `SELECT ` + incidentColumns + ` FROM incidents ORDER BY created_at DESC LIMIT $1 OFFSET $2;`
	rows, err := r.db.Query(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	incidents := make([]*models.Incident, 0)
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident row: %w", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error list iteration: %w", err)
	}
	return incidents, nil
}

// UpdateStageCAS выполняет условный переход статуса: обновление применяется только если
// текущий статус равен ожидаемому и результат этапа еще не записан. Второе условие
// линеаризует этапы, не меняющие статус: два конкурентных прохода одного этапа
// не могут оба записать результат. Возвращает false, если переход проиграл гонку.
func (r *IncidentRepository) UpdateStageCAS(ctx context.Context, id uuid.UUID, expected, next models.IncidentStatus, patch *models.IncidentPatch) (bool, error) {
	if patch == nil {
		patch = &models.IncidentPatch{}
	}

	var stageOutput []byte
	stageKey := string(patch.Stage)
	if len(patch.StageOutput) > 0 {
		stageOutput = patch.StageOutput
	} else {
		stageKey = ""
		stageOutput = []byte("null")
	}

	query := `
		UPDATE incidents SET
			status = $3,
			priority = COALESCE($4, priority),
			summary = COALESCE($5, summary),
			address = COALESCE($6, address),
			location = CASE
				WHEN $7::float8 IS NULL OR $8::float8 IS NULL THEN location
				ELSE ST_SetSRID(ST_MakePoint($8, $7), 4326)
			END,
			assigned_responder_id = COALESCE($9, assigned_responder_id),
			stage_outputs = CASE
				WHEN $10 = '' THEN stage_outputs
				ELSE jsonb_set(stage_outputs, ARRAY[$10], $11::jsonb)
			END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
			AND ($10 = '' OR NOT stage_outputs ? $10);
	`
	cmdTag, err := r.db.Exec(ctx, query,
		id,
		expected,
		next,
		patch.Priority,
		patch.Summary,
		patch.Address,
		patch.Latitude,
		patch.Longitude,
		patch.AssignedResponderID,
		stageKey,
		stageOutput,
	)
	if err != nil {
		return false, fmt.Errorf("failed to apply stage transition: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// MarkEscalated помечает инцидент для передачи оператору, не меняя его статус
func (r *IncidentRepository) MarkEscalated(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE incidents SET
			escalated = TRUE,
			escalation_reason = $2,
			updated_at = NOW()
		WHERE id = $1;
	`
	cmdTag, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("failed to mark incident escalated: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("incident with id %s not found for escalation", id)
	}
	return nil
}

// GetStats возвращает сводные счетчики для операторской панели
func (r *IncidentRepository) GetStats(ctx context.Context) (*models.DashboardStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM incidents WHERE status NOT IN ('resolved', 'cancelled')),
			(SELECT COUNT(*) FROM incidents WHERE escalated AND status NOT IN ('resolved', 'cancelled')),
			(SELECT COUNT(*) FROM responders WHERE status = 'available'),
			(SELECT COUNT(*) FROM responders WHERE status IN ('reserved', 'en_route', 'busy'));
	`
	stats := &models.DashboardStats{}
	err := r.db.QueryRow(ctx, query).Scan(
		&stats.ActiveIncidents,
		&stats.EscalatedIncidents,
		&stats.AvailableResponders,
		&stats.BusyResponders,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get dashboard stats: %w", err)
	}
	stats.TotalResponders = stats.AvailableResponders + stats.BusyResponders
	return stats, nil
}

// GetIncidentFromCache пытается получить инцидент из Redis
func (r *IncidentRepository) GetIncidentFromCache(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	key := fmt.Sprintf("incident:%s", id.String())
	val, err := r.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get incident from cache: %w", err)
	}

	incident := &models.Incident{}
	if err := json.Unmarshal(val, incident); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incident from cache: %w", err)
	}
	return incident, nil
}

// SetIncidentCache сохраняет инцидент в Redis
func (r *IncidentRepository) SetIncidentCache(ctx context.Context, incident *models.Incident) error {
	key := fmt.Sprintf("incident:%s", incident.ID.String())
	val, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("failed to marshal incident for cache: %w", err)
	}
	// Устанавливаем срок жизни кэша, например, 5 минут
	if err := r.redisClient.Set(ctx, key, val, 5*time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to set incident in cache: %w", err)
	}
	return nil
}

// InvalidateIncidentCache удаляет инцидент из Redis кэша
func (r *IncidentRepository) InvalidateIncidentCache(ctx context.Context, id uuid.UUID) error {
	key := fmt.Sprintf("incident:%s", id.String())
	if err := r.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate incident cache: %w", err)
	}
	return nil
}

// scanIncident читает строку инцидента в модель
func scanIncident(row pgx.Row) (*models.Incident, error) {
	incident := &models.Incident{}
	err := row.Scan(
		&incident.ID,
		&incident.CallerName,
		&incident.CallerPhone,
		&incident.IncidentType,
		&incident.Symptoms,
		&incident.Summary,
		&incident.Latitude,
		&incident.Longitude,
		&incident.Address,
		&incident.Priority,
		&incident.Status,
		&incident.Escalated,
		&incident.EscalationReason,
		&incident.AssignedResponderID,
		&incident.StageOutputs,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return incident, nil
}
