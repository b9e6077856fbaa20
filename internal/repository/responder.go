package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/shenikar/emergency_dispatch_system/internal/service"
)

type ResponderRepository struct {
	db *pgxpool.Pool
}

func NewResponderRepository(db *pgxpool.Pool) service.ResponderRepository {
	return &ResponderRepository{db: db}
}

// FindNearest возвращает до limit бригад в радиусе, отсортированных по сырому расстоянию.
// Фильтр по возможностям использует вхождение массива: бригада должна покрывать все требуемые.
func (r *ResponderRepository) FindNearest(ctx context.Context, lat, lng, radiusMeters float64, filter models.ResponderFilter, limit int) ([]*models.ResponderCandidate, error) {
	capabilities := filter.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}

	query := `
		SELECT
			id,
			name,
			phone,
			ST_Y(location::geometry) as latitude,
			ST_X(location::geometry) as longitude,
			status,
			vehicle_type,
			capabilities,
			capacity,
			active_load,
			created_at,
			updated_at,
			ST_Distance(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) as distance_meters
		FROM responders
		WHERE
			status = $3
			AND ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $4)
			AND ($5 = '' OR vehicle_type = $5)
			AND capabilities @> $6
		ORDER BY distance_meters
		LIMIT $7;
	`
	rows, err := r.db.Query(ctx, query, lng, lat, filter.Status, radiusMeters, filter.VehicleType, capabilities, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find nearest responders: %w", err)
	}
	defer rows.Close()

	candidates := make([]*models.ResponderCandidate, 0)
	for rows.Next() {
		candidate := &models.ResponderCandidate{}
		err := rows.Scan(
			&candidate.ID,
			&candidate.Name,
			&candidate.Phone,
			&candidate.Latitude,
			&candidate.Longitude,
			&candidate.Status,
			&candidate.VehicleType,
			&candidate.Capabilities,
			&candidate.Capacity,
			&candidate.ActiveLoad,
			&candidate.CreatedAt,
			&candidate.UpdatedAt,
			&candidate.DistanceMeters,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan responder row: %w", err)
		}
		candidates = append(candidates, candidate)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error responder iteration: %w", err)
	}
	return candidates, nil
}

// GetByID возвращает бригаду по ее UUID
func (r *ResponderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Responder, error) {
	responder := &models.Responder{}
	query := `
		SELECT
			id,
			name,
			phone,
			ST_Y(location::geometry) as latitude,
			ST_X(location::geometry) as longitude,
			status,
			vehicle_type,
			capabilities,
			capacity,
			active_load,
			created_at,
			updated_at
		FROM responders
		WHERE id = $1;
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&responder.ID,
		&responder.Name,
		&responder.Phone,
		&responder.Latitude,
		&responder.Longitude,
		&responder.Status,
		&responder.VehicleType,
		&responder.Capabilities,
		&responder.Capacity,
		&responder.ActiveLoad,
		&responder.CreatedAt,
		&responder.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("responder with id %s not found", id)
		}
		return nil, fmt.Errorf("failed to get responder by id: %w", err)
	}
	return responder, nil
}

// Reserve выполняет атомарный compare-and-set статуса бригады.
// Резерв успешен только если статус все еще равен ожидаемому: две конкурирующие
// аллокации не могут захватить одну бригаду.
func (r *ResponderRepository) Reserve(ctx context.Context, id uuid.UUID, expected, next models.ResponderStatus) (bool, error) {
	query := `
		UPDATE responders SET
			status = $3,
			updated_at = NOW()
		WHERE id = $1 AND status = $2;
	`
	cmdTag, err := r.db.Exec(ctx, query, id, expected, next)
	if err != nil {
		return false, fmt.Errorf("failed to reserve responder: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// UpdateStatus безусловно выставляет статус бригады
func (r *ResponderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ResponderStatus) error {
	query := `
		UPDATE responders SET
			status = $2,
			updated_at = NOW()
		WHERE id = $1;
	`
	cmdTag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update responder status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("responder with id %s not found for status update", id)
	}
	return nil
}

// UpdateLocation обновляет текущие координаты бригады
func (r *ResponderRepository) UpdateLocation(ctx context.Context, id uuid.UUID, lat, lng float64) error {
	query := `
		UPDATE responders SET
			location = ST_SetSRID(ST_MakePoint($2, $3), 4326),
			updated_at = NOW()
		WHERE id = $1;
	`
	cmdTag, err := r.db.Exec(ctx, query, id, lng, lat)
	if err != nil {
		return fmt.Errorf("failed to update responder location: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("responder with id %s not found for location update", id)
	}
	return nil
}

// AdjustLoad изменяет счетчик текущих назначений бригады
func (r *ResponderRepository) AdjustLoad(ctx context.Context, id uuid.UUID, delta int) error {
	query := `
		UPDATE responders SET
			active_load = GREATEST(active_load + $2, 0),
			updated_at = NOW()
		WHERE id = $1;
	`
	cmdTag, err := r.db.Exec(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust responder load: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("responder with id %s not found for load adjustment", id)
	}
	return nil
}
