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

type HospitalRepository struct {
	db *pgxpool.Pool
}

func NewHospitalRepository(db *pgxpool.Pool) service.HospitalRepository {
	return &HospitalRepository{db: db}
}

// FindNearest возвращает до limit работающих больниц в радиусе с нужным профилем
// и достаточным числом коек, отсортированных по сырому расстоянию
func (r *HospitalRepository) FindNearest(ctx context.Context, lat, lng, radiusMeters float64, filter models.HospitalFilter, limit int) ([]*models.HospitalCandidate, error) {
	minBeds := filter.MinBeds
	if minBeds < 1 {
		minBeds = 1
	}

	query := `
		SELECT
			id,
			name,
			address,
			contact_phone,
			ST_Y(location::geometry) as latitude,
			ST_X(location::geometry) as longitude,
			beds_available,
			specialties,
			status,
			created_at,
			updated_at,
			ST_Distance(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) as distance_meters
		FROM hospitals
		WHERE
			status = 'operational'
			AND beds_available >= $3
			AND ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $4)
			AND ($5 = '' OR specialties @> ARRAY[$5])
		ORDER BY distance_meters
		LIMIT $6;
	`
	rows, err := r.db.Query(ctx, query, lng, lat, minBeds, radiusMeters, filter.Specialty, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find nearest hospitals: %w", err)
	}
	defer rows.Close()

	candidates := make([]*models.HospitalCandidate, 0)
	for rows.Next() {
		candidate := &models.HospitalCandidate{}
		err := rows.Scan(
			&candidate.ID,
			&candidate.Name,
			&candidate.Address,
			&candidate.ContactPhone,
			&candidate.Latitude,
			&candidate.Longitude,
			&candidate.BedsAvailable,
			&candidate.Specialties,
			&candidate.Status,
			&candidate.CreatedAt,
			&candidate.UpdatedAt,
			&candidate.DistanceMeters,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hospital row: %w", err)
		}
		candidates = append(candidates, candidate)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error hospital iteration: %w", err)
	}
	return candidates, nil
}

// GetByID возвращает больницу по ее UUID
func (r *HospitalRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Hospital, error) {
	hospital := &models.Hospital{}
	query := `
		SELECT
			id,
			name,
			address,
			contact_phone,
			ST_Y(location::geometry) as latitude,
			ST_X(location::geometry) as longitude,
			beds_available,
			specialties,
			status,
			created_at,
			updated_at
		FROM hospitals
		WHERE id = $1;
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&hospital.ID,
		&hospital.Name,
		&hospital.Address,
		&hospital.ContactPhone,
		&hospital.Latitude,
		&hospital.Longitude,
		&hospital.BedsAvailable,
		&hospital.Specialties,
		&hospital.Status,
		&hospital.CreatedAt,
		&hospital.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("hospital with id %s not found", id)
		}
		return nil, fmt.Errorf("failed to get hospital by id: %w", err)
	}
	return hospital, nil
}

// ReserveBed атомарно уменьшает число свободных коек.
// Условное обновление успешно только если коек все еще достаточно и больница работает.
func (r *HospitalRepository) ReserveBed(ctx context.Context, id uuid.UUID, minBeds int) (bool, error) {
	query := `
		UPDATE hospitals SET
			beds_available = beds_available - 1,
			updated_at = NOW()
		WHERE id = $1 AND status = 'operational' AND beds_available >= $2;
	`
	cmdTag, err := r.db.Exec(ctx, query, id, minBeds)
	if err != nil {
		return false, fmt.Errorf("failed to reserve hospital bed: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// ReleaseBed возвращает койку, занятую отмененным инцидентом
func (r *HospitalRepository) ReleaseBed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE hospitals SET
			beds_available = beds_available + 1,
			updated_at = NOW()
		WHERE id = $1;
	`
	cmdTag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to release hospital bed: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("hospital with id %s not found for bed release", id)
	}
	return nil
}
