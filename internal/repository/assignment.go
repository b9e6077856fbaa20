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

type AssignmentRepository struct {
	db *pgxpool.Pool
}

func NewAssignmentRepository(db *pgxpool.Pool) service.AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Create создает запись назначения бригады на инцидент
func (r *AssignmentRepository) Create(ctx context.Context, assignment *models.Assignment) error {
	query := `
		INSERT INTO assignments (incident_id, responder_id, hospital_id, status, eta_minutes, rank_won_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at, updated_at;
	`
	err := r.db.QueryRow(ctx, query,
		assignment.IncidentID,
		assignment.ResponderID,
		assignment.HospitalID,
		assignment.Status,
		assignment.ETAMinutes,
		assignment.RankWonAt,
		assignment.Notes,
	).Scan(&assignment.ID, &assignment.CreatedAt, &assignment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

// ActiveByIncident возвращает нетерминальное назначение инцидента или nil.
// По инварианту такое назначение не более одного.
func (r *AssignmentRepository) ActiveByIncident(ctx context.Context, incidentID uuid.UUID) (*models.Assignment, error) {
	query := `
		SELECT id, incident_id, responder_id, hospital_id, status, eta_minutes, rank_won_at, notes, created_at, updated_at
		FROM assignments
		WHERE incident_id = $1 AND status NOT IN ('completed', 'cancelled')
		ORDER BY created_at DESC
		LIMIT 1;
	`
	assignment, err := scanAssignment(r.db.QueryRow(ctx, query, incidentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active assignment: %w", err)
	}
	return assignment, nil
}

// ListByIncident возвращает историю назначений инцидента (повторные диспетчеризации включительно)
func (r *AssignmentRepository) ListByIncident(ctx context.Context, incidentID uuid.UUID) ([]*models.Assignment, error) {
	query := `
		SELECT id, incident_id, responder_id, hospital_id, status, eta_minutes, rank_won_at, notes, created_at, updated_at
		FROM assignments
		WHERE incident_id = $1
		ORDER BY created_at DESC;
	`
	rows, err := r.db.Query(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	assignments := make([]*models.Assignment, 0)
	for rows.Next() {
		assignment, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment row: %w", err)
		}
		assignments = append(assignments, assignment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error assignment iteration: %w", err)
	}
	return assignments, nil
}

// UpdateStatus выставляет статус назначения
func (r *AssignmentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.AssignmentStatus) error {
	query := `
		UPDATE assignments SET
			status = $2,
			updated_at = NOW()
		WHERE id = $1;
	`
	cmdTag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update assignment status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("assignment with id %s not found for status update", id)
	}
	return nil
}

// SetHospital привязывает уведомленную больницу к назначению
func (r *AssignmentRepository) SetHospital(ctx context.Context, id, hospitalID uuid.UUID) error {
	query := `
		UPDATE assignments SET
			hospital_id = $2,
			updated_at = NOW()
		WHERE id = $1;
	`
	cmdTag, err := r.db.Exec(ctx, query, id, hospitalID)
	if err != nil {
		return fmt.Errorf("failed to set assignment hospital: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("assignment with id %s not found for hospital update", id)
	}
	return nil
}

// scanAssignment читает строку назначения в модель
func scanAssignment(row pgx.Row) (*models.Assignment, error) {
	assignment := &models.Assignment{}
	err := row.Scan(
		&assignment.ID,
		&assignment.IncidentID,
		&assignment.ResponderID,
		&assignment.HospitalID,
		&assignment.Status,
		&assignment.ETAMinutes,
		&assignment.RankWonAt,
		&assignment.Notes,
		&assignment.CreatedAt,
		&assignment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return assignment, nil
}
