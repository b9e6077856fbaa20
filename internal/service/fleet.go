package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/sirupsen/logrus"
)

// FleetService определяет контракт управления состоянием бригад
type FleetService interface {
	GetResponder(ctx context.Context, id uuid.UUID) (*models.Responder, error)
	UpdateResponderStatus(ctx context.Context, id uuid.UUID, status models.ResponderStatus) error
	UpdateResponderLocation(ctx context.Context, id uuid.UUID, lat, lng float64) error
}

type fleetService struct {
	responders ResponderRepository
	logger     *logrus.Logger
}

// NewFleetService создает сервис управления бригадами
func NewFleetService(responders ResponderRepository, logger *logrus.Logger) FleetService {
	return &fleetService{
		responders: responders,
		logger:     logger,
	}
}

// GetResponder возвращает бригаду по ID
func (s *fleetService) GetResponder(ctx context.Context, id uuid.UUID) (*models.Responder, error) {
	responder, err := s.responders.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fleet: could not get responder: %w", err)
	}
	return responder, nil
}

// UpdateResponderStatus выставляет статус бригады.
// Переход в reserved возможен только через движок аллокации, не через этот сервис.
func (s *fleetService) UpdateResponderStatus(ctx context.Context, id uuid.UUID, status models.ResponderStatus) error {
	if status == models.ResponderReserved {
		return fmt.Errorf("fleet: status %q is owned by the allocation engine: %w", status, ErrValidation)
	}

	log := s.logger.WithFields(logrus.Fields{
		"service":      "fleet",
		"method":       "UpdateResponderStatus",
		"responder_id": id,
		"status":       status,
	})
	if err := s.responders.UpdateStatus(ctx, id, status); err != nil {
		log.WithError(err).Error("Failed to update responder status")
		return fmt.Errorf("fleet: could not update responder status: %w", err)
	}
	log.Info("Responder status updated")
	return nil
}

// UpdateResponderLocation обновляет текущие координаты бригады
func (s *fleetService) UpdateResponderLocation(ctx context.Context, id uuid.UUID, lat, lng float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("fleet: location out of range: %w", ErrValidation)
	}
	if err := s.responders.UpdateLocation(ctx, id, lat, lng); err != nil {
		return fmt.Errorf("fleet: could not update responder location: %w", err)
	}
	return nil
}
