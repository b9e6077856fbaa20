package models

import (
	"time"

	"github.com/google/uuid"
)

// AssignmentStatus - статус назначения бригады на инцидент
type AssignmentStatus string

const (
	AssignmentDispatched AssignmentStatus = "dispatched"
	AssignmentEnRoute    AssignmentStatus = "en_route"
	AssignmentArrived    AssignmentStatus = "arrived"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentCancelled  AssignmentStatus = "cancelled"
)

// Assignment связывает инцидент с выделенной бригадой и уведомленной больницей.
// Инвариант: на инцидент в каждый момент времени существует не более одного нетерминального назначения.
type Assignment struct {
	ID          uuid.UUID        `json:"id"`
	IncidentID  uuid.UUID        `json:"incident_id"`
	ResponderID uuid.UUID        `json:"responder_id"`
	HospitalID  *uuid.UUID       `json:"hospital_id,omitempty"`
	Status      AssignmentStatus `json:"status"`
	ETAMinutes  int              `json:"eta_minutes"`
	RankWonAt   int              `json:"rank_won_at"`
	Notes       string           `json:"notes,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// IsTerminal возвращает true для конечных статусов назначения
func (s AssignmentStatus) IsTerminal() bool {
	return s == AssignmentCompleted || s == AssignmentCancelled
}
