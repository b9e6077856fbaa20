package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority - приоритет инцидента
type Priority string

const (
	PriorityP1 Priority = "P1" // критический
	PriorityP2 Priority = "P2" // срочный
	PriorityP3 Priority = "P3" // стандартный
)

// IncidentStatus - статус жизненного цикла инцидента
type IncidentStatus string

const (
	StatusIntake           IncidentStatus = "intake"
	StatusTriaged          IncidentStatus = "triaged"
	StatusLocated          IncidentStatus = "located"
	StatusDispatched       IncidentStatus = "dispatched"
	StatusHospitalNotified IncidentStatus = "hospital_notified"
	StatusResolved         IncidentStatus = "resolved"
	StatusCancelled        IncidentStatus = "cancelled"
)

// Stage - этап конвейера обработки инцидента
type Stage string

const (
	StageIntake         Stage = "intake"
	StageTriage         Stage = "triage"
	StageLocation       Stage = "location"
	StageDispatch       Stage = "dispatch"
	StageHospitalNotify Stage = "hospital_notify"
	StageAudit          Stage = "audit"
)

// stageOrder фиксирует порядок этапов конвейера
var stageOrder = []Stage{StageIntake, StageTriage, StageLocation, StageDispatch, StageHospitalNotify, StageAudit}

// statusRank задает монотонный порядок статусов для проверки переходов
var statusRank = map[IncidentStatus]int{
	StatusIntake:           0,
	StatusTriaged:          1,
	StatusLocated:          2,
	StatusDispatched:       3,
	StatusHospitalNotified: 4,
}

// Incident представляет зарегистрированный экстренный вызов
type Incident struct {
	ID                  uuid.UUID                 `json:"id"`
	CallerName          string                    `json:"caller_name"`
	CallerPhone         string                    `json:"caller_phone"`
	IncidentType        string                    `json:"incident_type"`
	Symptoms            string                    `json:"symptoms"`
	Summary             string                    `json:"summary"`
	Latitude            float64                   `json:"latitude"`
	Longitude           float64                   `json:"longitude"`
	Address             string                    `json:"address,omitempty"`
	Priority            Priority                  `json:"priority"`
	Status              IncidentStatus            `json:"status"`
	Escalated           bool                      `json:"escalated"`
	EscalationReason    string                    `json:"escalation_reason,omitempty"`
	AssignedResponderID *uuid.UUID                `json:"assigned_responder_id,omitempty"`
	StageOutputs        map[Stage]json.RawMessage `json:"stage_outputs,omitempty"`
	CreatedAt           time.Time                 `json:"created_at"`
	UpdatedAt           time.Time                 `json:"updated_at"`
}

// IsTerminal возвращает true для конечных статусов
func (s IncidentStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

// CanTransition проверяет допустимость перехода статуса.
// Статус монотонно растет по порядку этапов; resolved/cancelled достижимы из любого нетерминального статуса.
func CanTransition(from, to IncidentStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to.IsTerminal() {
		return true
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank >= fromRank
}

// StageOrder возвращает порядок этапов конвейера
func StageOrder() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// IsValidStage проверяет, что этап известен конвейеру
func IsValidStage(s Stage) bool {
	for _, stage := range stageOrder {
		if stage == s {
			return true
		}
	}
	return false
}

// IncidentPatch - частичное обновление инцидента, применяемое вместе с переходом статуса
type IncidentPatch struct {
	Priority            *Priority
	Summary             *string
	Latitude            *float64
	Longitude           *float64
	Address             *string
	AssignedResponderID *uuid.UUID
	Stage               Stage
	StageOutput         json.RawMessage
}

// DashboardStats - сводные счетчики для операторской панели
type DashboardStats struct {
	ActiveIncidents     int `json:"active_incidents"`
	EscalatedIncidents  int `json:"escalated_incidents"`
	AvailableResponders int `json:"available_responders"`
	BusyResponders      int `json:"busy_responders"`
	TotalResponders     int `json:"total_responders"`
}
