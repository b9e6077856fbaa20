package v1

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// LocationDTO координаты инцидента с опциональным адресом
// @Description Координаты инцидента с опциональным адресом
type LocationDTO struct {
	Lat     float64 `json:"lat" validate:"required,latitude"`
	Lng     float64 `json:"lng" validate:"required,longitude"`
	Address string  `json:"address,omitempty"`
}

// CreateIncidentRequest DTO приема экстренного вызова
// @Description DTO приема экстренного вызова
type CreateIncidentRequest struct {
	CallerName          string      `json:"caller_name" validate:"required,min=2,max=255"`
	PatientName         string      `json:"patient_name,omitempty"`
	EmergencyType       string      `json:"emergency_type" validate:"required,min=2,max=255"`
	Symptoms            string      `json:"symptoms,omitempty"`
	Location            LocationDTO `json:"location" validate:"required"`
	ContactNumber       string      `json:"contact_number" validate:"required"`
	MedicalHistory      string      `json:"medical_history,omitempty"`
	LifeThreateningFlag bool        `json:"life_threatening_flag"`
	Notes               string      `json:"notes,omitempty"`
}

// AdvanceRequest DTO продвижения инцидента на следующий этап
// @Description DTO продвижения инцидента на следующий этап
type AdvanceRequest struct {
	Stage   string          `json:"stage" validate:"required,oneof=triage location dispatch hospital_notify audit"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CancelRequest DTO отмены инцидента
// @Description DTO отмены инцидента
type CancelRequest struct {
	Reason string `json:"reason" validate:"required,min=2,max=512"`
}

// ResponderStatusRequest DTO обновления статуса бригады
// @Description DTO обновления статуса бригады
type ResponderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=available en_route busy offline"`
}

// ResponderLocationRequest DTO обновления координат бригады
// @Description DTO обновления координат бригады
type ResponderLocationRequest struct {
	Lat float64 `json:"lat" validate:"required,latitude"`
	Lng float64 `json:"lng" validate:"required,longitude"`
}

// IncidentResponse DTO для ответа с информацией об инциденте
// @Description DTO для ответа с информацией об инциденте
type IncidentResponse struct {
	ID                  uuid.UUID                  `json:"id"`
	CallerName          string                     `json:"caller_name"`
	CallerPhone         string                     `json:"caller_phone"`
	IncidentType        string                     `json:"incident_type"`
	Symptoms            string                     `json:"symptoms,omitempty"`
	Summary             string                     `json:"summary,omitempty"`
	Latitude            float64                    `json:"latitude"`
	Longitude           float64                    `json:"longitude"`
	Address             string                     `json:"address,omitempty"`
	Priority            string                     `json:"priority"`
	Status              string                     `json:"status"`
	Escalated           bool                       `json:"escalated"`
	EscalationReason    string                     `json:"escalation_reason,omitempty"`
	AssignedResponderID *uuid.UUID                 `json:"assigned_responder_id,omitempty"`
	StageOutputs        map[string]json.RawMessage `json:"stage_outputs,omitempty"`
	CreatedAt           time.Time                  `json:"created_at"`
	UpdatedAt           time.Time                  `json:"updated_at"`
}

// StageResultResponse DTO для результата продвижения этапа
// @Description DTO для результата продвижения этапа
type StageResultResponse struct {
	IncidentID uuid.UUID       `json:"incident_id"`
	Stage      string          `json:"stage"`
	Status     string          `json:"status"`
	Output     json.RawMessage `json:"output,omitempty"`
	Escalated  bool            `json:"escalated"`
	Replayed   bool            `json:"replayed"`
}

// AssignmentResponse DTO для записи назначения
// @Description DTO для записи назначения
type AssignmentResponse struct {
	ID          uuid.UUID  `json:"id"`
	IncidentID  uuid.UUID  `json:"incident_id"`
	ResponderID uuid.UUID  `json:"responder_id"`
	HospitalID  *uuid.UUID `json:"hospital_id,omitempty"`
	Status      string     `json:"status"`
	ETAMinutes  int        `json:"eta_minutes"`
	RankWonAt   int        `json:"rank_won_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// StatsResponse DTO для ответа со сводкой операторской панели
// @Description DTO для ответа со сводкой операторской панели
type StatsResponse struct {
	ActiveIncidents     int `json:"active_incidents"`
	EscalatedIncidents  int `json:"escalated_incidents"`
	AvailableResponders int `json:"available_responders"`
	BusyResponders      int `json:"busy_responders"`
	TotalResponders     int `json:"total_responders"`
}
