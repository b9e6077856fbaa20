package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Location - точка инцидента с опциональным каноническим адресом
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// Address - результат обратного геокодирования
type Address struct {
	City     string `json:"city"`
	State    string `json:"state"`
	Country  string `json:"country"`
	Postcode string `json:"postcode"`
}

// IntakeReport - структурированный результат этапа приема вызова.
// Поля передаются в триаж без потерь.
type IntakeReport struct {
	CallerName          string   `json:"caller_name"`
	PatientName         string   `json:"patient_name"`
	EmergencyType       string   `json:"emergency_type"`
	Symptoms            string   `json:"symptoms"`
	Location            Location `json:"location"`
	ContactNumber       string   `json:"contact_number"`
	MedicalHistory      string   `json:"medical_history"`
	LifeThreateningFlag bool     `json:"life_threatening_flag"`
	Notes               string   `json:"notes"`
}

// TriageReport - структурированный результат этапа триажа
type TriageReport struct {
	Priority               Priority `json:"priority"`
	RequiredResources      []string `json:"required_resources"`
	PreArrivalInstructions []string `json:"pre_arrival_instructions"`
	Confidence             string   `json:"confidence"` // high/medium/low
	EscalationNeeded       bool     `json:"escalation_needed"`
	IncidentSummary        string   `json:"incident_summary"`
}

// LocationReport - структурированный результат этапа определения местоположения
type LocationReport struct {
	ResolvedLocation  Location `json:"resolved_location"`
	ETAMinutes        int      `json:"eta_minutes"`
	RouteDetails      string   `json:"route_details"`
	Confidence        string   `json:"confidence"`
	Priority          Priority `json:"priority"`
	RequiredResources []string `json:"required_resources"`
	Notes             string   `json:"notes"`
}

// DispatchReport - результат этапа выделения бригады
type DispatchReport struct {
	ResponderID  uuid.UUID `json:"responder_id"`
	AssignmentID uuid.UUID `json:"assignment_id"`
	ETAMinutes   int       `json:"eta_minutes"`
	RankWonAt    int       `json:"rank_won_at"`
}

// HospitalReport - результат этапа уведомления больницы
type HospitalReport struct {
	HospitalID uuid.UUID `json:"hospital_id"`
	Name       string    `json:"name"`
	ETAMinutes int       `json:"eta_minutes"`
	Specialty  string    `json:"specialty"`
}

// AuditReport - итоговая сводка по инциденту, фиксируемая на этапе аудита
type AuditReport struct {
	StagesCompleted []Stage `json:"stages_completed"`
	Escalated       bool    `json:"escalated"`
	Summary         string  `json:"summary"`
}

// StageInput - входные данные вызова advance
type StageInput struct {
	Stage   Stage           `json:"stage"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StageResult - результат продвижения инцидента на один этап
type StageResult struct {
	IncidentID uuid.UUID       `json:"incident_id"`
	Stage      Stage           `json:"stage"`
	Status     IncidentStatus  `json:"status"`
	Output     json.RawMessage `json:"output,omitempty"`
	Escalated  bool            `json:"escalated"`
	Replayed   bool            `json:"replayed"`
}

// ResourceKind - вид ресурса для аллокации
type ResourceKind string

const (
	KindResponder ResourceKind = "responder"
	KindHospital  ResourceKind = "hospital"
)

// Requirements - требования к ресурсу при аллокации
type Requirements struct {
	Capabilities []string `json:"capabilities,omitempty"`
	VehicleType  string   `json:"vehicle_type,omitempty"`
	Specialty    string   `json:"specialty,omitempty"`
	MinBeds      int      `json:"min_beds,omitempty"`
}

// AllocationRequest - запрос на поиск и резервирование ближайшего ресурса
type AllocationRequest struct {
	IncidentID   uuid.UUID
	Kind         ResourceKind
	Latitude     float64
	Longitude    float64
	Priority     Priority
	Requirements Requirements
}

// Reservation - успешный атомарный захват ресурса для одного инцидента
type Reservation struct {
	Kind           ResourceKind `json:"kind"`
	ResourceID     uuid.UUID    `json:"resource_id"`
	AssignmentID   uuid.UUID    `json:"assignment_id,omitempty"`
	ETAMinutes     int          `json:"eta_minutes"`
	DistanceMeters float64      `json:"distance_meters"`
	RankWonAt      int          `json:"rank_won_at"`
}
