package models

import (
	"time"

	"github.com/google/uuid"
)

// ResponderStatus - статус выездной бригады
type ResponderStatus string

const (
	ResponderAvailable ResponderStatus = "available"
	ResponderReserved  ResponderStatus = "reserved"
	ResponderEnRoute   ResponderStatus = "en_route"
	ResponderBusy      ResponderStatus = "busy"
	ResponderOffline   ResponderStatus = "offline"
)

// Responder представляет выездную бригаду (скорая, парамедики, пожарный расчет)
type Responder struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Phone        string          `json:"phone"`
	Latitude     float64         `json:"latitude"`
	Longitude    float64         `json:"longitude"`
	Status       ResponderStatus `json:"status"`
	VehicleType  string          `json:"vehicle_type"` // ambulance, paramedic, fire_truck
	Capabilities []string        `json:"capabilities"` // например ["defibrillator", "trauma"]
	Capacity     int             `json:"capacity"`
	ActiveLoad   int             `json:"active_load"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ResponderFilter - предикаты отбора бригад для поиска ближайших
type ResponderFilter struct {
	Status       ResponderStatus
	VehicleType  string
	Capabilities []string
}

// ResponderCandidate - бригада вместе с расстоянием до точки поиска
type ResponderCandidate struct {
	Responder
	DistanceMeters float64 `json:"distance_meters"`
}
