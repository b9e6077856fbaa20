package models

import (
	"time"

	"github.com/google/uuid"
)

// HospitalStatus - операционный статус больницы
type HospitalStatus string

const (
	HospitalOperational HospitalStatus = "operational"
	HospitalOverloaded  HospitalStatus = "overloaded"
	HospitalClosed      HospitalStatus = "closed"
)

// Hospital представляет принимающую больницу
type Hospital struct {
	ID            uuid.UUID      `json:"id"`
	Name          string         `json:"name"`
	Address       string         `json:"address"`
	ContactPhone  string         `json:"contact_phone"`
	Latitude      float64        `json:"latitude"`
	Longitude     float64        `json:"longitude"`
	BedsAvailable int            `json:"beds_available"`
	Specialties   []string       `json:"specialties"` // например ["emergency", "cardiology"]
	Status        HospitalStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// HospitalFilter - предикаты отбора больниц для поиска ближайших
type HospitalFilter struct {
	Specialty string
	MinBeds   int
}

// HospitalCandidate - больница вместе с расстоянием до точки поиска
type HospitalCandidate struct {
	Hospital
	DistanceMeters float64 `json:"distance_meters"`
}
