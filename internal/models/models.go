// Package models contains data structures for the application
package models

import (
	"time"
)

// Principal is the authenticated personnel member operating this client
type Principal struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Rank     string `json:"rank"`
	FullName string `json:"full_name"`
	Unit     string `json:"unit"`
	SubUnit  string `json:"sub_unit"`
}

// Personnel is the directory record backing a Principal
type Personnel struct {
	ID            string    `json:"id"`
	Rank          string    `json:"rank"`
	FullName      string    `json:"full_name"`
	Email         string    `json:"email"`
	ContactNumber string    `json:"contact_number,omitempty"`
	Province      string    `json:"province,omitempty"`
	Unit          string    `json:"unit"`
	SubUnit       string    `json:"sub_unit"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Principal projects the directory record onto the session identity.
func (p *Personnel) Principal() *Principal {
	return &Principal{
		ID:       p.ID,
		Email:    p.Email,
		Rank:     p.Rank,
		FullName: p.FullName,
		Unit:     p.Unit,
		SubUnit:  p.SubUnit,
	}
}

// Beat is a named patrol area with a center point, radius and duty window
type Beat struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	CenterLat     float64   `json:"center_lat"`
	CenterLng     float64   `json:"center_lng"`
	RadiusMeters  float64   `json:"radius_meters"`
	Address       string    `json:"address"`
	Unit          string    `json:"unit"`
	SubUnit       string    `json:"sub_unit"`
	Status        string    `json:"status"`
	DutyStartTime string    `json:"duty_start_time"`
	DutyEndTime   string    `json:"duty_end_time"`
	CreatedAt     time.Time `json:"created_at"`
}

// AssignmentStatus is the acceptance lifecycle of an assignment
type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentAccepted  AssignmentStatus = "accepted"
	AssignmentActive    AssignmentStatus = "active"
	AssignmentCompleted AssignmentStatus = "completed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s AssignmentStatus) Valid() bool {
	switch s {
	case AssignmentPending, AssignmentAccepted, AssignmentActive, AssignmentCompleted:
		return true
	}
	return false
}

// Assignment binds one principal to one beat for a dated shift
type Assignment struct {
	ID           string           `json:"id"`
	PersonnelID  string           `json:"personnel_id"`
	BeatID       string           `json:"beat_id"`
	AssignedDate string           `json:"assigned_date"`
	StartTime    string           `json:"start_time"`
	EndTime      string           `json:"end_time,omitempty"`
	Status       AssignmentStatus `json:"status"`
	AcceptedAt   *time.Time       `json:"accepted_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// BeatAssignment is an assignment joined with its beat
type BeatAssignment struct {
	Beat       Beat       `json:"beat"`
	Assignment Assignment `json:"assignment"`
}

// AssignmentRow is the raw assignment row as returned by the assignment store.
// Optional beat attributes are left zero when the upstream row omits them.
type AssignmentRow struct {
	ID          string
	PersonnelID string
	Status      string
	AssignedAt  time.Time
	AcceptedAt  *time.Time
	UpdatedAt   time.Time
	Beat        Beat
}

// DutyState is the principal's current shift mode
type DutyState string

const (
	OffDuty DutyState = "off_duty"
	OnDuty  DutyState = "on_duty"
	Break   DutyState = "break"
)

// Position is a raw sample from the device position source
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LocationRecord is the single latest known position of a principal in the location store
type LocationRecord struct {
	ID          string    `json:"id"`
	PersonnelID string    `json:"personnel_id"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Accuracy    float64   `json:"accuracy"`
	UpdatedAt   time.Time `json:"updated_at"`
}
