package repository

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"patrol-beat-tracker/internal/models"
)

// Fixtures is the YAML layout used to seed a MemoryBackend
type Fixtures struct {
	Personnel []struct {
		ID       string `yaml:"id"`
		Email    string `yaml:"email"`
		Password string `yaml:"password"`
		Rank     string `yaml:"rank"`
		FullName string `yaml:"full_name"`
		Unit     string `yaml:"unit"`
		SubUnit  string `yaml:"sub_unit"`
	} `yaml:"personnel"`
	Beats []struct {
		ID            string  `yaml:"id"`
		Name          string  `yaml:"name"`
		CenterLat     float64 `yaml:"center_lat"`
		CenterLng     float64 `yaml:"center_lng"`
		RadiusMeters  float64 `yaml:"radius_meters"`
		Address       string  `yaml:"address"`
		Unit          string  `yaml:"unit"`
		SubUnit       string  `yaml:"sub_unit"`
		Status        string  `yaml:"status"`
		DutyStartTime string  `yaml:"duty_start_time"`
		DutyEndTime   string  `yaml:"duty_end_time"`
	} `yaml:"beats"`
	Assignments []struct {
		ID          string    `yaml:"id"`
		PersonnelID string    `yaml:"personnel_id"`
		BeatID      string    `yaml:"beat_id"`
		Status      string    `yaml:"status"`
		AssignedAt  time.Time `yaml:"assigned_at"`
	} `yaml:"assignments"`
}

// LoadFixtures reads a YAML fixtures file into a new MemoryBackend
func LoadFixtures(path string) (*MemoryBackend, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// ParseFixtures decodes YAML fixtures into a new MemoryBackend
func ParseFixtures(data []byte) (*MemoryBackend, error) {
	var fx Fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}

	backend := NewMemoryBackend()
	now := time.Now().UTC()

	for _, p := range fx.Personnel {
		err := backend.AddPersonnel(models.Personnel{
			ID:        p.ID,
			Email:     p.Email,
			Rank:      p.Rank,
			FullName:  p.FullName,
			Unit:      p.Unit,
			SubUnit:   p.SubUnit,
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}, p.Password)
		if err != nil {
			return nil, fmt.Errorf("personnel %s: %w", p.ID, err)
		}
	}

	for _, b := range fx.Beats {
		backend.AddBeat(models.Beat{
			ID:            b.ID,
			Name:          b.Name,
			CenterLat:     b.CenterLat,
			CenterLng:     b.CenterLng,
			RadiusMeters:  b.RadiusMeters,
			Address:       b.Address,
			Unit:          b.Unit,
			SubUnit:       b.SubUnit,
			Status:        b.Status,
			DutyStartTime: b.DutyStartTime,
			DutyEndTime:   b.DutyEndTime,
		})
	}

	for _, a := range fx.Assignments {
		status := models.AssignmentStatus(a.Status)
		if a.Status == "" {
			status = models.AssignmentPending
		}
		if !status.Valid() {
			return nil, fmt.Errorf("assignment %s: unknown status %q", a.ID, a.Status)
		}
		assignedAt := a.AssignedAt
		if assignedAt.IsZero() {
			assignedAt = now
		}
		if err := backend.AddAssignment(a.ID, a.PersonnelID, a.BeatID, status, assignedAt); err != nil {
			return nil, fmt.Errorf("assignment %s: %w", a.ID, err)
		}
	}

	return backend, nil
}
