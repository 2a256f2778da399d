package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"patrol-beat-tracker/internal/models"
)

// MemoryBackend is an in-process stand-in for the remote store, loaded from fixtures
// for offline runs and used as the collaborator in tests.
type MemoryBackend struct {
	mu          sync.RWMutex
	credentials map[string]memoryCredential // keyed by lower-cased email
	personnel   map[string]models.Personnel
	beats       map[string]models.Beat
	assignments []*models.AssignmentRow
	now         func() time.Time
}

type memoryCredential struct {
	principalID string
	hash        []byte
}

// NewMemoryBackend creates an empty backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		credentials: make(map[string]memoryCredential),
		personnel:   make(map[string]models.Personnel),
		beats:       make(map[string]models.Beat),
		now:         time.Now,
	}
}

// AddPersonnel registers a personnel record; an empty password creates a record with no login
func (m *MemoryBackend) AddPersonnel(p models.Personnel, password string) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		m.credentials[strings.ToLower(p.Email)] = memoryCredential{principalID: p.ID, hash: hash}
	}
	m.personnel[p.ID] = p
	return nil
}

// AddLogin registers credentials without a personnel record
func (m *MemoryBackend) AddLogin(principalID, email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	m.mu.Lock()
	m.credentials[strings.ToLower(email)] = memoryCredential{principalID: principalID, hash: hash}
	m.mu.Unlock()
	return nil
}

// AddBeat registers a beat
func (m *MemoryBackend) AddBeat(b models.Beat) {
	m.mu.Lock()
	m.beats[b.ID] = b
	m.mu.Unlock()
}

// AddAssignment binds a principal to a previously added beat
func (m *MemoryBackend) AddAssignment(id, personnelID, beatID string, status models.AssignmentStatus, assignedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	beat, ok := m.beats[beatID]
	if !ok {
		return fmt.Errorf("beat %s: %w", beatID, ErrNotFound)
	}
	if id == "" {
		id = uuid.NewString()
	}
	m.assignments = append(m.assignments, &models.AssignmentRow{
		ID:          id,
		PersonnelID: personnelID,
		Status:      string(status),
		AssignedAt:  assignedAt,
		UpdatedAt:   assignedAt,
		Beat:        beat,
	})
	return nil
}

// IdentityProvider returns a provider with its own sign-in state, one per session
func (m *MemoryBackend) IdentityProvider() *MemoryIdentityProvider {
	return &MemoryIdentityProvider{backend: m}
}

func (m *MemoryBackend) GetPersonnelByID(ctx context.Context, id string) (*models.Personnel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.personnel[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryBackend) GetAssignmentForPrincipal(ctx context.Context, principalID string) (*models.AssignmentRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, row := range m.assignments {
		if row.PersonnelID == principalID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryBackend) UpdateAssignmentStatus(ctx context.Context, assignmentID, principalID string, status models.AssignmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.assignments {
		if row.ID != assignmentID || row.PersonnelID != principalID {
			continue
		}
		// only pending or accepted rows may move
		switch models.AssignmentStatus(row.Status) {
		case models.AssignmentActive, models.AssignmentCompleted:
			return fmt.Errorf("%w: assignment %s is %s", ErrConflict, assignmentID, row.Status)
		}
		now := m.now().UTC()
		row.Status = string(status)
		row.UpdatedAt = now
		if status == models.AssignmentAccepted {
			row.AcceptedAt = &now
		}
		return nil
	}
	return ErrNotFound
}

// MemoryIdentityProvider implements IdentityProvider over a MemoryBackend
type MemoryIdentityProvider struct {
	backend *MemoryBackend

	mu       sync.Mutex
	signedIn string
}

func (p *MemoryIdentityProvider) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (p *MemoryIdentityProvider) Authenticate(ctx context.Context, email, password string) (string, error) {
	p.backend.mu.RLock()
	cred, ok := p.backend.credentials[strings.ToLower(email)]
	p.backend.mu.RUnlock()

	if !ok || bcrypt.CompareHashAndPassword(cred.hash, []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	p.mu.Lock()
	p.signedIn = cred.principalID
	p.mu.Unlock()
	return cred.principalID, nil
}

func (p *MemoryIdentityProvider) CurrentPrincipalID(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signedIn == "" {
		return "", ErrNotFound
	}
	return p.signedIn, nil
}

func (p *MemoryIdentityProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.signedIn = ""
	p.mu.Unlock()
	return nil
}

// MemoryLocationStore implements LocationStore with a map keyed by personnel id
type MemoryLocationStore struct {
	mu      sync.RWMutex
	records map[string]models.LocationRecord
}

func NewMemoryLocationStore() *MemoryLocationStore {
	return &MemoryLocationStore{records: make(map[string]models.LocationRecord)}
}

// UpsertLocation keeps the row with the newest UpdatedAt; older writes are dropped
func (s *MemoryLocationStore) UpsertLocation(ctx context.Context, rec models.LocationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[rec.PersonnelID]
	if ok {
		if existing.UpdatedAt.After(rec.UpdatedAt) {
			return nil
		}
		rec.ID = existing.ID
	} else if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.records[rec.PersonnelID] = rec
	return nil
}

func (s *MemoryLocationStore) DeleteLocation(ctx context.Context, personnelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.records, personnelID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryLocationStore) GetLocation(ctx context.Context, personnelID string) (*models.LocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[personnelID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Len returns the number of stored rows
func (s *MemoryLocationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
