// Package repository provides PocketBase REST API implementations
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"patrol-beat-tracker/internal/models"
)

const (
	personnelCollection   = "personnel"
	assignmentCollection  = "beat_personnel"
	locationCollection    = "personnel_locations"
	defaultUserCollection = "users"
)

// apiError is a non-2xx PocketBase response that does not map onto a sentinel
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("pocketbase: %d %s: %s", e.Status, http.StatusText(e.Status), e.Body)
}

// PocketBaseClient is the HTTP client shared by all PocketBase repositories.
// It holds the identity token issued at login.
type PocketBaseClient struct {
	baseURL    string
	httpClient *http.Client

	mu        sync.RWMutex
	authToken string
}

// NewPocketBaseClient creates a client; an empty baseURL yields ErrNotConfigured on every call
func NewPocketBaseClient(baseURL string, timeout time.Duration) *PocketBaseClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PocketBaseClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a base URL is set
func (c *PocketBaseClient) Configured() bool {
	return c.baseURL != ""
}

// SetToken installs an identity token issued elsewhere so a session can be restored
func (c *PocketBaseClient) SetToken(token string) {
	c.setToken(token)
}

func (c *PocketBaseClient) setToken(token string) {
	c.mu.Lock()
	c.authToken = token
	c.mu.Unlock()
}

func (c *PocketBaseClient) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authToken
}

func (c *PocketBaseClient) addAuthHeader(req *http.Request) {
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", token)
	}
}

// do sends a JSON request and decodes a 2xx body into out when out is non-nil
func (c *PocketBaseClient) do(ctx context.Context, method, path string, in, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	logrus.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
	}).Debug("🔍 pocketbase request")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &apiError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// pbTime parses the datetime formats PocketBase emits
func pbTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02 15:04:05.000Z", time.RFC3339Nano, "2006-01-02 15:04:05Z07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func pbFormat(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000Z")
}

func recordPath(collection, id string) string {
	return fmt.Sprintf("/api/collections/%s/records/%s", collection, url.PathEscape(id))
}

// PocketBaseIdentityProvider implements IdentityProvider against an auth collection
type PocketBaseIdentityProvider struct {
	client     *PocketBaseClient
	collection string
}

// NewPocketBaseIdentityProvider creates the provider; collection defaults to "users"
func NewPocketBaseIdentityProvider(client *PocketBaseClient, collection string) *PocketBaseIdentityProvider {
	if collection == "" {
		collection = defaultUserCollection
	}
	return &PocketBaseIdentityProvider{client: client, collection: collection}
}

type authResponse struct {
	Token  string `json:"token"`
	Record struct {
		ID string `json:"id"`
	} `json:"record"`
}

func (p *PocketBaseIdentityProvider) Ping(ctx context.Context) error {
	var health struct {
		Code int `json:"code"`
	}
	if err := p.client.do(ctx, http.MethodGet, "/api/health", nil, &health); err != nil {
		if errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrUnavailable) {
			return err
		}
		return fmt.Errorf("%w: health check: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *PocketBaseIdentityProvider) Authenticate(ctx context.Context, email, password string) (string, error) {
	path := fmt.Sprintf("/api/collections/%s/auth-with-password", p.collection)
	in := map[string]string{"identity": email, "password": password}

	var out authResponse
	if err := p.client.do(ctx, http.MethodPost, path, in, &out); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnauthorized) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if out.Token == "" || out.Record.ID == "" {
		return "", fmt.Errorf("auth response missing token or record")
	}

	p.client.setToken(out.Token)
	return out.Record.ID, nil
}

func (p *PocketBaseIdentityProvider) CurrentPrincipalID(ctx context.Context) (string, error) {
	if p.client.token() == "" {
		return "", ErrNotFound
	}

	path := fmt.Sprintf("/api/collections/%s/auth-refresh", p.collection)
	var out authResponse
	if err := p.client.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
			p.client.setToken("")
			return "", ErrNotFound
		}
		return "", err
	}

	p.client.setToken(out.Token)
	return out.Record.ID, nil
}

// SignOut drops the token; PocketBase tokens are stateless so there is no remote call
func (p *PocketBaseIdentityProvider) SignOut(ctx context.Context) error {
	p.client.setToken("")
	return nil
}

// PocketBasePersonnelDirectory implements PersonnelDirectory
type PocketBasePersonnelDirectory struct {
	client *PocketBaseClient
}

func NewPocketBasePersonnelDirectory(client *PocketBaseClient) *PocketBasePersonnelDirectory {
	return &PocketBasePersonnelDirectory{client: client}
}

func (r *PocketBasePersonnelDirectory) GetPersonnelByID(ctx context.Context, id string) (*models.Personnel, error) {
	var item struct {
		ID            string `json:"id"`
		Rank          string `json:"rank"`
		FullName      string `json:"full_name"`
		Email         string `json:"email"`
		ContactNumber string `json:"contact_number"`
		Province      string `json:"province"`
		Unit          string `json:"unit"`
		SubUnit       string `json:"sub_unit"`
		IsActive      bool   `json:"is_active"`
		Created       string `json:"created"`
		Updated       string `json:"updated"`
	}

	if err := r.client.do(ctx, http.MethodGet, recordPath(personnelCollection, id), nil, &item); err != nil {
		return nil, err
	}

	return &models.Personnel{
		ID:            item.ID,
		Rank:          item.Rank,
		FullName:      item.FullName,
		Email:         item.Email,
		ContactNumber: item.ContactNumber,
		Province:      item.Province,
		Unit:          item.Unit,
		SubUnit:       item.SubUnit,
		IsActive:      item.IsActive,
		CreatedAt:     pbTime(item.Created),
		UpdatedAt:     pbTime(item.Updated),
	}, nil
}

// PocketBaseAssignmentRepository implements AssignmentStore over beat_personnel
type PocketBaseAssignmentRepository struct {
	client *PocketBaseClient
	now    func() time.Time
}

func NewPocketBaseAssignmentRepository(client *PocketBaseClient) *PocketBaseAssignmentRepository {
	return &PocketBaseAssignmentRepository{client: client, now: time.Now}
}

type pbBeat struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Address       string  `json:"address"`
	CenterLat     float64 `json:"center_lat"`
	CenterLng     float64 `json:"center_lng"`
	RadiusMeters  float64 `json:"radius_meters"`
	Unit          string  `json:"unit"`
	SubUnit       string  `json:"sub_unit"`
	BeatStatus    string  `json:"beat_status"`
	DutyStartTime string  `json:"duty_start_time"`
	DutyEndTime   string  `json:"duty_end_time"`
	Created       string  `json:"created"`
}

func (r *PocketBaseAssignmentRepository) GetAssignmentForPrincipal(ctx context.Context, principalID string) (*models.AssignmentRow, error) {
	filter := fmt.Sprintf("personnel_id='%s'", strings.ReplaceAll(principalID, "'", `\'`))
	path := fmt.Sprintf("/api/collections/%s/records?filter=%s&perPage=1&skipTotal=1&expand=beat_id",
		assignmentCollection, url.QueryEscape(filter))

	var result struct {
		Items []struct {
			ID               string `json:"id"`
			PersonnelID      string `json:"personnel_id"`
			AcceptanceStatus string `json:"acceptance_status"`
			AssignedAt       string `json:"assigned_at"`
			AcceptedAt       string `json:"accepted_at"`
			Updated          string `json:"updated"`
			Expand           struct {
				Beat pbBeat `json:"beat_id"`
			} `json:"expand"`
		} `json:"items"`
	}

	if err := r.client.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	if len(result.Items) == 0 {
		return nil, nil
	}

	item := result.Items[0]
	row := &models.AssignmentRow{
		ID:          item.ID,
		PersonnelID: item.PersonnelID,
		Status:      item.AcceptanceStatus,
		AssignedAt:  pbTime(item.AssignedAt),
		UpdatedAt:   pbTime(item.Updated),
		Beat: models.Beat{
			ID:            item.Expand.Beat.ID,
			Name:          item.Expand.Beat.Name,
			CenterLat:     item.Expand.Beat.CenterLat,
			CenterLng:     item.Expand.Beat.CenterLng,
			RadiusMeters:  item.Expand.Beat.RadiusMeters,
			Address:       item.Expand.Beat.Address,
			Unit:          item.Expand.Beat.Unit,
			SubUnit:       item.Expand.Beat.SubUnit,
			Status:        item.Expand.Beat.BeatStatus,
			DutyStartTime: item.Expand.Beat.DutyStartTime,
			DutyEndTime:   item.Expand.Beat.DutyEndTime,
			CreatedAt:     pbTime(item.Expand.Beat.Created),
		},
	}
	if t := pbTime(item.AcceptedAt); !t.IsZero() {
		row.AcceptedAt = &t
	}
	return row, nil
}

// UpdateAssignmentStatus patches the row. The collection update rule only
// matches rows owned by the caller that are still pending or accepted;
// PocketBase answers 404 for anything else.
func (r *PocketBaseAssignmentRepository) UpdateAssignmentStatus(ctx context.Context, assignmentID, principalID string, status models.AssignmentStatus) error {
	data := map[string]any{"acceptance_status": string(status)}
	if status == models.AssignmentAccepted {
		data["accepted_at"] = pbFormat(r.now())
	}

	var out struct {
		PersonnelID string `json:"personnel_id"`
	}
	if err := r.client.do(ctx, http.MethodPatch, recordPath(assignmentCollection, assignmentID), data, &out); err != nil {
		return err
	}
	if out.PersonnelID != "" && out.PersonnelID != principalID {
		logrus.WithFields(logrus.Fields{
			"assignment": assignmentID,
			"principal":  principalID,
			"owner":      out.PersonnelID,
		}).Error("❌ assignment update crossed principal scope, check beat_personnel update rule")
		return ErrNotFound
	}
	return nil
}

// PocketBaseLocationRepository implements LocationStore over personnel_locations.
// Record ids equal personnel ids so the batch PUT upsert is keyed on the principal.
type PocketBaseLocationRepository struct {
	client *PocketBaseClient
}

func NewPocketBaseLocationRepository(client *PocketBaseClient) *PocketBaseLocationRepository {
	return &PocketBaseLocationRepository{client: client}
}

type pbLocation struct {
	ID          string  `json:"id"`
	PersonnelID string  `json:"personnel_id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Accuracy    float64 `json:"accuracy"`
	UpdatedAt   string  `json:"updated_at"`
}

// UpsertLocation sends a single-request batch with a PUT, which PocketBase
// applies as insert-or-update on the record id inside one transaction.
func (r *PocketBaseLocationRepository) UpsertLocation(ctx context.Context, rec models.LocationRecord) error {
	batch := map[string]any{
		"requests": []map[string]any{{
			"method": http.MethodPut,
			"url":    fmt.Sprintf("/api/collections/%s/records", locationCollection),
			"body": pbLocation{
				ID:          rec.PersonnelID,
				PersonnelID: rec.PersonnelID,
				Latitude:    rec.Latitude,
				Longitude:   rec.Longitude,
				Accuracy:    rec.Accuracy,
				UpdatedAt:   pbFormat(rec.UpdatedAt),
			},
		}},
	}

	var results []struct {
		Status int             `json:"status"`
		Body   json.RawMessage `json:"body"`
	}
	if err := r.client.do(ctx, http.MethodPost, "/api/batch", batch, &results); err != nil {
		return fmt.Errorf("upsert location: %w", err)
	}
	if len(results) != 1 {
		return fmt.Errorf("upsert location: expected 1 batch result, got %d", len(results))
	}
	if results[0].Status != http.StatusOK && results[0].Status != http.StatusCreated {
		return fmt.Errorf("upsert location: %w", &apiError{Status: results[0].Status, Body: string(results[0].Body)})
	}
	return nil
}

func (r *PocketBaseLocationRepository) DeleteLocation(ctx context.Context, personnelID string) error {
	err := r.client.do(ctx, http.MethodDelete, recordPath(locationCollection, personnelID), nil, nil)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete location: %w", err)
	}
	return nil
}

func (r *PocketBaseLocationRepository) GetLocation(ctx context.Context, personnelID string) (*models.LocationRecord, error) {
	var item pbLocation
	if err := r.client.do(ctx, http.MethodGet, recordPath(locationCollection, personnelID), nil, &item); err != nil {
		return nil, err
	}
	return &models.LocationRecord{
		ID:          item.ID,
		PersonnelID: item.PersonnelID,
		Latitude:    item.Latitude,
		Longitude:   item.Longitude,
		Accuracy:    item.Accuracy,
		UpdatedAt:   pbTime(item.UpdatedAt),
	}, nil
}
