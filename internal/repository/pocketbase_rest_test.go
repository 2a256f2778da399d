package repository

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patrol-beat-tracker/internal/models"
)

func newTestPocketBase(t *testing.T, mux *http.ServeMux) *PocketBaseClient {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewPocketBaseClient(srv.URL+"/", time.Second)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestPocketBaseNotConfigured(t *testing.T) {
	client := NewPocketBaseClient("", 0)
	assert.False(t, client.Configured())

	_, err := NewPocketBaseIdentityProvider(client, "").Authenticate(context.Background(), "a", "b")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestPocketBaseAuthenticate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/collections/users/auth-with-password", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "secret" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Failed to authenticate."})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": "tok-1", "record": map[string]string{"id": "p-1"}})
	})
	mux.HandleFunc("GET /api/collections/personnel/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "tok-1" {
			writeJSON(w, http.StatusForbidden, map[string]string{"message": "forbidden"})
			return
		}
		if r.PathValue("id") != "p-1" {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "p-1", "rank": "PCpl", "full_name": "Juan Dela Cruz", "email": "officer@example.com",
			"is_active": true, "created": "2025-01-10 08:00:00.000Z",
		})
	})
	client := newTestPocketBase(t, mux)
	idp := NewPocketBaseIdentityProvider(client, "")
	dir := NewPocketBasePersonnelDirectory(client)
	ctx := context.Background()

	_, err := idp.Authenticate(ctx, "officer@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	id, err := idp.Authenticate(ctx, "officer@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "p-1", id)

	p, err := dir.GetPersonnelByID(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Juan Dela Cruz", p.FullName)
	assert.Equal(t, time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC), p.CreatedAt)

	_, err = dir.GetPersonnelByID(ctx, "p-2")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, idp.SignOut(ctx))
	_, err = idp.CurrentPrincipalID(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPocketBaseRestoreExpiredToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/collections/users/auth-refresh", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "fresh" {
			writeJSON(w, http.StatusOK, map[string]any{"token": "fresher", "record": map[string]string{"id": "p-1"}})
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "expired"})
	})
	client := newTestPocketBase(t, mux)
	idp := NewPocketBaseIdentityProvider(client, "")
	ctx := context.Background()

	client.SetToken("fresh")
	id, err := idp.CurrentPrincipalID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p-1", id)
	assert.Equal(t, "fresher", client.token())

	client.SetToken("stale")
	_, err = idp.CurrentPrincipalID(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, client.token())
}

func TestPocketBaseServerErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
	})
	client := newTestPocketBase(t, mux)

	_, err := NewPocketBasePersonnelDirectory(client).GetPersonnelByID(context.Background(), "p-1")
	assert.ErrorIs(t, err, ErrUnavailable)

	err = NewPocketBaseIdentityProvider(client, "").Ping(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPocketBaseAssignments(t *testing.T) {
	var patched map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/collections/beat_personnel/records", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "beat_id", r.URL.Query().Get("expand"))
		if r.URL.Query().Get("filter") != "personnel_id='p-1'" {
			writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{map[string]any{
			"id": "a-1", "personnel_id": "p-1", "acceptance_status": "pending",
			"assigned_at": "2025-01-15 06:00:00.000Z",
			"expand": map[string]any{"beat_id": map[string]any{
				"id": "beat-1", "name": "Rizal Park North", "center_lat": 14.5831, "center_lng": 120.9794,
				"duty_start_time": "08:00",
			}},
		}}})
	})
	mux.HandleFunc("PATCH /api/collections/beat_personnel/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
		if r.PathValue("id") != "a-1" {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "a-1", "personnel_id": "p-1"})
	})
	repo := NewPocketBaseAssignmentRepository(newTestPocketBase(t, mux))
	repo.now = func() time.Time { return time.Date(2025, 1, 15, 7, 55, 0, 0, time.UTC) }
	ctx := context.Background()

	row, err := repo.GetAssignmentForPrincipal(ctx, "p-1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "Rizal Park North", row.Beat.Name)
	assert.Equal(t, "08:00", row.Beat.DutyStartTime)
	assert.Nil(t, row.AcceptedAt)

	row, err = repo.GetAssignmentForPrincipal(ctx, "p-2")
	require.NoError(t, err)
	assert.Nil(t, row)

	require.NoError(t, repo.UpdateAssignmentStatus(ctx, "a-1", "p-1", models.AssignmentAccepted))
	assert.Equal(t, "accepted", patched["acceptance_status"])
	assert.Equal(t, "2025-01-15 07:55:00.000Z", patched["accepted_at"])

	err = repo.UpdateAssignmentStatus(ctx, "a-2", "p-1", models.AssignmentAccepted)
	assert.ErrorIs(t, err, ErrNotFound)

	// a row owned by someone else is reported as missing
	err = repo.UpdateAssignmentStatus(ctx, "a-1", "p-9", models.AssignmentAccepted)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPocketBaseLocationUpsertIsOneBatchPut(t *testing.T) {
	var requests []map[string]any
	stored := map[string]pbLocation{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/batch", func(w http.ResponseWriter, r *http.Request) {
		var batch struct {
			Requests []map[string]any `json:"requests"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		requests = append(requests, batch.Requests...)

		raw, _ := json.Marshal(batch.Requests[0]["body"])
		var loc pbLocation
		assert.NoError(t, json.Unmarshal(raw, &loc))
		stored[loc.ID] = loc
		writeJSON(w, http.StatusOK, []map[string]any{{"status": 200, "body": loc}})
	})
	mux.HandleFunc("GET /api/collections/personnel_locations/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		loc, ok := stored[r.PathValue("id")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, loc)
	})
	mux.HandleFunc("DELETE /api/collections/personnel_locations/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := stored[r.PathValue("id")]; !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
			return
		}
		delete(stored, r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})
	repo := NewPocketBaseLocationRepository(newTestPocketBase(t, mux))
	ctx := context.Background()
	at := time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)

	require.NoError(t, repo.UpsertLocation(ctx, models.LocationRecord{
		PersonnelID: "p-1", Latitude: 14.5995, Longitude: 120.9842, Accuracy: 5, UpdatedAt: at,
	}))
	require.Len(t, requests, 1)
	assert.Equal(t, http.MethodPut, requests[0]["method"])
	assert.Equal(t, "/api/collections/personnel_locations/records", requests[0]["url"])

	rec, err := repo.GetLocation(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", rec.ID)
	assert.Equal(t, 14.5995, rec.Latitude)
	assert.Equal(t, at, rec.UpdatedAt)

	require.NoError(t, repo.DeleteLocation(ctx, "p-1"))
	require.NoError(t, repo.DeleteLocation(ctx, "p-1"))
	_, err = repo.GetLocation(ctx, "p-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPocketBaseLocationUpsertRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/batch", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"status": 400, "body": map[string]string{"message": "invalid"}}})
	})
	repo := NewPocketBaseLocationRepository(newTestPocketBase(t, mux))

	err := repo.UpsertLocation(context.Background(), models.LocationRecord{PersonnelID: "p-1", UpdatedAt: time.Now()})
	require.Error(t, err)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}
