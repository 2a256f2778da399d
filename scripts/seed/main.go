// Seed loads a fixtures YAML file into a running patrol-store so a handset
// can sign in and find an assignment.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"patrol-beat-tracker/internal/repository"
)

const pocketbaseURL = "http://127.0.0.1:8090"

var httpClient = &http.Client{Timeout: 10 * time.Second}

type seeder struct {
	baseURL string
	token   string
}

func main() {
	fixturesPath := flag.String("fixtures", "fixtures.yaml", "fixtures file to load")
	flag.Parse()

	fmt.Println("🚀 PocketBase Seed Script")
	fmt.Println("=========================")

	// Load .env file if exists
	godotenv.Load()

	url := getEnv("POCKETBASE_URL", pocketbaseURL)
	admin := getEnv("POCKETBASE_ADMIN_EMAIL", "")
	password := getEnv("POCKETBASE_ADMIN_PASSWORD", "")

	if admin == "" || password == "" {
		fmt.Println("❌ POCKETBASE_ADMIN_EMAIL and POCKETBASE_ADMIN_PASSWORD must be set")
		os.Exit(1)
	}

	data, err := os.ReadFile(*fixturesPath)
	if err != nil {
		fmt.Printf("❌ Cannot read fixtures: %v\n", err)
		os.Exit(1)
	}
	var fx repository.Fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		fmt.Printf("❌ Cannot decode fixtures: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Connecting to: %s\n", url)
	s := &seeder{baseURL: url}
	if err := s.login(admin, password); err != nil {
		fmt.Printf("❌ Superuser login failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✅ Authentication successful")

	fmt.Println("\n👮 Personnel")
	for _, p := range fx.Personnel {
		// the login record and the profile share an id
		s.create("users", p.ID, map[string]any{
			"email":           p.Email,
			"password":        p.Password,
			"passwordConfirm": p.Password,
			"name":            p.FullName,
		})
		s.create("personnel", p.ID, map[string]any{
			"rank":      p.Rank,
			"full_name": p.FullName,
			"email":     p.Email,
			"unit":      p.Unit,
			"sub_unit":  p.SubUnit,
			"is_active": true,
		})
	}

	fmt.Println("\n🗺️  Beats")
	for _, b := range fx.Beats {
		s.create("beats", b.ID, map[string]any{
			"name":            b.Name,
			"address":         b.Address,
			"center_lat":      b.CenterLat,
			"center_lng":      b.CenterLng,
			"radius_meters":   b.RadiusMeters,
			"unit":            b.Unit,
			"sub_unit":        b.SubUnit,
			"beat_status":     b.Status,
			"duty_start_time": b.DutyStartTime,
			"duty_end_time":   b.DutyEndTime,
		})
	}

	fmt.Println("\n📋 Assignments")
	for _, a := range fx.Assignments {
		status := a.Status
		if status == "" {
			status = "pending"
		}
		assignedAt := a.AssignedAt
		if assignedAt.IsZero() {
			assignedAt = time.Now()
		}
		s.create("beat_personnel", a.ID, map[string]any{
			"personnel_id":      a.PersonnelID,
			"beat_id":           a.BeatID,
			"acceptance_status": status,
			"assigned_at":       assignedAt.UTC().Format("2006-01-02 15:04:05.000Z"),
		})
	}

	fmt.Println("\n🎉 Seed complete!")
	fmt.Printf("\nAccess Admin UI: %s/_/\n", url)
}

func (s *seeder) login(identity, password string) error {
	var out struct {
		Token string `json:"token"`
	}
	status, body, err := s.send(http.MethodPost, "/api/collections/_superusers/auth-with-password",
		map[string]string{"identity": identity, "password": password})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", status, string(body))
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	s.token = out.Token
	return nil
}

// create inserts one record; records that already exist are left alone
func (s *seeder) create(collection, id string, fields map[string]any) {
	fields["id"] = id
	status, body, err := s.send(http.MethodPost, fmt.Sprintf("/api/collections/%s/records", collection), fields)
	switch {
	case err != nil:
		fmt.Printf("   ⚠️  %s/%s: %v\n", collection, id, err)
	case status == http.StatusBadRequest && bytes.Contains(body, []byte("unique")):
		fmt.Printf("   ↪️  %s/%s already exists\n", collection, id)
	case status != http.StatusOK:
		fmt.Printf("   ⚠️  %s/%s: HTTP %d %s\n", collection, id, status, string(body))
	default:
		fmt.Printf("   ✅ %s/%s\n", collection, id)
	}
}

func (s *seeder) send(method, path string, in any) (int, []byte, error) {
	jsonData, err := json.Marshal(in)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequest(method, s.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", s.token)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
