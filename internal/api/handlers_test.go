package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pnotato/VSDocs/internal/auth"
	"github.com/pnotato/VSDocs/internal/db"
	"github.com/pnotato/VSDocs/internal/room"
	"github.com/pnotato/VSDocs/internal/ws"
)

func setupTestAPI(t *testing.T) (*API, *room.Registry, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "vsdocs-api-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	database, err := db.New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := room.NewRegistry()
	hub := ws.NewHub(logger, registry)
	go hub.Run()

	api := New(hub, registry, database, nil, auth.New("test-secret"), logger)

	cleanup := func() {
		database.Close()
		os.RemoveAll(tmpDir)
	}

	return api, registry, cleanup
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal body: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func getPath(t *testing.T, handler http.HandlerFunc, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func signUp(t *testing.T, api *API, email string) string {
	t.Helper()
	w := postJSON(t, api.SignUpHandler, "/api/auth/signup", map[string]string{
		"email":    email,
		"password": "correcthorse",
	}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("Signup failed with status %d: %s", w.Code, w.Body)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode signup response: %v", err)
	}
	token, _ := resp["token"].(string)
	if token == "" {
		t.Fatal("Signup should return a token")
	}
	return token
}

func TestHealthHandler(t *testing.T) {
	api, _, cleanup := setupTestAPI(t)
	defer cleanup()

	w := getPath(t, api.HealthHandler, "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", response["status"])
	}
}

func TestStatsHandler(t *testing.T) {
	api, _, cleanup := setupTestAPI(t)
	defer cleanup()

	w := getPath(t, api.StatsHandler, "/api/stats", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	for _, key := range []string{"active_rooms", "active_clients", "total_rooms", "total_users"} {
		if _, ok := response[key]; !ok {
			t.Errorf("Response should contain %q", key)
		}
	}
}

func TestSignUpValidation(t *testing.T) {
	api, _, cleanup := setupTestAPI(t)
	defer cleanup()

	tests := []struct {
		name           string
		body           map[string]string
		expectedStatus int
	}{
		{
			name:           "Valid signup",
			body:           map[string]string{"email": "a@example.com", "password": "correcthorse"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Duplicate email",
			body:           map[string]string{"email": "a@example.com", "password": "correcthorse"},
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "Short password",
			body:           map[string]string{"email": "b@example.com", "password": "short"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Invalid email",
			body:           map[string]string{"email": "not-an-email", "password": "correcthorse"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, api.SignUpHandler, "/api/auth/signup", tt.body, "")
			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body)
			}
		})
	}
}

func TestSignInAndMe(t *testing.T) {
	api, _, cleanup := setupTestAPI(t)
	defer cleanup()

	signUp(t, api, "user@example.com")

	w := postJSON(t, api.SignInHandler, "/api/auth/signin", map[string]string{
		"email":    "user@example.com",
		"password": "correcthorse",
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	token, _ := resp["token"].(string)

	w = postJSON(t, api.SignInHandler, "/api/auth/signin", map[string]string{
		"email":    "user@example.com",
		"password": "wrongpassword",
	}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for bad password, got %d", w.Code)
	}

	w = getPath(t, api.Auth(api.MeHandler), "/api/auth/me", token)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for /me with token, got %d: %s", w.Code, w.Body)
	}

	w = getPath(t, api.Auth(api.MeHandler), "/api/auth/me", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for /me without token, got %d", w.Code)
	}

	w = getPath(t, api.Auth(api.MeHandler), "/api/auth/me", "garbage.token.here")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for bad token, got %d", w.Code)
	}
}

func TestProjectLifecycle(t *testing.T) {
	api, _, cleanup := setupTestAPI(t)
	defer cleanup()

	owner := signUp(t, api, "owner@example.com")
	other := signUp(t, api, "other@example.com")
	projects := api.Auth(api.ProjectsRouter)

	// Unauthenticated
	w := postJSON(t, projects, "/api/projects", CreateProjectRequest{Title: "t"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", w.Code)
	}

	// Create
	w = postJSON(t, projects, "/api/projects", CreateProjectRequest{
		Title: "Fizzbuzz", Code: "print(1)", Language: "python",
	}, owner)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body)
	}
	var created db.Project
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode project: %v", err)
	}

	// Missing title
	w = postJSON(t, projects, "/api/projects", CreateProjectRequest{Code: "x"}, owner)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without title, got %d", w.Code)
	}

	// List is scoped to the owner
	w = getPath(t, projects, "/api/projects", owner)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var listing struct {
		Projects []db.Project `json:"projects"`
	}
	if err := json.NewDecoder(w.Body).Decode(&listing); err != nil {
		t.Fatalf("Failed to decode listing: %v", err)
	}
	if len(listing.Projects) != 1 {
		t.Errorf("Expected 1 project, got %d", len(listing.Projects))
	}

	// Another user can neither read nor delete it
	w = getPath(t, projects, "/api/projects/"+created.ID, other)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for other user, got %d", w.Code)
	}
	req := httptest.NewRequest("DELETE", "/api/projects/"+created.ID, nil)
	req.Header.Set("Authorization", "Bearer "+other)
	rec := httptest.NewRecorder()
	projects(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for other user delete, got %d", rec.Code)
	}

	// Owner delete
	req = httptest.NewRequest("DELETE", "/api/projects/"+created.ID, nil)
	req.Header.Set("Authorization", "Bearer "+owner)
	rec = httptest.NewRecorder()
	projects(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 for owner delete, got %d: %s", rec.Code, rec.Body)
	}
}

func TestSnapshotSaveAndLoad(t *testing.T) {
	api, registry, cleanup := setupTestAPI(t)
	defer cleanup()

	token := signUp(t, api, "saver@example.com")

	// Live room state to capture
	rm := registry.GetOrCreate("r1")
	rm.SetCode("print(1)")
	rm.SetLanguage("python")
	rm.AppendMessage(json.RawMessage(`"hi"`))

	// Save requires auth
	w := postJSON(t, api.RoomsRouter, "/api/rooms/r1/snapshot", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", w.Code)
	}

	w = postJSON(t, api.RoomsRouter, "/api/rooms/r1/snapshot", nil, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body)
	}

	// Load is public
	w = getPath(t, api.RoomsRouter, "/api/rooms/r1/snapshot", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body)
	}
	var snapshot SnapshotResponse
	if err := json.NewDecoder(w.Body).Decode(&snapshot); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if snapshot.Code != "print(1)" || snapshot.Language != "python" {
		t.Errorf("Unexpected snapshot: %+v", snapshot)
	}
	var transcript []json.RawMessage
	if err := json.Unmarshal(snapshot.Transcript, &transcript); err != nil || len(transcript) != 1 {
		t.Errorf("Unexpected transcript %s (err %v)", snapshot.Transcript, err)
	}

	// Unknown room has no snapshot
	w = getPath(t, api.RoomsRouter, "/api/rooms/never-saved/snapshot", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestRoomsEndpoints(t *testing.T) {
	api, registry, cleanup := setupTestAPI(t)
	defer cleanup()

	token := signUp(t, api, "rooms@example.com")

	registry.GetOrCreate("persisted").SetCode("x")
	w := postJSON(t, api.RoomsRouter, "/api/rooms/persisted/snapshot", nil, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body)
	}

	// Listing shows the persisted room
	w = getPath(t, api.RoomsRouter, "/api/rooms", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var listing struct {
		Rooms []RoomResponse `json:"rooms"`
	}
	if err := json.NewDecoder(w.Body).Decode(&listing); err != nil {
		t.Fatalf("Failed to decode listing: %v", err)
	}
	if len(listing.Rooms) != 1 || listing.Rooms[0].ID != "persisted" {
		t.Errorf("Unexpected listing: %+v", listing.Rooms)
	}
	if listing.Rooms[0].SnapshotCount != 1 {
		t.Errorf("Expected 1 snapshot, got %d", listing.Rooms[0].SnapshotCount)
	}

	// Room detail
	w = getPath(t, api.RoomsRouter, "/api/rooms/persisted", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	// Unknown and unoccupied
	w = getPath(t, api.RoomsRouter, "/api/rooms/ghost", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}
