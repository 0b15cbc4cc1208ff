package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pnotato/VSDocs/internal/auth"
	"github.com/pnotato/VSDocs/internal/cache"
	"github.com/pnotato/VSDocs/internal/db"
	"github.com/pnotato/VSDocs/internal/ratelimit"
	"github.com/pnotato/VSDocs/internal/room"
	"github.com/pnotato/VSDocs/internal/ws"
)

const tokenTTL = 24 * time.Hour

// Explicit snapshot saves hit sqlite, so they are limited per user
const (
	savesPerSecond = 1.0
	saveBurst      = 5
)

type API struct {
	hub        *ws.Hub
	registry   *room.Registry
	database   *db.Database
	snapshots  *cache.SnapshotCache
	jwt        *auth.JWT
	log        *slog.Logger
	saveLimits *ratelimit.ClientLimiters
}

func New(hub *ws.Hub, registry *room.Registry, database *db.Database, snapshots *cache.SnapshotCache, signer *auth.JWT, logger *slog.Logger) *API {
	return &API{
		hub:        hub,
		registry:   registry,
		database:   database,
		snapshots:  snapshots,
		jwt:        signer,
		log:        logger,
		saveLimits: ratelimit.NewClientLimiters(savesPerSecond, saveBurst),
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("api.encode", "err", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["total_rooms"] = dbStats["room_count"]
			stats["total_snapshots"] = dbStats["snapshot_count"]
			stats["total_users"] = dbStats["user_count"]
			stats["total_projects"] = dbStats["project_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// Auth handlers

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type tokenResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func (a *API) SignUpHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if !strings.Contains(req.Email, "@") || len(req.Password) < 8 {
		errorResponse(w, http.StatusBadRequest, "Valid email and a password of at least 8 characters are required")
		return
	}

	user, err := a.database.CreateUser(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, db.ErrEmailTaken) {
			errorResponse(w, http.StatusConflict, "Email already registered")
			return
		}
		errorResponse(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	token, err := a.jwt.Sign(user.ID, tokenTTL)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	jsonResponse(w, http.StatusCreated, tokenResponse{
		Token: token,
		User:  userResponse{ID: user.ID, Email: user.Email},
	})
}

func (a *API) SignInHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := a.database.VerifyUser(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, db.ErrInvalidCredentials) {
			errorResponse(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		errorResponse(w, http.StatusInternalServerError, "Failed to sign in")
		return
	}

	token, err := a.jwt.Sign(user.ID, tokenTTL)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	jsonResponse(w, http.StatusOK, tokenResponse{
		Token: token,
		User:  userResponse{ID: user.ID, Email: user.Email},
	})
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	user, err := a.database.GetUser(auth.UserID(r.Context()))
	if err != nil || user == nil {
		errorResponse(w, http.StatusUnauthorized, "Unknown user")
		return
	}

	jsonResponse(w, http.StatusOK, userResponse{ID: user.ID, Email: user.Email})
}

// Project handlers

type CreateProjectRequest struct {
	Title    string `json:"title"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

func (a *API) CreateProjectHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Title == "" {
		errorResponse(w, http.StatusBadRequest, "Title is required")
		return
	}

	project, err := a.database.CreateProject(auth.UserID(r.Context()), req.Title, req.Code, req.Language)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to create project")
		return
	}

	jsonResponse(w, http.StatusCreated, project)
}

func (a *API) ListProjectsHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	projects, err := a.database.ListProjects(auth.UserID(r.Context()), limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list projects")
		return
	}

	if projects == nil {
		projects = []db.Project{}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"projects": projects,
		"limit":    limit,
		"offset":   offset,
	})
}

func (a *API) GetProjectHandler(w http.ResponseWriter, r *http.Request, projectID string) {
	project, err := a.database.GetProject(projectID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get project")
		return
	}
	if project == nil || project.UserID != auth.UserID(r.Context()) {
		errorResponse(w, http.StatusNotFound, "Project not found")
		return
	}

	jsonResponse(w, http.StatusOK, project)
}

func (a *API) DeleteProjectHandler(w http.ResponseWriter, r *http.Request, projectID string) {
	deleted, err := a.database.DeleteProject(projectID, auth.UserID(r.Context()))
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to delete project")
		return
	}
	if !deleted {
		errorResponse(w, http.StatusNotFound, "Project not found")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "Project deleted"})
}

func (a *API) ProjectsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/projects")
	path = strings.Trim(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			a.ListProjectsHandler(w, r)
		case http.MethodPost:
			a.CreateProjectHandler(w, r)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.GetProjectHandler(w, r, path)
	case http.MethodDelete:
		a.DeleteProjectHandler(w, r, path)
	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// Room handlers

type RoomResponse struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	ActiveUsers   int       `json:"active_users"`
	SnapshotCount int       `json:"snapshot_count"`
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	rooms, err := a.database.ListRooms(limit, offset)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}

	activeRooms := a.hub.GetActiveRooms()

	response := make([]RoomResponse, len(rooms))
	for i, rm := range rooms {
		count, _ := a.database.GetSnapshotCount(rm.ID)
		response[i] = RoomResponse{
			ID:            rm.ID,
			CreatedAt:     rm.CreatedAt,
			UpdatedAt:     rm.UpdatedAt,
			ActiveUsers:   activeRooms[rm.ID],
			SnapshotCount: count,
		}
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  response,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request, roomID string) {
	rm, err := a.database.GetRoom(roomID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to get room")
		return
	}

	activeUsers := a.hub.GetActiveRooms()[roomID]
	if rm == nil {
		// Live-only rooms exist without a persisted row
		if activeUsers == 0 {
			errorResponse(w, http.StatusNotFound, "Room not found")
			return
		}
		jsonResponse(w, http.StatusOK, map[string]interface{}{
			"id":           roomID,
			"active_users": activeUsers,
			"persisted":    false,
		})
		return
	}

	count, _ := a.database.GetSnapshotCount(roomID)
	jsonResponse(w, http.StatusOK, RoomResponse{
		ID:            rm.ID,
		CreatedAt:     rm.CreatedAt,
		UpdatedAt:     rm.UpdatedAt,
		ActiveUsers:   activeUsers,
		SnapshotCount: count,
	})
}

// Snapshot handlers

type SnapshotResponse struct {
	ID         int             `json:"id"`
	RoomID     string          `json:"room_id"`
	Code       string          `json:"code"`
	Language   string          `json:"language"`
	Transcript json.RawMessage `json:"transcript"`
	CreatedAt  time.Time       `json:"created_at"`
}

func snapshotResponse(s *db.Snapshot) SnapshotResponse {
	transcript := s.Transcript
	if len(transcript) == 0 {
		transcript = []byte("[]")
	}
	return SnapshotResponse{
		ID:         s.ID,
		RoomID:     s.RoomID,
		Code:       s.Code,
		Language:   s.Language,
		Transcript: transcript,
		CreatedAt:  s.CreatedAt,
	}
}

// SaveSnapshotHandler captures the room's current live state into the
// durable store. This is the explicit user-triggered save; the realtime
// path never touches sqlite.
func (a *API) SaveSnapshotHandler(w http.ResponseWriter, r *http.Request, roomID string) {
	if !a.saveLimits.Get(auth.UserID(r.Context())).Allow() {
		errorResponse(w, http.StatusTooManyRequests, "Too many saves")
		return
	}

	rm := a.registry.GetOrCreate(roomID)
	code, _ := rm.Code()
	language, _ := rm.Language()
	transcript, err := json.Marshal(rm.Transcript())
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to save snapshot")
		return
	}

	snapshot, err := a.database.SaveSnapshot(roomID, code, language, transcript)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to save snapshot")
		return
	}

	a.snapshots.Put(r.Context(), snapshot)
	a.log.Info("snapshot.saved", "room", roomID, "user", auth.UserID(r.Context()))

	jsonResponse(w, http.StatusCreated, snapshotResponse(snapshot))
}

func (a *API) GetSnapshotHandler(w http.ResponseWriter, r *http.Request, roomID string) {
	if snapshot := a.snapshots.Get(r.Context(), roomID); snapshot != nil {
		jsonResponse(w, http.StatusOK, snapshotResponse(snapshot))
		return
	}

	snapshot, err := a.database.GetLatestSnapshot(roomID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to load snapshot")
		return
	}
	if snapshot == nil {
		errorResponse(w, http.StatusNotFound, "No snapshot for room")
		return
	}

	a.snapshots.Put(r.Context(), snapshot)
	jsonResponse(w, http.StatusOK, snapshotResponse(snapshot))
}

// RoomsRouter dispatches /api/rooms, /api/rooms/{id} and
// /api/rooms/{id}/snapshot
func (a *API) RoomsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms")
	path = strings.Trim(path, "/")

	if path == "" {
		if r.Method == http.MethodGet {
			a.ListRoomsHandler(w, r)
			return
		}
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if roomID, ok := strings.CutSuffix(path, "/snapshot"); ok {
		switch r.Method {
		case http.MethodPost:
			// Saving is an authenticated, explicit user action
			a.Auth(func(w http.ResponseWriter, r *http.Request) {
				a.SaveSnapshotHandler(w, r, roomID)
			})(w, r)
		case http.MethodGet:
			a.GetSnapshotHandler(w, r, roomID)
		default:
			errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	if r.Method == http.MethodGet {
		a.GetRoomHandler(w, r, path)
		return
	}
	errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
