package db

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type Database struct {
	db *sql.DB
}

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type Project struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Code      string    `json:"code"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Room struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is one explicitly saved capture of a room's shared state.
// Transcript holds the chat messages as a JSON array.
type Snapshot struct {
	ID         int       `json:"id"`
	RoomID     string    `json:"room_id"`
	Code       string    `json:"code"`
	Language   string    `json:"language"`
	Transcript []byte    `json:"transcript"`
	CreatedAt  time.Time `json:"created_at"`
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		code TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_projects_user_id ON projects(user_id);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS room_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		transcript TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_room_snapshots_room_id ON room_snapshots(room_id, id DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// User operations

func normEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// CreateUser inserts a new user with a bcrypt password hash
func (d *Database) CreateUser(email, password string) (*User, error) {
	email = normEmail(email)
	if email == "" || password == "" {
		return nil, errors.New("missing email or password")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	if _, err := d.db.Exec(
		"INSERT INTO users (id, email, password_hash) VALUES (?, ?, ?)",
		id, email, string(hash),
	); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	return d.GetUser(id)
}

func (d *Database) GetUser(id string) (*User, error) {
	row := d.db.QueryRow(
		"SELECT id, email, created_at FROM users WHERE id = ?",
		id,
	)

	var user User
	err := row.Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// VerifyUser checks email + password and returns the user on a match.
// Both unknown email and wrong password come back as ErrInvalidCredentials.
func (d *Database) VerifyUser(email, password string) (*User, error) {
	row := d.db.QueryRow(
		"SELECT id, email, password_hash, created_at FROM users WHERE email = ?",
		normEmail(email),
	)

	var user User
	var hash string
	err := row.Scan(&user.ID, &user.Email, &hash, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// Project operations

func (d *Database) CreateProject(userID, title, code, language string) (*Project, error) {
	id := uuid.NewString()
	_, err := d.db.Exec(
		"INSERT INTO projects (id, user_id, title, code, language) VALUES (?, ?, ?, ?, ?)",
		id, userID, title, code, language,
	)
	if err != nil {
		return nil, err
	}
	return d.GetProject(id)
}

func (d *Database) GetProject(id string) (*Project, error) {
	row := d.db.QueryRow(
		"SELECT id, user_id, title, code, language, created_at, updated_at FROM projects WHERE id = ?",
		id,
	)

	var p Project
	err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.Code, &p.Language, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *Database) ListProjects(userID string, limit, offset int) ([]Project, error) {
	rows, err := d.db.Query(
		"SELECT id, user_id, title, code, language, created_at, updated_at FROM projects WHERE user_id = ? ORDER BY updated_at DESC LIMIT ? OFFSET ?",
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.UserID, &p.Title, &p.Code, &p.Language, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (d *Database) DeleteProject(id, userID string) (bool, error) {
	result, err := d.db.Exec(
		"DELETE FROM projects WHERE id = ? AND user_id = ?",
		id, userID,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// Room operations

func (d *Database) CreateRoom(id string) error {
	_, err := d.db.Exec(
		"INSERT OR IGNORE INTO rooms (id) VALUES (?)",
		id,
	)
	return err
}

func (d *Database) GetRoom(id string) (*Room, error) {
	row := d.db.QueryRow(
		"SELECT id, created_at, updated_at FROM rooms WHERE id = ?",
		id,
	)

	var room Room
	err := row.Scan(&room.ID, &room.CreatedAt, &room.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (d *Database) ListRooms(limit, offset int) ([]Room, error) {
	rows, err := d.db.Query(
		"SELECT id, created_at, updated_at FROM rooms ORDER BY updated_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (d *Database) UpdateRoomTimestamp(id string) error {
	_, err := d.db.Exec(
		"UPDATE rooms SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		id,
	)
	return err
}

// Snapshot operations

// SaveSnapshot appends a capture of the room's shared state. The room row
// is created on first save.
func (d *Database) SaveSnapshot(roomID, code, language string, transcript []byte) (*Snapshot, error) {
	if err := d.CreateRoom(roomID); err != nil {
		return nil, err
	}

	if len(transcript) == 0 {
		transcript = []byte("[]")
	}

	result, err := d.db.Exec(
		"INSERT INTO room_snapshots (room_id, code, language, transcript) VALUES (?, ?, ?, ?)",
		roomID, code, language, string(transcript),
	)
	if err != nil {
		return nil, err
	}

	if err := d.UpdateRoomTimestamp(roomID); err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return d.GetSnapshot(int(id))
}

func (d *Database) GetSnapshot(id int) (*Snapshot, error) {
	row := d.db.QueryRow(
		"SELECT id, room_id, code, language, transcript, created_at FROM room_snapshots WHERE id = ?",
		id,
	)
	return scanSnapshot(row)
}

// GetLatestSnapshot returns the most recent snapshot for a room, or nil
// if the room was never saved
func (d *Database) GetLatestSnapshot(roomID string) (*Snapshot, error) {
	row := d.db.QueryRow(
		"SELECT id, room_id, code, language, transcript, created_at FROM room_snapshots WHERE room_id = ? ORDER BY id DESC LIMIT 1",
		roomID,
	)
	return scanSnapshot(row)
}

func scanSnapshot(row *sql.Row) (*Snapshot, error) {
	var s Snapshot
	var transcript string
	err := row.Scan(&s.ID, &s.RoomID, &s.Code, &s.Language, &transcript, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Transcript = []byte(transcript)
	return &s, nil
}

func (d *Database) GetSnapshotCount(roomID string) (int, error) {
	var count int
	err := d.db.QueryRow(
		"SELECT COUNT(*) FROM room_snapshots WHERE room_id = ?",
		roomID,
	).Scan(&count)
	return count, err
}

// PruneSnapshots removes old snapshots for a room, keeping the most
// recent keepCount
func (d *Database) PruneSnapshots(roomID string, keepCount int) error {
	_, err := d.db.Exec(`
		DELETE FROM room_snapshots
		WHERE room_id = ? AND id NOT IN (
			SELECT id FROM room_snapshots
			WHERE room_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, roomID, roomID, keepCount)
	return err
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	counts := map[string]string{
		"room_count":     "SELECT COUNT(*) FROM rooms",
		"snapshot_count": "SELECT COUNT(*) FROM room_snapshots",
		"user_count":     "SELECT COUNT(*) FROM users",
		"project_count":  "SELECT COUNT(*) FROM projects",
	}
	for key, query := range counts {
		var n int
		if err := d.db.QueryRow(query).Scan(&n); err != nil {
			return nil, err
		}
		stats[key] = n
	}

	return stats, nil
}
