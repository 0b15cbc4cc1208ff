package db

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) (*Database, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "vsdocs-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := New(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return db, cleanup
}

func TestUserOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	user, err := db.CreateUser("Alice@Example.com", "hunter2secret")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("Email should be normalized, got %q", user.Email)
	}

	// Duplicate email
	if _, err := db.CreateUser("alice@example.com", "otherpassword"); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("Expected ErrEmailTaken, got %v", err)
	}

	// Verify with correct and wrong password
	verified, err := db.VerifyUser("alice@example.com", "hunter2secret")
	if err != nil {
		t.Fatalf("Failed to verify user: %v", err)
	}
	if verified.ID != user.ID {
		t.Errorf("Expected user %s, got %s", user.ID, verified.ID)
	}

	if _, err := db.VerifyUser("alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := db.VerifyUser("nobody@example.com", "hunter2secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials for unknown email, got %v", err)
	}

	// Lookup by ID
	got, err := db.GetUser(user.ID)
	if err != nil || got == nil || got.Email != "alice@example.com" {
		t.Errorf("Unexpected user lookup: %+v (err %v)", got, err)
	}
	missing, err := db.GetUser("no-such-id")
	if err != nil || missing != nil {
		t.Errorf("Unknown user should be nil, got %+v (err %v)", missing, err)
	}
}

func TestProjectOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	owner, err := db.CreateUser("owner@example.com", "longpassword")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	other, err := db.CreateUser("other@example.com", "longpassword")
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	project, err := db.CreateProject(owner.ID, "Fizzbuzz", "print(1)", "python")
	if err != nil {
		t.Fatalf("Failed to create project: %v", err)
	}
	if project.Title != "Fizzbuzz" || project.Language != "python" {
		t.Errorf("Unexpected project: %+v", project)
	}

	projects, err := db.ListProjects(owner.ID, 10, 0)
	if err != nil || len(projects) != 1 {
		t.Errorf("Expected 1 project, got %d (err %v)", len(projects), err)
	}
	projects, _ = db.ListProjects(other.ID, 10, 0)
	if len(projects) != 0 {
		t.Errorf("Other user should see no projects, got %d", len(projects))
	}

	// Delete is scoped to the owner
	deleted, err := db.DeleteProject(project.ID, other.ID)
	if err != nil || deleted {
		t.Errorf("Non-owner delete should be a no-op, got deleted=%v err=%v", deleted, err)
	}
	deleted, err = db.DeleteProject(project.ID, owner.ID)
	if err != nil || !deleted {
		t.Errorf("Owner delete should succeed, got deleted=%v err=%v", deleted, err)
	}

	missing, err := db.GetProject(project.ID)
	if err != nil || missing != nil {
		t.Errorf("Deleted project should be nil, got %+v (err %v)", missing, err)
	}
}

func TestRoomOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.CreateRoom("test-room"); err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}
	// Idempotent
	if err := db.CreateRoom("test-room"); err != nil {
		t.Fatalf("Repeat create should be a no-op: %v", err)
	}

	room, err := db.GetRoom("test-room")
	if err != nil || room == nil || room.ID != "test-room" {
		t.Errorf("Unexpected room: %+v (err %v)", room, err)
	}

	room, err = db.GetRoom("non-existent")
	if err != nil || room != nil {
		t.Errorf("Unknown room should be nil, got %+v (err %v)", room, err)
	}
}

func TestSnapshotOperations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	// No snapshot yet
	snapshot, err := db.GetLatestSnapshot("r1")
	if err != nil || snapshot != nil {
		t.Fatalf("Expected no snapshot, got %+v (err %v)", snapshot, err)
	}

	// First save creates the room row
	first, err := db.SaveSnapshot("r1", "print(1)", "python", []byte(`["hi"]`))
	if err != nil {
		t.Fatalf("Failed to save snapshot: %v", err)
	}
	if first.Code != "print(1)" || first.Language != "python" || string(first.Transcript) != `["hi"]` {
		t.Errorf("Unexpected snapshot: %+v", first)
	}
	if room, _ := db.GetRoom("r1"); room == nil {
		t.Error("Save should create the room row")
	}

	// Latest wins
	second, err := db.SaveSnapshot("r1", "print(2)", "python", nil)
	if err != nil {
		t.Fatalf("Failed to save second snapshot: %v", err)
	}
	if string(second.Transcript) != "[]" {
		t.Errorf("Empty transcript should default to [], got %q", second.Transcript)
	}

	latest, err := db.GetLatestSnapshot("r1")
	if err != nil || latest == nil {
		t.Fatalf("Failed to load latest snapshot: %v", err)
	}
	if latest.Code != "print(2)" {
		t.Errorf("Expected latest code print(2), got %q", latest.Code)
	}

	count, err := db.GetSnapshotCount("r1")
	if err != nil || count != 2 {
		t.Errorf("Expected 2 snapshots, got %d (err %v)", count, err)
	}
}

func TestPruneSnapshots(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	for i := 0; i < 10; i++ {
		if _, err := db.SaveSnapshot("r1", "v", "go", nil); err != nil {
			t.Fatalf("Failed to save snapshot: %v", err)
		}
	}

	if err := db.PruneSnapshots("r1", 3); err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}

	count, err := db.GetSnapshotCount("r1")
	if err != nil || count != 3 {
		t.Errorf("Expected 3 snapshots after prune, got %d (err %v)", count, err)
	}
}

func TestStats(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if _, err := db.CreateUser("a@example.com", "longpassword"); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := db.SaveSnapshot("stats-room", "x", "", nil); err != nil {
			t.Fatalf("Failed to save snapshot: %v", err)
		}
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}

	if stats["room_count"].(int) != 1 {
		t.Errorf("Expected 1 room, got %v", stats["room_count"])
	}
	if stats["snapshot_count"].(int) != 3 {
		t.Errorf("Expected 3 snapshots, got %v", stats["snapshot_count"])
	}
	if stats["user_count"].(int) != 1 {
		t.Errorf("Expected 1 user, got %v", stats["user_count"])
	}
}
