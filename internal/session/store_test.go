package session_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/zerobuild/zerobuild/internal/session"
)

// newTestStore creates a Store backed by a temporary SQLite database.
func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := session.NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// ---------------------------------------------------------------------------
// Sandbox session
// ---------------------------------------------------------------------------

func TestLoadSession_Empty(t *testing.T) {
	store := newTestStore(t)

	sess, err := store.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if sess != nil {
		t.Errorf("LoadSession = %+v, want nil on a fresh store", sess)
	}
}

func TestSaveSession_Upserts(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveSession("sbx-1", "e2b"); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := store.SaveSession("sbx-2", "docker"); err != nil {
		t.Fatalf("SaveSession (overwrite): %v", err)
	}

	sess, err := store.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if sess == nil {
		t.Fatal("LoadSession = nil after save")
	}
	if sess.SandboxID != "sbx-2" || sess.Provider != "docker" {
		t.Errorf("session = %+v, want the latest save to win", sess)
	}
}

func TestClearSession(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveSession("sbx-1", "e2b"); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := store.ClearSession(); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}

	sess, err := store.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if sess != nil {
		t.Errorf("LoadSession = %+v, want nil after clear", sess)
	}
}

func TestClearSession_EmptyStore(t *testing.T) {
	store := newTestStore(t)

	if err := store.ClearSession(); err != nil {
		t.Errorf("ClearSession on empty store: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

func TestLatestSnapshot_Empty(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LatestSnapshot()
	if !errors.Is(err, session.ErrNoSnapshot) {
		t.Errorf("LatestSnapshot on empty store = %v, want ErrNoSnapshot", err)
	}
}

func TestSaveSnapshot_Roundtrip(t *testing.T) {
	store := newTestStore(t)

	files := map[string]string{
		"/app/package.json": `{"name":"demo"}`,
		"/app/src/index.js": "console.log('hi')\n",
	}
	id, err := store.SaveSnapshot(files, "nextjs")
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if id == "" {
		t.Fatal("SaveSnapshot returned empty ID")
	}

	snap, err := store.GetSnapshot(id)
	if err != nil {
		t.Fatalf("GetSnapshot(%q): %v", id, err)
	}
	if snap.ProjectType != "nextjs" {
		t.Errorf("ProjectType = %q, want %q", snap.ProjectType, "nextjs")
	}
	if len(snap.Files) != len(files) {
		t.Fatalf("Files has %d entries, want %d", len(snap.Files), len(files))
	}
	for path, content := range files {
		if snap.Files[path] != content {
			t.Errorf("Files[%q] = %q, want %q", path, snap.Files[path], content)
		}
	}
}

func TestLatestSnapshot_LatestWins(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.SaveSnapshot(map[string]string{"/app/a": "old"}, ""); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	newest, err := store.SaveSnapshot(map[string]string{"/app/a": "new"}, "")
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	snap, err := store.LatestSnapshot()
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if snap.ID != newest {
		t.Errorf("LatestSnapshot ID = %q, want %q", snap.ID, newest)
	}
	if snap.Files["/app/a"] != "new" {
		t.Errorf("Files[/app/a] = %q, want %q", snap.Files["/app/a"], "new")
	}
}

func TestGetSnapshot_Missing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSnapshot("nope")
	if !errors.Is(err, session.ErrNoSnapshot) {
		t.Errorf("GetSnapshot(missing) = %v, want ErrNoSnapshot", err)
	}
}

func TestListSnapshots(t *testing.T) {
	store := newTestStore(t)

	first, err := store.SaveSnapshot(map[string]string{"/a": "1"}, "vite")
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	second, err := store.SaveSnapshot(map[string]string{"/b": "2"}, "")
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	snaps, err := store.ListSnapshots()
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("ListSnapshots returned %d entries, want 2", len(snaps))
	}
	if snaps[0].ID != second || snaps[1].ID != first {
		t.Errorf("order = [%s %s], want newest first [%s %s]",
			snaps[0].ID, snaps[1].ID, second, first)
	}
	// Metadata listing carries no file payloads.
	if snaps[0].Files != nil {
		t.Errorf("ListSnapshots included file payloads: %v", snaps[0].Files)
	}
}
