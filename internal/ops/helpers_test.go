package ops

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hpungsan/compass/internal/config"
	"github.com/hpungsan/compass/internal/db"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// setupTest returns a database, a config allowing dataDir, and dataDir.
func setupTest(t *testing.T) (*sql.DB, *config.Config, string) {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	dataDir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.AllowedPaths = []string{dataDir}
	return database, cfg, dataDir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}
