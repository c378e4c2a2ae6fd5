package ops

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hpungsan/compass/internal/config"
	"github.com/hpungsan/compass/internal/db"
	"github.com/hpungsan/compass/internal/errors"
)

// ExportSchemaVersion is written to every export header.
const ExportSchemaVersion = "1.0"

// ExportDecisionsInput contains parameters for the ExportDecisions operation.
type ExportDecisionsInput struct {
	Path      string    // optional, default: ~/.compass/exports/<name>-<timestamp>.jsonl
	Name      string    // optional file name prefix for the default path
	SinceDays int       // optional; 0 exports the whole trail
	Now       time.Time // optional; defaults to time.Now()
}

// ExportDecisionsOutput contains the result of the ExportDecisions operation.
type ExportDecisionsOutput struct {
	Path       string `json:"path"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// ExportHeader represents the header line in a JSONL export file.
type ExportHeader struct {
	CompassExport bool   `json:"_compass_export"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
}

// ExportDecisions writes the decision audit trail to a JSONL file, oldest first.
func ExportDecisions(ctx context.Context, database *sql.DB, cfg *config.Config, input ExportDecisionsInput) (*ExportDecisionsOutput, error) {
	if input.SinceDays < 0 {
		return nil, errors.NewInvalidRequest("since_days must not be negative")
	}
	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}
	exportedAt := now.Unix()

	exportPath := input.Path
	if exportPath == "" {
		var err error
		exportPath, err = defaultExportPath(input.Name, now)
		if err != nil {
			return nil, err
		}
	}

	// Default paths are validated too; Name flows into them.
	if err := ValidatePath(exportPath, PathCheckWrite, cfg); err != nil {
		return nil, err
	}

	dir := filepath.Dir(exportPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	// Write to temp file first, then rename so an existing file survives failure
	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := exportPath + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	enc := json.NewEncoder(file)
	header := ExportHeader{
		CompassExport: true,
		SchemaVersion: ExportSchemaVersion,
		ExportedAt:    exportedAt,
	}
	if err := enc.Encode(header); err != nil {
		return nil, errors.NewInternal(err)
	}

	var since int64
	if input.SinceDays > 0 {
		since = now.AddDate(0, 0, -input.SinceDays).Unix()
	}
	rows, err := db.StreamDecisions(ctx, database, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		select {
		case <-ctx.Done():
			return nil, errors.NewCancelled("export")
		default:
		}

		r, err := db.ScanDecision(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		if err := enc.Encode(r); err != nil {
			return nil, errors.NewInternal(err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}

	// Close before rename (required on Windows).
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlinked destination
	if info, err := os.Lstat(exportPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInternal(fmt.Errorf("export path is a symlink"))
	}

	if err := os.Rename(tempPath, exportPath); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(exportPath); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; overwriting is not supported on Windows (choose a new path or delete the existing file)")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return &ExportDecisionsOutput{
		Path:       exportPath,
		Count:      count,
		ExportedAt: exportedAt,
	}, nil
}

// defaultExportPath generates ~/.compass/exports/<name>-<timestamp>.jsonl.
func defaultExportPath(name string, now time.Time) (string, error) {
	dir, err := DefaultExportsDir()
	if err != nil {
		return "", err
	}
	prefix := "decisions"
	if n := strings.ToLower(strings.TrimSpace(name)); n != "" {
		prefix = SanitizeForFilename(n)
	}
	filename := fmt.Sprintf("%s-%s.jsonl", prefix, now.Format("2006-01-02T150405"))
	return filepath.Join(dir, filename), nil
}
