package ops

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/compass/internal/db"
	"github.com/hpungsan/compass/internal/errors"
)

// seedDecisions inserts n decisions one day apart; the newest is at base.
func seedDecisions(t *testing.T, database *sql.DB, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		r := &db.DecisionRecord{
			ID:         fmt.Sprintf("01DEC%03d", i),
			Trigger:    "meeting_boundary_change",
			NewMode:    "neutral",
			Confidence: "LOW",
			Reason:     "no calendar signal applies",
			DecidedAt:  base.AddDate(0, 0, i-n+1).Unix(),
		}
		if err := db.InsertDecision(context.Background(), database, r); err != nil {
			t.Fatalf("InsertDecision failed: %v", err)
		}
	}
}

func TestListDecisions(t *testing.T) {
	ctx := context.Background()
	database, _, _ := setupTest(t)
	seedDecisions(t, database, 5)

	out, err := ListDecisions(ctx, database, ListDecisionsInput{Limit: 2})
	if err != nil {
		t.Fatalf("ListDecisions failed: %v", err)
	}
	if len(out.Items) != 2 || out.Items[0].ID != "01DEC004" {
		t.Fatalf("Items = %+v", out.Items)
	}
	if !out.Pagination.HasMore || out.Pagination.Total != 5 || out.Pagination.Limit != 2 {
		t.Errorf("Pagination = %+v", out.Pagination)
	}
	if out.Sort != "decided_at_desc" {
		t.Errorf("Sort = %q", out.Sort)
	}

	out, err = ListDecisions(ctx, database, ListDecisionsInput{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("ListDecisions failed: %v", err)
	}
	if len(out.Items) != 1 || out.Pagination.HasMore {
		t.Errorf("last page = %+v", out)
	}
}

func TestListDecisions_Clamps(t *testing.T) {
	database, _, _ := setupTest(t)

	out, err := ListDecisions(context.Background(), database, ListDecisionsInput{Limit: 1000, Offset: -3})
	if err != nil {
		t.Fatalf("ListDecisions failed: %v", err)
	}
	if out.Pagination.Limit != MaxListLimit || out.Pagination.Offset != 0 {
		t.Errorf("Pagination = %+v", out.Pagination)
	}
	if out.Items == nil {
		t.Error("Items is nil, want empty slice")
	}

	out, err = ListDecisions(context.Background(), database, ListDecisionsInput{})
	if err != nil {
		t.Fatalf("ListDecisions failed: %v", err)
	}
	if out.Pagination.Limit != DefaultListLimit {
		t.Errorf("default Limit = %d", out.Pagination.Limit)
	}
}

func TestPurgeDecisions(t *testing.T) {
	ctx := context.Background()
	database, _, _ := setupTest(t)
	seedDecisions(t, database, 5)

	out, err := PurgeDecisions(ctx, database, PurgeDecisionsInput{OlderThanDays: 2, Now: base})
	if err != nil {
		t.Fatalf("PurgeDecisions failed: %v", err)
	}
	if out.Purged != 2 {
		t.Errorf("Purged = %d, want 2", out.Purged)
	}
	if out.Message != "Permanently deleted 2 decisions (older than 2 days)" {
		t.Errorf("Message = %q", out.Message)
	}

	out, err = PurgeDecisions(ctx, database, PurgeDecisionsInput{OlderThanDays: 30, Now: base})
	if err != nil {
		t.Fatalf("PurgeDecisions failed: %v", err)
	}
	if out.Purged != 0 || out.Message != "No decisions to purge (older than 30 days)" {
		t.Errorf("second purge = %+v", out)
	}

	_, err = PurgeDecisions(ctx, database, PurgeDecisionsInput{OlderThanDays: -1})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("negative days error = %v, want INVALID_REQUEST", err)
	}
}

func TestFormatPurgeMessage(t *testing.T) {
	tests := []struct {
		count int64
		days  int
		want  string
	}{
		{0, 0, "No decisions to purge"},
		{0, 1, "No decisions to purge (older than 1 day)"},
		{0, 30, "No decisions to purge (older than 30 days)"},
		{1, 0, "Permanently deleted 1 decision"},
		{2, 1, "Permanently deleted 2 decisions (older than 1 day)"},
		{3, 7, "Permanently deleted 3 decisions (older than 7 days)"},
	}
	for _, tt := range tests {
		if got := formatPurgeMessage(tt.count, tt.days); got != tt.want {
			t.Errorf("formatPurgeMessage(%d, %d) = %q, want %q", tt.count, tt.days, got, tt.want)
		}
	}
}

func TestExportDecisions(t *testing.T) {
	ctx := context.Background()
	database, cfg, dir := setupTest(t)
	seedDecisions(t, database, 3)

	path := filepath.Join(dir, "audit.jsonl")
	out, err := ExportDecisions(ctx, database, cfg, ExportDecisionsInput{Path: path, Now: base})
	if err != nil {
		t.Fatalf("ExportDecisions failed: %v", err)
	}
	if out.Path != path || out.Count != 3 || out.ExportedAt != base.Unix() {
		t.Errorf("out = %+v", out)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("export is empty")
	}
	var header ExportHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		t.Fatalf("header: %v", err)
	}
	if !header.CompassExport || header.SchemaVersion != ExportSchemaVersion {
		t.Errorf("header = %+v", header)
	}

	var ids []string
	for scanner.Scan() {
		var r db.DecisionRecord
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("record: %v", err)
		}
		ids = append(ids, r.ID)
	}
	if strings.Join(ids, ",") != "01DEC000,01DEC001,01DEC002" {
		t.Errorf("ids = %v, want oldest first", ids)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestExportDecisions_SinceDays(t *testing.T) {
	database, cfg, dir := setupTest(t)
	seedDecisions(t, database, 5)

	out, err := ExportDecisions(context.Background(), database, cfg, ExportDecisionsInput{
		Path:      filepath.Join(dir, "recent.jsonl"),
		SinceDays: 1,
		Now:       base,
	})
	if err != nil {
		t.Fatalf("ExportDecisions failed: %v", err)
	}
	if out.Count != 2 {
		t.Errorf("Count = %d, want 2", out.Count)
	}
}

func TestExportDecisions_RejectsBadPaths(t *testing.T) {
	database, cfg, dir := setupTest(t)

	tests := []struct {
		name  string
		input ExportDecisionsInput
	}{
		{"wrong extension", ExportDecisionsInput{Path: filepath.Join(dir, "audit.yaml")}},
		{"traversal", ExportDecisionsInput{Path: dir + "/../audit.jsonl"}},
		{"outside allowed dirs", ExportDecisionsInput{Path: filepath.Join(t.TempDir(), "audit.jsonl")}},
		{"negative since", ExportDecisionsInput{Path: filepath.Join(dir, "audit.jsonl"), SinceDays: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExportDecisions(context.Background(), database, cfg, tt.input)
			if !errors.Is(err, errors.ErrInvalidRequest) {
				t.Errorf("error = %v, want INVALID_REQUEST", err)
			}
		})
	}
}

func TestExportDecisions_RejectsSymlinkDestination(t *testing.T) {
	database, cfg, dir := setupTest(t)

	target := writeFile(t, dir, "target.jsonl", "keep")
	link := filepath.Join(dir, "link.jsonl")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if _, err := ExportDecisions(context.Background(), database, cfg, ExportDecisionsInput{Path: link}); err == nil {
		t.Fatal("export through a symlink succeeded")
	}
	b, _ := os.ReadFile(target)
	if string(b) != "keep" {
		t.Errorf("symlink target modified: %q", b)
	}
}

func TestDefaultExportPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	got, err := defaultExportPath("", base)
	if err != nil {
		t.Fatalf("defaultExportPath failed: %v", err)
	}
	want := filepath.Join(home, ".compass", "exports", "decisions-2026-03-02T090000.jsonl")
	if got != want {
		t.Errorf("path = %q, want %q", got, want)
	}

	got, err = defaultExportPath("../Weekly Review", base)
	if err != nil {
		t.Fatalf("defaultExportPath failed: %v", err)
	}
	if filepath.Dir(got) != filepath.Join(home, ".compass", "exports") {
		t.Errorf("sanitized path escaped exports dir: %q", got)
	}
}
