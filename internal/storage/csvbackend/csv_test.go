package csvbackend

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/FranksOps/trawl/internal/storage"
)

func TestCSVSink(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "tweets.csv")

	s, err := New(filePath)
	if err != nil {
		t.Fatalf("Failed to create CSV sink: %v", err)
	}

	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	parent := "99"

	records := []*storage.Record{
		{RunID: "r1", SourceID: "2", TriggerTime: ts, ExecutionTime: ts, PublishedTime: ts, ItemID: "1", Keywords: "#test", Text: "line, with comma", Language: "en"},
		{RunID: "r1", SourceID: "2", TriggerTime: ts, ExecutionTime: ts, PublishedTime: ts, ItemID: "2", ParentItemID: &parent, Keywords: "#test", Text: "quote \"me\"", ShareCount: 3, FavoriteCount: 7, MediaLinks: "u1 u2", Language: "en"},
	}

	if err := s.AppendRecords(ctx, records); err != nil {
		t.Fatalf("Failed to append records: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Failed to close sink: %v", err)
	}

	// Reopening must not write a second header
	s2, err := New(filePath)
	if err != nil {
		t.Fatalf("Failed to reopen CSV sink: %v", err)
	}
	if err := s2.AppendRecords(ctx, records[:1]); err != nil {
		t.Fatalf("Failed to append records: %v", err)
	}
	s2.Close()

	f, err := os.Open(filePath)
	if err != nil {
		t.Fatalf("Failed to open file: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("Failed to read CSV: %v", err)
	}

	if len(rows) != 4 {
		t.Fatalf("Expected header + 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "run_id" {
		t.Errorf("Expected header row, got %v", rows[0])
	}
	if rows[1][8] != "line, with comma" {
		t.Errorf("Expected text roundtrip, got %q", rows[1][8])
	}
	if rows[1][6] != "" {
		t.Errorf("Expected empty reply id, got %q", rows[1][6])
	}
	if rows[2][6] != "99" {
		t.Errorf("Expected reply id 99, got %q", rows[2][6])
	}
	if rows[2][11] != "u1 u2" {
		t.Errorf("Expected media links, got %q", rows[2][11])
	}
	if rows[2][4] != "2024-03-01 12:30:00" {
		t.Errorf("Expected naive timestamp, got %q", rows[2][4])
	}
	if rows[2][9] != "3" || rows[2][10] != "7" {
		t.Errorf("Expected counts 3/7, got %s/%s", rows[2][9], rows[2][10])
	}
}
