package jsonbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/FranksOps/trawl/internal/storage"
)

func TestJSONSink(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "tweets.jsonl")

	s, err := New(filePath)
	if err != nil {
		t.Fatalf("Failed to create JSON sink: %v", err)
	}

	ctx := context.Background()
	now := time.Now().Truncate(time.Second).UTC()
	parent := "5"

	records := []*storage.Record{
		{RunID: "r1", SourceID: "2", PublishedTime: now, ItemID: "1", Text: "<b>raw</b>", Language: "en"},
		{RunID: "r1", SourceID: "2", PublishedTime: now, ItemID: "2", ParentItemID: &parent, MediaLinks: "u1", Language: "en"},
	}
	if err := s.AppendRecords(ctx, records); err != nil {
		t.Fatalf("Failed to append records: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Failed to close sink: %v", err)
	}

	f, err := os.Open(filePath)
	if err != nil {
		t.Fatalf("Failed to open file: %v", err)
	}
	defer f.Close()

	var got []storage.Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r storage.Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("Failed to decode line: %v", err)
		}
		got = append(got, r)
	}

	if len(got) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(got))
	}
	if got[0].Text != "<b>raw</b>" {
		t.Errorf("Expected unescaped text, got %q", got[0].Text)
	}
	if got[0].ParentItemID != nil {
		t.Errorf("Expected null reply id")
	}
	if got[1].ParentItemID == nil || *got[1].ParentItemID != "5" {
		t.Errorf("Expected reply id 5, got %v", got[1].ParentItemID)
	}
	if !got[1].PublishedTime.Equal(now) {
		t.Errorf("Expected published time %v, got %v", now, got[1].PublishedTime)
	}
}

func TestJSONSink_CanceledContext(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "tweets.jsonl"))
	if err != nil {
		t.Fatalf("Failed to create JSON sink: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.AppendRecords(ctx, []*storage.Record{{ItemID: "1"}}); err == nil {
		t.Fatal("Expected error for canceled context")
	}
}
