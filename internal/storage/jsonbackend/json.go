package jsonbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/FranksOps/trawl/internal/storage"
)

// ensure jsonSink implements storage.RecordSink
var _ storage.RecordSink = (*jsonSink)(nil)

type jsonSink struct {
	mu   sync.Mutex
	file *os.File
}

// New creates an NDJSON record sink appending to filePath.
func New(filePath string) (storage.RecordSink, error) {
	// Open file for appending, create if it doesn't exist
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrPersistence, err)
	}

	return &jsonSink{file: f}, nil
}

// AppendRecords writes one JSON object per line in a single write call.
func (s *jsonSink) AppendRecords(ctx context.Context, records []*storage.Record) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("%w: encode record %s: %w", storage.ErrPersistence, r.ItemID, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrPersistence, err)
	}
	return nil
}

func (s *jsonSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
