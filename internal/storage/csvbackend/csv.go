package csvbackend

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/FranksOps/trawl/internal/storage"
)

// ensure csvSink implements storage.RecordSink
var _ storage.RecordSink = (*csvSink)(nil)

type csvSink struct {
	mu   sync.Mutex
	file *os.File
}

// Headers defines the CSV column order, matching the tweets table.
var Headers = []string{
	"run_id",
	"source_id",
	"trigger_date_time",
	"execution_date_time",
	"published_time",
	"tweet_id",
	"tweet_reply_id",
	"keywords",
	"tweet",
	"nb_of_retweets",
	"nb_of_likes",
	"media_links",
	"language",
}

// TimeLayout is the timezone-naive timestamp format written to the file.
const TimeLayout = "2006-01-02 15:04:05"

// New creates a CSV record sink appending to filePath.
func New(filePath string) (storage.RecordSink, error) {
	// Open file for appending, create if it doesn't exist
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrPersistence, err)
	}

	// Check if file is empty to write headers
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", storage.ErrPersistence, err)
	}

	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(Headers); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %w", storage.ErrPersistence, err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %w", storage.ErrPersistence, err)
		}
	}

	return &csvSink{file: f}, nil
}

// AppendRecords encodes the whole batch in memory first and issues a single write,
// so an encoding problem never leaves half a batch in the file.
func (s *csvSink) AppendRecords(ctx context.Context, records []*storage.Record) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, r := range records {
		if err := w.Write(row(r)); err != nil {
			return fmt.Errorf("%w: encode record %s: %w", storage.ErrPersistence, r.ItemID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrPersistence, err)
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

func row(r *storage.Record) []string {
	parent := ""
	if r.ParentItemID != nil {
		parent = *r.ParentItemID
	}
	return []string{
		r.RunID,
		r.SourceID,
		formatTime(r.TriggerTime),
		formatTime(r.ExecutionTime),
		formatTime(r.PublishedTime),
		r.ItemID,
		parent,
		r.Keywords,
		r.Text,
		strconv.Itoa(r.ShareCount),
		strconv.Itoa(r.FavoriteCount),
		r.MediaLinks,
		r.Language,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func (s *csvSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
