// Package runrecord owns the lifecycle of one extraction run row: opened as WIP,
// then closed exactly once as OK or FAILED.
package runrecord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/FranksOps/trawl/internal/storage"
	"github.com/google/uuid"
)

// MaxErrorMessageLen bounds the stored error text to fit the sink column.
const MaxErrorMessageLen = 1990

// ErrAlreadyClosed is returned when a handle is closed a second time.
var ErrAlreadyClosed = errors.New("run already closed")

// IDGenerator produces run identifiers.
type IDGenerator func() string

// UUIDv7 generates time-sortable run ids.
func UUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Handle identifies an opened run.
type Handle struct {
	RunID       string
	SourceID    string
	TriggerTime time.Time
	StartTime   time.Time

	mu     sync.Mutex
	closed bool
}

// claim marks the handle closed and reports whether the caller won the close.
func (h *Handle) claim() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.closed = true
	return true
}

// Closed reports whether a close was attempted on the handle.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Recorder writes run rows through a storage.RunStore.
type Recorder struct {
	store  storage.RunStore
	newID  IDGenerator
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithIDGenerator overrides the run id generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(r *Recorder) { r.newID = gen }
}

// WithClock overrides the clock used for end times.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// New creates a Recorder.
func New(store storage.RunStore, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		newID:  UUIDv7,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open inserts a WIP row with no rows, an open end time and no error message.
// startTime is stored at second precision.
func (r *Recorder) Open(ctx context.Context, sourceID string, triggerTime, startTime time.Time) (*Handle, error) {
	h := &Handle{
		RunID:       r.newID(),
		SourceID:    sourceID,
		TriggerTime: triggerTime.UTC(),
		StartTime:   startTime.UTC().Truncate(time.Second),
	}

	run := &storage.Run{
		ID:          h.RunID,
		SourceID:    h.SourceID,
		TriggerTime: h.TriggerTime,
		StartTime:   h.StartTime,
		EndTime:     storage.OpenEndTime,
		Status:      storage.StatusWIP,
	}
	if err := r.store.InsertRun(ctx, run); err != nil {
		if !errors.Is(err, storage.ErrPersistence) {
			err = fmt.Errorf("%w: %w", storage.ErrPersistence, err)
		}
		return nil, fmt.Errorf("open run: %w", err)
	}

	r.logger.Info("run opened", "run_id", h.RunID, "source_id", sourceID, "start_time", h.StartTime)
	return h, nil
}

// CloseSuccess marks the run OK with the given row count.
func (r *Recorder) CloseSuccess(ctx context.Context, h *Handle, rowCount int) error {
	if rowCount < 0 {
		return fmt.Errorf("close run %s: negative row count %d", h.RunID, rowCount)
	}
	return r.finalize(ctx, h, storage.Finalization{
		Status:   storage.StatusOK,
		RowCount: rowCount,
	})
}

// CloseFailure marks the run FAILED with zero rows and the truncated cause.
func (r *Recorder) CloseFailure(ctx context.Context, h *Handle, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	// text columns reject invalid UTF-8 on postgres
	msg = TruncateMessage(strings.ToValidUTF8(msg, "\uFFFD"), MaxErrorMessageLen)
	return r.finalize(ctx, h, storage.Finalization{
		Status:       storage.StatusFailed,
		RowCount:     0,
		ErrorMessage: &msg,
	})
}

func (r *Recorder) finalize(ctx context.Context, h *Handle, fin storage.Finalization) error {
	if h == nil {
		return fmt.Errorf("close run: nil handle")
	}
	if !h.claim() {
		return fmt.Errorf("close run %s: %w", h.RunID, ErrAlreadyClosed)
	}

	fin.EndTime = r.now().UTC()
	if err := r.store.FinalizeRun(ctx, h.RunID, fin); err != nil {
		if !errors.Is(err, storage.ErrPersistence) {
			err = fmt.Errorf("%w: %w", storage.ErrPersistence, err)
		}
		r.logger.Error("run left in WIP", "run_id", h.RunID, "source_id", h.SourceID, "err", err)
		return fmt.Errorf("close run %s: %w", h.RunID, err)
	}

	r.logger.Info("run closed", "run_id", h.RunID, "source_id", h.SourceID, "status", fin.Status, "rows", fin.RowCount)
	return nil
}

// TruncateMessage returns s cut to at most n runes.
func TruncateMessage(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
