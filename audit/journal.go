package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/emberworks/questengine/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type traceKey struct{}

// WithTrace attaches a trace id to the context for journal correlation.
func WithTrace(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// Trace returns the trace id from the context, or "".
func Trace(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// Entry is one state transition to be journaled.
type Entry struct {
	TraceID     string
	InstanceID  string
	CharacterID int64
	Source      string // quest | challenge
	FromStatus  string
	ToStatus    string
	Reason      string
	Detail      any
}

// Journal records instance transitions asynchronously in batches. Recording
// never blocks a transition: when the buffer is full the entry is dropped
// with a warning.
type Journal struct {
	db     *gorm.DB
	ch     chan *model.TransitionLog
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewJournal creates a Journal and starts its background writer.
func NewJournal(db *gorm.DB, logger *zap.Logger) *Journal {
	j := &Journal{
		db:     db,
		ch:     make(chan *model.TransitionLog, 1024),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	j.wg.Add(1)
	go j.worker()
	return j
}

// Record enqueues a transition entry for async DB write.
func (j *Journal) Record(entry Entry) {
	var detail datatypes.JSON
	if entry.Detail != nil {
		raw, _ := json.Marshal(entry.Detail)
		detail = datatypes.JSON(raw)
	}
	record := &model.TransitionLog{
		TraceID:     entry.TraceID,
		InstanceID:  entry.InstanceID,
		CharacterID: entry.CharacterID,
		Source:      entry.Source,
		FromStatus:  entry.FromStatus,
		ToStatus:    entry.ToStatus,
		Reason:      entry.Reason,
		Detail:      detail,
	}
	select {
	case j.ch <- record:
	default:
		j.logger.Warn("transition journal full, dropping entry",
			zap.String("instance_id", entry.InstanceID),
			zap.String("reason", entry.Reason))
	}
}

// Stop flushes remaining entries and shuts down the writer. It blocks until
// the worker goroutine has finished.
func (j *Journal) Stop() {
	select {
	case <-j.stopCh:
	default:
		close(j.stopCh)
	}
	j.wg.Wait()
}

func (j *Journal) worker() {
	defer j.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	batch := make([]*model.TransitionLog, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.db.Create(&batch).Error; err != nil {
			j.logger.Error("journal batch write failed", zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case record := <-j.ch:
			batch = append(batch, record)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-j.stopCh:
			for {
				select {
				case record := <-j.ch:
					batch = append(batch, record)
				default:
					flush()
					return
				}
			}
		}
	}
}
