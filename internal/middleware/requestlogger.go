package middleware

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/aman-churiwal/chat-router/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const dispatchKey = "dispatch"

// Dispatch describes how a chat request was routed. Handlers attach it to the
// gin context; DispatchLogger picks it up after the handler returns.
type Dispatch struct {
	Backend    string
	Model      string
	Tier       string
	Streamed   bool
	Attempts   int
	TokensUsed int
	Err        error
}

func SetDispatch(c *gin.Context, d Dispatch) {
	c.Set(dispatchKey, d)
}

// BatchWriter persists dispatch logs in bulk.
type BatchWriter interface {
	CreateBatch(ctx context.Context, logs []models.DispatchLog) error
}

type DispatchLogger struct {
	writer        BatchWriter
	entries       chan models.DispatchLog
	batchSize     int
	flushInterval time.Duration
	done          chan struct{}

	mu     sync.RWMutex
	closed bool
}

// Starts the background worker that batch inserts queued entries
func NewDispatchLogger(writer BatchWriter, bufferSize int) *DispatchLogger {
	return newDispatchLogger(writer, bufferSize, 100, 5*time.Second)
}

func newDispatchLogger(writer BatchWriter, bufferSize, batchSize int, flushInterval time.Duration) *DispatchLogger {
	l := &DispatchLogger{
		writer:        writer,
		entries:       make(chan models.DispatchLog, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}

	go l.run()

	return l
}

func (l *DispatchLogger) run() {
	defer close(l.done)

	batch := make([]models.DispatchLog, 0, l.batchSize)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-l.entries:
			if !ok {
				l.insertBatch(batch)
				return
			}

			batch = append(batch, entry)

			// Insert when batch is full
			if len(batch) >= l.batchSize {
				l.insertBatch(batch)
				batch = make([]models.DispatchLog, 0, l.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.insertBatch(batch)
				batch = make([]models.DispatchLog, 0, l.batchSize)
			}
		}
	}
}

func (l *DispatchLogger) insertBatch(batch []models.DispatchLog) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := l.writer.CreateBatch(ctx, batch); err != nil {
		log.Printf("Failed to insert %d dispatch logs: %v", len(batch), err)
	}
}

// Queues an entry without blocking; entries are dropped when the buffer is
// full or the logger is closed
func (l *DispatchLogger) Enqueue(entry models.DispatchLog) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		log.Printf("Dispatch logger closed, skipping entry for %s", entry.RequestID)
		return
	}

	select {
	case l.entries <- entry:
	default:
		log.Printf("Dispatch log channel full, skipping entry for %s", entry.RequestID)
	}
}

// Close flushes what is queued and stops the worker. Later entries are dropped.
func (l *DispatchLogger) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.entries)
	}
	l.mu.Unlock()

	<-l.done
}

// Records every request that carries a Dispatch
func (l *DispatchLogger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		value, exists := c.Get(dispatchKey)
		if !exists {
			return
		}
		d, ok := value.(Dispatch)
		if !ok {
			return
		}

		requestID, err := uuid.Parse(c.GetString("request_id"))
		if err != nil {
			requestID = uuid.New()
		}

		entry := models.DispatchLog{
			RequestID:  requestID,
			Timestamp:  start,
			Backend:    d.Backend,
			Model:      d.Model,
			Tier:       d.Tier,
			Streamed:   d.Streamed,
			Success:    d.Err == nil,
			Attempts:   d.Attempts,
			TokensUsed: d.TokensUsed,
			LatencyMs:  int(time.Since(start).Milliseconds()),
		}
		if d.Err != nil {
			entry.Error = d.Err.Error()
		}

		l.Enqueue(entry)
	}
}
