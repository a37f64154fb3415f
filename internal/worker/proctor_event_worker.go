package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/config"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/model"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/proctor"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/repository"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// ProctorEventWorker drains the event queue into the append-only
// proctor_events log. Persistence is fully decoupled from scoring: the
// engines have already counted these events in memory.
type ProctorEventWorker struct {
	events *repository.ProctorEventRepository
	rdb    *redis.Client
	log    zerolog.Logger
}

func NewProctorEventWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ProctorEventWorker {
	return &ProctorEventWorker{
		events: repository.NewProctorEventRepository(pool),
		rdb:    rdb,
		log:    log.With().Str("component", "proctor_event_worker").Logger(),
	}
}

type eventPayload struct {
	AttemptID string          `json:"attempt_id"`
	EventType string          `json:"event_type"`
	Rule      string          `json:"rule"`
	Metadata  json.RawMessage `json:"metadata"`
	Timestamp int64           `json:"timestamp"`
}

func (w *ProctorEventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ProctorEventWorker started")

	buffer := make([]*eventPayload, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Check Flush Conditions (Time or Size)
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0] // Clear buffer, keep capacity
				lastFlushTime = time.Now()
			}
		}

		// 2. Check Context (Graceful Shutdown)
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
			// Continue
		}

		// 3. Fetch from Redis
		// BLPop blocks for 1 second. Returns immediately if data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistEventsQueue).Result()

		if err != nil {
			if err == redis.Nil {
				continue // Timeout (Queue empty), loop back to check flush timer
			}
			if ctx.Err() != nil {
				return // Context cancelled
			}
			// Real Redis error (e.g., connection lost)
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		// 4. Process Data
		if len(result) < 2 {
			continue
		}

		var payload eventPayload
		if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
			// If JSON is malformed, we CANNOT retry it. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}

		buffer = append(buffer, &payload)
	}
}

type decodedEvent struct {
	row *model.ProctorEvent
	raw *eventPayload
}

// flushSafe attempts bulk insert, then fallback insert, then requeue
func (w *ProctorEventWorker) flushSafe(ctx context.Context, batch []*eventPayload) {
	decoded := make([]decodedEvent, 0, len(batch))
	for _, p := range batch {
		attemptID, err := uuid.Parse(p.AttemptID)
		if err != nil {
			// Cannot retry a bad UUID. Log and discard.
			w.log.Error().Str("attempt_id", p.AttemptID).Msg("Dropping event with invalid attempt UUID")
			continue
		}
		decoded = append(decoded, decodedEvent{
			row: &model.ProctorEvent{
				AttemptID: attemptID,
				EventType: p.EventType,
				Rule:      proctor.RuleID(p.Rule),
				Metadata:  p.Metadata,
				CreatedAt: time.Unix(p.Timestamp, 0),
			},
			raw: p,
		})
	}
	if len(decoded) == 0 {
		return
	}

	rows := make([]*model.ProctorEvent, len(decoded))
	for i, d := range decoded {
		rows[i] = d.row
	}

	// Try Fast Path: Bulk Insert
	if err := w.events.BulkInsert(ctx, rows); err != nil {
		w.log.Warn().Err(err).Int("count", len(rows)).Msg("Bulk insert failed, attempting row-by-row recovery")

		// Fallback Path: Insert one by one
		w.fallbackInsert(ctx, decoded)
	}
}

func (w *ProctorEventWorker) fallbackInsert(ctx context.Context, decoded []decodedEvent) {
	requeueList := make([]*eventPayload, 0)

	for _, d := range decoded {
		if err := w.events.Insert(ctx, d.row); err != nil {
			// Likely a connection error; keep the raw payload so nothing is
			// lost if the DB is down.
			w.log.Error().Err(err).Str("attempt_id", d.row.AttemptID.String()).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, d.raw)
		}
	}

	// If we have items to requeue (DB was down), push them back to Redis
	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *ProctorEventWorker) requeue(ctx context.Context, items []*eventPayload) {
	// Use a pipeline to push everything back quickly
	pipe := w.rdb.Pipeline()
	for _, p := range items {
		data, _ := json.Marshal(p)
		pipe.RPush(ctx, config.WorkerKey.PersistEventsQueue, data)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
	} else {
		w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
		// Sleep a bit to avoid thrashing if the DB is down hard
		time.Sleep(2 * time.Second)
	}
}

func (w *ProctorEventWorker) shutdown(buffer []*eventPayload) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	// Give it 5 seconds to flush to DB
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
