package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/config"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/proctor"
)

// Notifier delivers attempt state transitions to whoever is watching the
// assignment (teacher monitor dashboards).
type Notifier interface {
	NotifyTransition(ctx context.Context, assignmentID, attemptID uuid.UUID, studentID int, status proctor.Status, level proctor.RiskLevel, reason string)
}

// TransitionMessage is the payload published on the assignment monitor
// channel.
type TransitionMessage struct {
	AttemptID uuid.UUID         `json:"attempt_id"`
	StudentID int               `json:"student_id"`
	Status    proctor.Status    `json:"status"`
	RiskLevel proctor.RiskLevel `json:"risk_level"`
	Reason    string            `json:"reason,omitempty"`
	At        time.Time         `json:"at"`
}

// RedisNotifier publishes transitions over Redis PubSub so every server
// instance with a subscribed monitor socket sees them.
type RedisNotifier struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewRedisNotifier(rdb *redis.Client, log zerolog.Logger) *RedisNotifier {
	return &RedisNotifier{
		rdb: rdb,
		log: log.With().Str("component", "notifier").Logger(),
	}
}

// NotifyTransition is best effort: monitoring must never block or fail the
// attempt lifecycle itself.
func (n *RedisNotifier) NotifyTransition(ctx context.Context, assignmentID, attemptID uuid.UUID, studentID int, status proctor.Status, level proctor.RiskLevel, reason string) {
	msg := TransitionMessage{
		AttemptID: attemptID,
		StudentID: studentID,
		Status:    status,
		RiskLevel: level,
		Reason:    reason,
		At:        time.Now(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		n.log.Error().Err(err).Msg("Failed to marshal transition message")
		return
	}

	channel := config.CacheKey.AssignmentMonitorChannel(assignmentID.String())
	if err := n.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		n.log.Warn().
			Err(err).
			Str("attempt_id", attemptID.String()).
			Str("channel", channel).
			Msg("Transition publish failed")
	}
}

// Subscribe returns a PubSub subscription on an assignment's monitor
// channel. The caller owns closing it.
func (n *RedisNotifier) Subscribe(ctx context.Context, assignmentID uuid.UUID) *redis.PubSub {
	return n.rdb.Subscribe(ctx, config.CacheKey.AssignmentMonitorChannel(assignmentID.String()))
}
