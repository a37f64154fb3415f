package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/config"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/model"
	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/proctor"
)

func scorerTestService() *AttemptService {
	return &AttemptService{
		cfg: &config.Config{RiskMediumThreshold: 25, RiskHighThreshold: 50},
		log: zerolog.Nop(),
	}
}

func TestBuildScorerDefaults(t *testing.T) {
	s := scorerTestService()
	scorer := s.buildScorer(&model.Assignment{})

	result := scorer.ScoreEvents([]string{
		"FULLSCREEN_EXIT", "FULLSCREEN_EXIT", "FULLSCREEN_EXIT", "TAB_SWITCH",
	})
	assert.Equal(t, 52, result.Score)
	assert.Equal(t, proctor.RiskHigh, result.Level)
}

func TestBuildScorerAssignmentOverrides(t *testing.T) {
	s := scorerTestService()
	rules, err := json.Marshal([]proctor.Rule{
		{ID: "TAB_SWITCH", Event: proctor.RuleTabSwitch, PointsPerHit: 1},
	})
	assert.NoError(t, err)

	scorer := s.buildScorer(&model.Assignment{ProctorRules: rules})

	result := scorer.ScoreEvents([]string{"TAB_SWITCH", "TAB_SWITCH"})
	assert.Equal(t, 2, result.Score)
	assert.Equal(t, proctor.RiskLow, result.Level)
}

func TestBuildScorerMalformedOverridesFallBack(t *testing.T) {
	s := scorerTestService()
	scorer := s.buildScorer(&model.Assignment{ProctorRules: json.RawMessage(`{not json`)})

	result := scorer.ScoreEvents([]string{"CLIPBOARD"})
	assert.Equal(t, 8, result.Score)
	assert.Equal(t, proctor.RiskLow, result.Level)
}

// The service is built with nil repositories here on purpose: a live handle
// must satisfy lookups and ownership checks entirely in memory, so any
// accidental PostgreSQL read panics the test.
func TestResolveOwnedUsesLiveHandleWithoutRepositories(t *testing.T) {
	attemptID := uuid.New()
	handle := &engineHandle{assignmentID: uuid.New(), studentID: 7}

	s := &AttemptService{
		log:     zerolog.Nop(),
		engines: map[uuid.UUID]*engineHandle{attemptID: handle},
	}

	_, got, err := s.resolveOwned(context.Background(), attemptID, 7)
	assert.NoError(t, err)
	assert.Same(t, handle, got)

	_, _, err = s.resolveOwned(context.Background(), attemptID, 8)
	assert.ErrorIs(t, err, ErrNotAttemptOwner)
}

func TestBuildScorerUsesConfiguredThresholds(t *testing.T) {
	s := &AttemptService{
		cfg: &config.Config{RiskMediumThreshold: 5, RiskHighThreshold: 10},
		log: zerolog.Nop(),
	}
	scorer := s.buildScorer(&model.Assignment{})

	result := scorer.ScoreEvents([]string{"CLIPBOARD"})
	assert.Equal(t, proctor.RiskMedium, result.Level)
}
