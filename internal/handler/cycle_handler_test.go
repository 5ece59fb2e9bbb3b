package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coop-portal-api/internal/models"
	"github.com/noah-isme/coop-portal-api/internal/service"
	"github.com/noah-isme/coop-portal-api/pkg/response"
)

type cycleRepoStub struct {
	cycle  models.CoopCycle
	rounds []models.Round
}

func (s *cycleRepoStub) FindByID(ctx context.Context, id string) (*models.CoopCycle, error) {
	if id != s.cycle.ID {
		return nil, sql.ErrNoRows
	}
	cycle := s.cycle
	return &cycle, nil
}

func (s *cycleRepoStub) ListRounds(ctx context.Context, cycleID string) ([]models.Round, error) {
	return s.rounds, nil
}

func newStageTestHandler() *CycleHandler {
	open := time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)
	due := time.Date(2026, time.September, 15, 0, 0, 0, 0, time.UTC)
	repo := &cycleRepoStub{
		cycle: models.CoopCycle{ID: "cycle-1", Name: "Fall/Winter", IsActive: true},
		rounds: []models.Round{{
			ID: "round-1", CycleID: "cycle-1", Name: "Round 1", Sequence: 1,
			JobPostingsOpen: open, InterviewRequestsDue: due,
		}},
	}
	return NewCycleHandler(nil, service.NewStageService(repo, nil), nil)
}

func TestCycleHandlerStage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newStageTestHandler()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/cycles/cycle-1/stage?asOf=2026-09-05T12:00:00Z", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "cycle-1"}}

	handler.Stage(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	payload, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var resolution models.StageResolution
	require.NoError(t, json.Unmarshal(payload, &resolution))
	assert.Equal(t, "JOB_POSTINGS_AVAILABLE", resolution.StageName)
	assert.Equal(t, 1, resolution.StageNumber)
}

func TestCycleHandlerStageInvalidAsOf(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newStageTestHandler()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/cycles/cycle-1/stage?asOf=yesterday", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "cycle-1"}}

	handler.Stage(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCycleHandlerStageUnknownCycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newStageTestHandler()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/cycles/missing/stage", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	handler.Stage(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}
