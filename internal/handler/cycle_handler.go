package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coop-portal-api/internal/service"
	appErrors "github.com/noah-isme/coop-portal-api/pkg/errors"
	"github.com/noah-isme/coop-portal-api/pkg/response"
)

// CycleHandler exposes cycle calendar endpoints.
type CycleHandler struct {
	cycles  *service.CycleService
	stages  *service.StageService
	metrics *service.MetricsService
}

// NewCycleHandler constructs CycleHandler.
func NewCycleHandler(cycles *service.CycleService, stages *service.StageService, metrics *service.MetricsService) *CycleHandler {
	return &CycleHandler{cycles: cycles, stages: stages, metrics: metrics}
}

// List godoc
// @Summary List active co-op cycles
// @Tags Cycles
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /cycles [get]
func (h *CycleHandler) List(c *gin.Context) {
	cycles, err := h.cycles.ListActive(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cycles, nil)
}

// Get godoc
// @Summary Get one co-op cycle
// @Tags Cycles
// @Produce json
// @Param id path string true "Cycle ID"
// @Success 200 {object} response.Envelope
// @Router /cycles/{id} [get]
func (h *CycleHandler) Get(c *gin.Context) {
	cycle, err := h.cycles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, cycle, nil)
}

// Rounds godoc
// @Summary List a cycle's hiring rounds
// @Tags Cycles
// @Produce json
// @Param id path string true "Cycle ID"
// @Success 200 {object} response.Envelope
// @Router /cycles/{id}/rounds [get]
func (h *CycleHandler) Rounds(c *gin.Context) {
	rounds, err := h.cycles.Rounds(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rounds, nil)
}

// Stage godoc
// @Summary Resolve the active stage of a cycle
// @Tags Cycles
// @Produce json
// @Param id path string true "Cycle ID"
// @Param asOf query string false "Resolve at this RFC3339 instant instead of now"
// @Success 200 {object} response.Envelope
// @Router /cycles/{id}/stage [get]
func (h *CycleHandler) Stage(c *gin.Context) {
	asOf := time.Now()
	if raw := c.Query("asOf"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "asOf must be RFC3339"))
			return
		}
		asOf = parsed
	}

	resolution, err := h.stages.Resolve(c.Request.Context(), c.Param("id"), asOf)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordStageResolution(resolution.StageName)
	response.JSON(c, http.StatusOK, resolution, nil)
}
