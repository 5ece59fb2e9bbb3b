package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coop-portal-api/internal/service"
	"github.com/noah-isme/coop-portal-api/pkg/response"
)

// JobHandler exposes the capacity-rule preview endpoints employers consult
// before extending an offer or ranking an alternate.
type JobHandler struct {
	machine *service.StatusService
}

// NewJobHandler constructs JobHandler.
func NewJobHandler(machine *service.StatusService) *JobHandler {
	return &JobHandler{machine: machine}
}

// Status godoc
// @Summary Get a job listing's fill status
// @Tags Jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /jobs/{id}/status [get]
func (h *JobHandler) Status(c *gin.Context) {
	status, err := h.machine.JobStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// OfferDecision godoc
// @Summary Check whether another offer may be extended on a job
// @Tags Jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /jobs/{id}/offer-decision [get]
func (h *JobHandler) OfferDecision(c *gin.Context) {
	decision, err := h.machine.OfferDecision(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}

// RankDecision godoc
// @Summary Check whether an alternate may be ranked on a job
// @Tags Jobs
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /jobs/{id}/rank-decision [get]
func (h *JobHandler) RankDecision(c *gin.Context) {
	decision, err := h.machine.RankDecision(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}
