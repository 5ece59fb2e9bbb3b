package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coop-portal-api/internal/service"
	"github.com/noah-isme/coop-portal-api/pkg/response"
)

// MatchingHandler exposes the matching engine endpoints.
type MatchingHandler struct {
	matching *service.MatchingService
}

// NewMatchingHandler constructs MatchingHandler.
func NewMatchingHandler(matching *service.MatchingService) *MatchingHandler {
	return &MatchingHandler{matching: matching}
}

// Resolve godoc
// @Summary Resolve a cycle's offers and alternates into final placements
// @Tags Matching
// @Produce json
// @Param id path string true "Cycle ID"
// @Success 200 {object} response.Envelope
// @Router /cycles/{id}/matching [post]
func (h *MatchingHandler) Resolve(c *gin.Context) {
	summary, err := h.matching.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Results godoc
// @Summary Get a cycle's placement results
// @Tags Matching
// @Produce json
// @Param id path string true "Cycle ID"
// @Success 200 {object} response.Envelope
// @Router /cycles/{id}/results [get]
func (h *MatchingHandler) Results(c *gin.Context) {
	results, err := h.matching.Results(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, results, nil)
}
