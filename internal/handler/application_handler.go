package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coop-portal-api/internal/models"
	"github.com/noah-isme/coop-portal-api/internal/service"
	appErrors "github.com/noah-isme/coop-portal-api/pkg/errors"
	"github.com/noah-isme/coop-portal-api/pkg/response"
)

// ApplicationHandler exposes application endpoints.
type ApplicationHandler struct {
	applications *service.ApplicationService
	machine      *service.StatusService
}

// NewApplicationHandler constructs ApplicationHandler.
func NewApplicationHandler(applications *service.ApplicationService, machine *service.StatusService) *ApplicationHandler {
	return &ApplicationHandler{applications: applications, machine: machine}
}

// List godoc
// @Summary List applications
// @Tags Applications
// @Produce json
// @Param cycleId query string false "Filter by cycle"
// @Param jobId query string false "Filter by job listing"
// @Param studentId query string false "Filter by student"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /applications [get]
func (h *ApplicationHandler) List(c *gin.Context) {
	var filter models.ApplicationFilter
	filter.CycleID = c.Query("cycleId")
	filter.JobID = c.Query("jobId")
	filter.StudentID = c.Query("studentId")
	filter.Status = models.ApplicationStatus(c.Query("status"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	applications, pagination, err := h.applications.List(c.Request.Context(), actorFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, applications, pagination)
}

// Get godoc
// @Summary Get application detail
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	application, err := h.applications.Get(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, application, nil)
}

// History godoc
// @Summary List an application's status history
// @Tags Applications
// @Produce json
// @Param id path string true "Application ID"
// @Param limit query int false "Max entries"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/history [get]
func (h *ApplicationHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := h.applications.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}

// Transition godoc
// @Summary Apply a status transition to an application
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body service.TransitionRequest true "Transition payload"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/transitions [post]
func (h *ApplicationHandler) Transition(c *gin.Context) {
	var req service.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	application, err := h.machine.Transition(c.Request.Context(), actorFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, application, nil)
}
