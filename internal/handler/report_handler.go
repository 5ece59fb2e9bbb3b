package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coop-portal-api/internal/models"
	"github.com/noah-isme/coop-portal-api/internal/service"
	appErrors "github.com/noah-isme/coop-portal-api/pkg/errors"
	"github.com/noah-isme/coop-portal-api/pkg/response"
)

// ReportHandler exposes placement report export endpoints.
type ReportHandler struct {
	exports *service.ExportService
}

// NewReportHandler constructs ReportHandler.
func NewReportHandler(exports *service.ExportService) *ReportHandler {
	return &ReportHandler{exports: exports}
}

type requestReportPayload struct {
	CycleID string `json:"cycle_id" binding:"required"`
	Format  string `json:"format" binding:"required"`
}

// Request godoc
// @Summary Queue generation of a placement report
// @Tags Reports
// @Accept json
// @Produce json
// @Param payload body requestReportPayload true "Report payload"
// @Success 202 {object} response.Envelope
// @Router /reports [post]
func (h *ReportHandler) Request(c *gin.Context) {
	var payload requestReportPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	actor := actorFromContext(c)
	report, err := h.exports.Request(c.Request.Context(), payload.CycleID, actor.UserID, models.ReportFormat(payload.Format))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, report, nil)
}

// Get godoc
// @Summary Get a report record with a download URL once completed
// @Tags Reports
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Envelope
// @Router /reports/{id} [get]
func (h *ReportHandler) Get(c *gin.Context) {
	report, token, err := h.exports.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	var meta map[string]interface{}
	if token != "" {
		meta = map[string]interface{}{"download_token": token}
	}
	response.JSON(c, http.StatusOK, report, nil, meta)
}

// Download godoc
// @Summary Download a completed report via a signed token
// @Tags Reports
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} file
// @Router /reports/download [get]
func (h *ReportHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token required"))
		return
	}
	path, report, err := h.exports.OpenDownload(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := "placements.csv"
	if report.Format == models.ReportFormatPDF {
		filename = "placements.pdf"
	}
	c.FileAttachment(path, filename)
}
