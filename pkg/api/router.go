// Package api exposes the engine façade over HTTP: the four external
// commands plus read-only status endpoints. The admin CRUD surface lives
// elsewhere; this router stays thin and maps engine error kinds onto
// status codes.
package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rdesksystems/dialer-engine/pkg/database"
	"github.com/rdesksystems/dialer-engine/pkg/engine"
	"github.com/rdesksystems/dialer-engine/pkg/models"
	"github.com/rdesksystems/dialer-engine/pkg/repository"
)

// healthCheckTimeout bounds the database ping inside the health handler.
const healthCheckTimeout = 5 * time.Second

// DialerEngine is the engine subset the router depends on.
type DialerEngine interface {
	StartCampaign(ctx context.Context, campaignID int) error
	StopCampaign(campaignID int) error
	ManualCall(ctx context.Context, campaignID, leadID, agentID int) (int, error)
	UpdateAgentStatus(agentID int, status models.AgentStatus) error
	AgentStatus(agentID int) (models.AgentState, bool)
	Stats(ctx context.Context, campaignID int) (*models.DialerStats, error)
	Running(campaignID int) bool
	Health() engine.HealthStatus
}

// NewRouter builds the gin router over the engine façade. db backs the
// health endpoint's connectivity check; nil skips the database section.
func NewRouter(e DialerEngine, db *sql.DB) *gin.Engine {
	router := gin.Default()
	h := &handlers{engine: e, db: db}

	router.GET("/health", h.health)

	campaigns := router.Group("/dialer/campaigns")
	campaigns.POST("/:id/start", h.startCampaign)
	campaigns.POST("/:id/stop", h.stopCampaign)
	campaigns.GET("/:id/stats", h.campaignStats)
	campaigns.GET("/:id/running", h.campaignRunning)

	router.POST("/dialer/manual-call", h.manualCall)
	router.PUT("/dialer/agents/:id/status", h.updateAgentStatus)
	router.GET("/dialer/agents/:id", h.agentStatus)

	return router
}

type handlers struct {
	engine DialerEngine
	db     *sql.DB
}

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newErrorBody(code, message string) errorBody {
	var b errorBody
	b.Error.Code = code
	b.Error.Message = message
	return b
}

// writeError maps an engine error onto its HTTP status and wire code.
func writeError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, newErrorBody("NOT_FOUND", err.Error()))
		return
	}

	kind := engine.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case engine.KindCampaignNotActive, engine.KindNoAgentsAssigned, engine.KindNoLeadsAvailable,
		engine.KindAgentNotAvailable, engine.KindInvalidDialerMode, engine.KindDialerNotRunning,
		engine.KindAgentBusy, engine.KindInvalidStatus:
		status = http.StatusBadRequest
	case engine.KindLeadNotInCampaign:
		status = http.StatusNotFound
	case engine.KindAMIUnreachable, engine.KindAMIAuthFailed, engine.KindConnectionLost:
		status = http.StatusBadGateway
	case engine.KindAMIActionTimeout:
		status = http.StatusGatewayTimeout
	case "":
		c.JSON(status, newErrorBody("INTERNAL_ERROR", err.Error()))
		return
	}
	c.JSON(status, newErrorBody(string(kind), err.Error()))
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, newErrorBody("INVALID_PARAMETER", name+" must be a positive integer"))
		return 0, false
	}
	return v, true
}

func (h *handlers) health(c *gin.Context) {
	health := h.engine.Health()

	body := gin.H{
		"status":            health.Status,
		"ami_state":         health.AMIState,
		"running_campaigns": health.RunningCampaigns,
	}

	if h.db != nil {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		dbHealth, err := database.Health(reqCtx, h.db)
		body["database"] = dbHealth
		if err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}

	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}

func (h *handlers) startCampaign(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	if err := h.engine.StartCampaign(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id, "running": true})
}

func (h *handlers) stopCampaign(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	if err := h.engine.StopCampaign(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id, "running": false})
}

func (h *handlers) campaignStats(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	stats, err := h.engine.Stats(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *handlers) campaignRunning(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaign_id": id, "running": h.engine.Running(id)})
}

type manualCallRequest struct {
	CampaignID int `json:"campaign_id" binding:"required"`
	LeadID     int `json:"lead_id" binding:"required"`
	AgentID    int `json:"agent_id" binding:"required"`
}

func (h *handlers) manualCall(c *gin.Context) {
	var req manualCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, newErrorBody("MISSING_DATA", "campaign_id, lead_id and agent_id are required"))
		return
	}
	callID, err := h.engine.ManualCall(c.Request.Context(), req.CampaignID, req.LeadID, req.AgentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": callID})
}

type agentStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *handlers) updateAgentStatus(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	var req agentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, newErrorBody("MISSING_DATA", "status is required"))
		return
	}
	if err := h.engine.UpdateAgentStatus(id, models.AgentStatus(req.Status)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": id, "status": req.Status})
}

func (h *handlers) agentStatus(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	state, ok := h.engine.AgentStatus(id)
	if !ok {
		// Never-seen agents report as offline rather than erroring; the
		// registry creates state lazily on first use.
		state = models.AgentState{AgentID: id, Status: models.AgentStatusOffline}
	}
	c.JSON(http.StatusOK, state)
}
