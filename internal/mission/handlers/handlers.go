// Package handlers exposes the HTTP ingress: the message endpoint shared
// with the queue path, agent-side telemetry pushes, human-input responses,
// and the attached-file routes.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stage7/missionctl/internal/auth"
	"github.com/stage7/missionctl/internal/common/errs"
	"github.com/stage7/missionctl/internal/common/logger"
	"github.com/stage7/missionctl/internal/common/metrics"
	"github.com/stage7/missionctl/internal/events/bus"
	"github.com/stage7/missionctl/internal/mission/dispatch"
	"github.com/stage7/missionctl/internal/mission/service"
	"github.com/stage7/missionctl/internal/telemetry"
	"github.com/stage7/missionctl/internal/userinput"
	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

// Handlers bundles the HTTP ingress endpoints.
type Handlers struct {
	dispatcher *dispatch.Dispatcher
	service    *service.Service
	inputs     *userinput.Router
	telemetry  *telemetry.Aggregator
	bus        bus.MessageBus
	logger     *logger.Logger
}

// New creates the handler set.
func New(d *dispatch.Dispatcher, svc *service.Service, inputs *userinput.Router, agg *telemetry.Aggregator, b bus.MessageBus, log *logger.Logger) *Handlers {
	return &Handlers{
		dispatcher: d,
		service:    svc,
		inputs:     inputs,
		telemetry:  agg,
		bus:        b,
		logger:     log,
	}
}

// Register mounts the authenticated ingress routes on group.
func (h *Handlers) Register(group *gin.RouterGroup) {
	group.POST("/message", h.postMessage)
	group.POST("/agentStatisticsUpdate", h.postAgentStatisticsUpdate)
	group.POST("/userInputResponse", h.postUserInputResponse)
	group.POST("/missions/:missionId/files/add", h.postFileAdd)
	group.POST("/missions/:missionId/files/remove", h.postFileRemove)
	group.DELETE("/missions/:missionId/files/:fileId", h.deleteFile)
}

// RegisterPublic mounts the unauthenticated operational routes.
func (h *Handlers) RegisterPublic(router gin.IRouter) {
	router.GET("/healthz", h.getHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// postMessage is the HTTP half of the common ingress. The caller identity
// comes from the verified token; the envelope userId is only a fallback
// for service callers whose token carries no user.
func (h *Handlers) postMessage(c *gin.Context) {
	var msg v1.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "malformed message envelope"})
		return
	}

	userID := msg.UserID
	if claims := auth.ClaimsFrom(c); claims != nil && claims.UserID != "" {
		userID = claims.UserID
	}
	if userID == "" {
		userID = "system"
	}

	result, err := h.dispatcher.Dispatch(c.Request.Context(), &msg, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := gin.H{"message": "ok"}
	if result != nil {
		response["result"] = result
	}
	c.JSON(http.StatusOK, response)
}

// postAgentStatisticsUpdate acknowledges immediately and pushes fresh
// telemetry to subscribers in the background.
func (h *Handlers) postAgentStatisticsUpdate(c *gin.Context) {
	var update v1.AgentStatisticsUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "malformed statistics update"})
		return
	}
	if _, err := uuid.Parse(update.MissionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "missionId is not a well-formed identifier"})
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	go h.telemetry.HandleAgentUpdate(ctx, update)

	c.JSON(http.StatusOK, gin.H{"message": "acknowledged"})
}

func (h *Handlers) postUserInputResponse(c *gin.Context) {
	var body struct {
		RequestID string          `json:"requestId"`
		Response  json.RawMessage `json:"response"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.RequestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "requestId is required"})
		return
	}

	if err := h.inputs.Respond(c.Request.Context(), body.RequestID, body.Response); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

func (h *Handlers) postFileAdd(c *gin.Context) {
	var ref v1.FileRef
	if err := c.ShouldBindJSON(&ref); err != nil || ref.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "file reference requires an id"})
		return
	}

	m, err := h.service.AddAttachedFile(c.Request.Context(), c.Param("missionId"), ref)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok", "attachedFiles": m.AttachedFiles})
}

func (h *Handlers) postFileRemove(c *gin.Context) {
	var body struct {
		FileID string `json:"fileId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.FileID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation", "message": "fileId is required"})
		return
	}
	h.removeFile(c, body.FileID)
}

func (h *Handlers) deleteFile(c *gin.Context) {
	h.removeFile(c, c.Param("fileId"))
}

func (h *Handlers) removeFile(c *gin.Context, fileID string) {
	m, err := h.service.RemoveAttachedFile(c.Request.Context(), c.Param("missionId"), fileID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok", "attachedFiles": m.AttachedFiles})
}

func (h *Handlers) getHealth(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if h.bus != nil {
		status["bus_connected"] = h.bus.IsConnected()
	}
	c.JSON(http.StatusOK, status)
}

// respondError maps the error taxonomy to a status code and a short
// caller-visible message.
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("handler failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": http.StatusText(status), "message": err.Error()})
}
