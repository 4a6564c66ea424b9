package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/internal/core/services"
	"peercall/internal/infrastructure/middleware"
	apperrors "peercall/pkg/errors"
)

// CallHandler exposes the call commands and session state over the local
// gateway. The handler is a thin shell; every decision lives in the service.
type CallHandler struct {
	callService ports.CallService
	metrics     *services.MetricsService
	selfID      domain.UserID
	groupID     domain.GroupID
}

func NewCallHandler(
	callService ports.CallService,
	metrics *services.MetricsService,
	selfID domain.UserID,
	groupID domain.GroupID,
) *CallHandler {
	return &CallHandler{
		callService: callService,
		metrics:     metrics,
		selfID:      selfID,
		groupID:     groupID,
	}
}

func (h *CallHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/calls", h.StartCall)
		api.POST("/calls/answer", h.AnswerCall)
		api.POST("/calls/reject", h.RejectIncoming)
		api.POST("/calls/end", h.EndCall)
		api.POST("/share/start", h.StartShare)
		api.POST("/share/stop", h.StopShare)
		api.GET("/state", h.GetState)
		api.GET("/metrics/summary", h.GetMetricsSnapshot)
	}

	router.GET("/health", h.Health)
}

func (h *CallHandler) StartCall(c *gin.Context) {
	var req struct {
		Type domain.CallType `json:"type"`
	}
	if err := c.BindJSON(&req); err != nil {
		writeAppError(c, apperrors.NewInvalidInputError(err.Error()))
		return
	}
	if req.Type == "" {
		req.Type = domain.CallRegular
	}
	if req.Type != domain.CallRegular && req.Type != domain.CallTheatre {
		writeAppError(c, apperrors.NewInvalidInputError("type must be regular or theatre"))
		return
	}

	caller := middleware.UserFromContext(c, h.selfID)
	if err := h.callService.StartCall(c.Request.Context(), h.groupID, caller, req.Type); err != nil {
		h.writeCallError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status": h.callService.Status().Get(),
		"call":   h.callService.ActiveCall().Get(),
	})
}

func (h *CallHandler) AnswerCall(c *gin.Context) {
	incoming := h.callService.IncomingCall().Get()
	if incoming == nil {
		writeAppError(c, apperrors.NewNotFoundError("incoming call"))
		return
	}

	if err := h.callService.AnswerCall(c.Request.Context(), incoming); err != nil {
		h.writeCallError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": h.callService.Status().Get(),
		"call":   h.callService.ActiveCall().Get(),
	})
}

func (h *CallHandler) RejectIncoming(c *gin.Context) {
	h.callService.RejectIncoming()
	c.JSON(http.StatusOK, gin.H{"status": h.callService.Status().Get()})
}

func (h *CallHandler) EndCall(c *gin.Context) {
	requester := middleware.UserFromContext(c, h.selfID)
	if err := h.callService.EndCall(c.Request.Context(), requester); err != nil {
		h.writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": h.callService.Status().Get()})
}

func (h *CallHandler) StartShare(c *gin.Context) {
	if err := h.callService.StartShare(c.Request.Context()); err != nil {
		h.writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sharing": h.callService.Sharing().Get()})
}

func (h *CallHandler) StopShare(c *gin.Context) {
	if err := h.callService.StopShare(c.Request.Context()); err != nil {
		h.writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sharing": h.callService.Sharing().Get()})
}

// GetState returns one snapshot of everything the session facade observes.
func (h *CallHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.stateSnapshot())
}

func (h *CallHandler) GetMetricsSnapshot(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics disabled"})
		return
	}
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

func (h *CallHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"state":  h.callService.Status().Get(),
	})
}

func (h *CallHandler) stateSnapshot() gin.H {
	remotePrimary := h.callService.RemotePrimary().Get()
	remoteShare := h.callService.RemoteShare().Get()
	return gin.H{
		"status":        h.callService.Status().Get(),
		"activeCall":    h.callService.ActiveCall().Get(),
		"incomingCall":  h.callService.IncomingCall().Get(),
		"sharing":       h.callService.Sharing().Get(),
		"remotePrimary": remotePrimary != nil,
		"remoteShare":   remoteShare != nil,
	}
}

func (h *CallHandler) writeCallError(c *gin.Context, err error) {
	writeAppError(c, toAppError(err))
}

// toAppError maps the domain error taxonomy onto the gateway's code table.
func toAppError(err error) *apperrors.AppError {
	var mediaErr *domain.MediaAcquisitionError
	var storeWrite *domain.StoreWriteError
	var storeRead *domain.StoreReadError
	var negErr *domain.NegotiationError

	switch {
	case errors.Is(err, domain.ErrInvalidCallState):
		return apperrors.NewCallStateError(err.Error())
	case errors.Is(err, domain.ErrCallNotFound):
		return apperrors.NewNotFoundError("call")
	case errors.As(err, &mediaErr):
		return apperrors.NewMediaUnavailableError(err)
	case errors.As(err, &storeWrite), errors.As(err, &storeRead):
		return apperrors.NewStoreFailureError(err)
	case errors.As(err, &negErr):
		return apperrors.NewNegotiationFailedError(err)
	default:
		return apperrors.NewInternalError(err.Error())
	}
}

func writeAppError(c *gin.Context, appErr *apperrors.AppError) {
	c.JSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}
