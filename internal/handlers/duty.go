// Package handlers provides HTTP handlers for API endpoints
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"patrol-beat-tracker/internal/models"
	"patrol-beat-tracker/internal/positioning"
	"patrol-beat-tracker/internal/services"
)

// FixSink accepts fixes posted by a device bridge
type FixSink interface {
	Push(p models.Position)
}

// DutyHandler exposes the session, assignment and duty operations
type DutyHandler struct {
	duty  services.DutyController
	beats services.BeatTracker
	fixes FixSink
}

// NewDutyHandler creates a new duty handler
func NewDutyHandler(duty services.DutyController, beats services.BeatTracker) *DutyHandler {
	return &DutyHandler{duty: duty, beats: beats}
}

// WithFixSink enables POST /api/device/fix
func (h *DutyHandler) WithFixSink(sink FixSink) *DutyHandler {
	h.fixes = sink
	return h
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login authenticates the principal
func (h *DutyHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	principal, err := h.duty.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"principal": principal})
}

// Logout ends duty if needed and signs out
func (h *DutyHandler) Logout(c *gin.Context) {
	err := h.duty.Logout(c.Request.Context())
	if err != nil && !errors.Is(err, services.ErrTeardownFailure) {
		writeError(c, err)
		return
	}
	body := gin.H{"status": "signed_out"}
	if err != nil {
		body["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

// Me returns the signed-in principal
func (h *DutyHandler) Me(c *gin.Context) {
	principal := h.duty.CurrentPrincipal()
	if principal == nil {
		writeError(c, services.ErrUnauthenticated)
		return
	}
	c.JSON(http.StatusOK, gin.H{"principal": principal})
}

// GetBeat returns the assignment; none assigned is not an error
func (h *DutyHandler) GetBeat(c *gin.Context) {
	ba, err := h.beats.GetAssignedBeat(c.Request.Context())
	if errors.Is(err, services.ErrNoAssignment) {
		c.JSON(http.StatusOK, gin.H{"assignment": nil})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignment": ba})
}

// AcceptBeat accepts the assignment named in the path
func (h *DutyHandler) AcceptBeat(c *gin.Context) {
	id := c.Param("id")
	if err := h.beats.AcceptBeat(c.Request.Context(), id); err != nil {
		if errors.Is(err, services.ErrNoAssignment) {
			c.JSON(http.StatusNotFound, gin.H{"error": services.ErrNoAssignment.Error(), "detail": err.Error()})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.AssignmentAccepted, "assignment_id": id})
}

// StartDuty goes on duty
func (h *DutyHandler) StartDuty(c *gin.Context) {
	h.transition(c, h.duty.StartDuty(c.Request.Context()))
}

// TakeBreak goes on break
func (h *DutyHandler) TakeBreak(c *gin.Context) {
	h.transition(c, h.duty.TakeBreak(c.Request.Context()))
}

// ResumeDuty returns from break
func (h *DutyHandler) ResumeDuty(c *gin.Context) {
	h.transition(c, h.duty.ResumeDuty(c.Request.Context()))
}

// EndDuty goes off duty
func (h *DutyHandler) EndDuty(c *gin.Context) {
	h.transition(c, h.duty.EndDuty(c.Request.Context()))
}

func (h *DutyHandler) transition(c *gin.Context, err error) {
	if err != nil && !errors.Is(err, services.ErrTeardownFailure) {
		writeError(c, err)
		return
	}
	body := gin.H{"duty": h.duty.Status()}
	if err != nil {
		body["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

// GetDuty returns the engine status
func (h *DutyHandler) GetDuty(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"duty": h.duty.Status()})
}

// GetLocation reads back the remote location record
func (h *DutyHandler) GetLocation(c *gin.Context) {
	rec, err := h.duty.VerifyLocation(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

// RefreshLocation takes a one-shot fix
func (h *DutyHandler) RefreshLocation(c *gin.Context) {
	p, err := h.duty.CurrentPosition(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": p})
}

// PushFix accepts a fix from a device bridge when no broker is configured
func (h *DutyHandler) PushFix(c *gin.Context) {
	if h.fixes == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "device fixes are read from the broker"})
		return
	}
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	p, err := positioning.DecodeFix(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.fixes.Push(p)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrAuthentication), errors.Is(err, services.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrProfileNotFound), errors.Is(err, services.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, services.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, services.ErrNoAssignment):
		return http.StatusNotFound
	case errors.Is(err, services.ErrEngineClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// userMessage picks the sentinel text so clients can tell network trouble from bad credentials
func userMessage(err error) string {
	for _, sentinel := range []error{
		services.ErrConfiguration,
		services.ErrNetwork,
		services.ErrAuthentication,
		services.ErrProfileNotFound,
		services.ErrUnauthenticated,
		services.ErrPermissionDenied,
		services.ErrInvalidTransition,
		services.ErrNoAssignment,
		services.ErrEngineClosed,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal error"
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("❌ Request failed")
	}
	c.JSON(status, gin.H{"error": userMessage(err), "detail": err.Error()})
}
