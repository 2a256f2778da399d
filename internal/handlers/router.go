package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the control API. metrics may be nil.
func NewRouter(h *DutyHandler, metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	api := r.Group("/api")
	api.POST("/login", h.Login)
	api.POST("/logout", h.Logout)
	api.GET("/me", h.Me)

	api.GET("/beat", h.GetBeat)
	api.POST("/beat/:id/accept", h.AcceptBeat)

	api.GET("/duty", h.GetDuty)
	api.POST("/duty/start", h.StartDuty)
	api.POST("/duty/break", h.TakeBreak)
	api.POST("/duty/resume", h.ResumeDuty)
	api.POST("/duty/end", h.EndDuty)

	api.GET("/location", h.GetLocation)
	api.POST("/location/refresh", h.RefreshLocation)
	api.POST("/device/fix", h.PushFix)

	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logrus.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	}
}
