// Package httpapi exposes a fixiplug instance over HTTP so out-of-process
// agents can discover and drive it. Query and state routes are thin adapters
// over the instance's reserved api:* hooks; the plugin enable, disable and
// remove routes call the instance surface directly, and /api/dispatch invokes
// any hook. Beyond transport and error mapping, the only state the HTTP layer
// holds is the websocket hub's client set.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/codetalcott/fixiplug"
	"github.com/codetalcott/fixiplug/hooks"
	"github.com/codetalcott/fixiplug/internal/logger"
)

// Server adapts one instance to HTTP.
type Server struct {
	inst *fixiplug.Instance
	hub  *Hub
	log  zerolog.Logger
}

// NewRouter builds a gin router serving inst. The event-stream plugin is
// registered on the instance as a side effect.
func NewRouter(inst *fixiplug.Instance) *gin.Engine {
	s := &Server{
		inst: inst,
		hub:  NewHub(logger.HTTP()),
		log:  logger.HTTP(),
	}
	go s.hub.Run()
	inst.Use(StreamPlugin(s.hub))

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": fixiplug.Version})
	})

	api := router.Group("/api")
	{
		api.GET("/introspect", s.query("api:introspect"))
		api.GET("/plugins", s.query("api:getPluginCapabilities"))
		api.GET("/plugins/:name", s.pluginDetails)
		api.POST("/plugins/:name/enable", s.togglePlugin(true))
		api.POST("/plugins/:name/disable", s.togglePlugin(false))
		api.DELETE("/plugins/:name", s.removePlugin)
		api.GET("/hooks", s.query("api:getAvailableHooks"))
		api.GET("/skills", s.skillsManifest)
		api.POST("/dispatch/:hook", s.dispatch)
		api.GET("/state", s.query("api:getCurrentState"))
		api.POST("/state", s.setState)
		api.GET("/state/history", s.query("api:getStateHistory"))
		api.GET("/events", s.events)
	}

	return router
}

// requestLogger logs every request with method, path, status and duration.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		event := s.log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = s.log.Error()
		} else if c.Writer.Status() >= http.StatusBadRequest {
			event = s.log.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("request")
	}
}

// query adapts a zero-argument api:* hook to a GET route.
func (s *Server) query(hook string) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := s.inst.Dispatch(c.Request.Context(), hook, hooks.Event{})
		if err != nil {
			s.writeError(c, err)
			return
		}
		if result == nil {
			// The hook has no handlers: its feature is not installed.
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "no-handler",
				"message": "no handler registered for " + hook,
			})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func (s *Server) pluginDetails(c *gin.Context) {
	result, err := s.inst.Dispatch(c.Request.Context(), "api:getPluginDetails", hooks.Event{
		"pluginName": c.Param("name"),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	if record, ok := result.(map[string]any); ok && record["error"] != nil {
		c.JSON(http.StatusNotFound, record)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) togglePlugin(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if enabled {
			s.inst.Enable(name)
		} else {
			s.inst.Disable(name)
		}
		c.JSON(http.StatusOK, gin.H{"plugin": name, "enabled": enabled})
	}
}

func (s *Server) removePlugin(c *gin.Context) {
	name := c.Param("name")
	s.inst.Unuse(name)
	c.JSON(http.StatusOK, gin.H{"plugin": name, "removed": true})
}

func (s *Server) skillsManifest(c *gin.Context) {
	includeInstructions := c.DefaultQuery("includeInstructions", "true") == "true"
	result, err := s.inst.Dispatch(c.Request.Context(), "api:getSkillsManifest", hooks.Event{
		"includeInstructions": includeInstructions,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// dispatch invokes an arbitrary hook with the request body as the event.
func (s *Server) dispatch(c *gin.Context) {
	event := hooks.Event{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&event); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   hooks.KindBadRequest,
				"message": "invalid event body: " + err.Error(),
			})
			return
		}
	}
	result, err := s.inst.Dispatch(c.Request.Context(), c.Param("hook"), event)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (s *Server) setState(c *gin.Context) {
	var body struct {
		State string         `json:"state"`
		Data  map[string]any `json:"data"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   hooks.KindBadRequest,
			"message": "invalid state body: " + err.Error(),
		})
		return
	}
	event := hooks.Event{"state": body.State}
	if body.Data != nil {
		event["data"] = body.Data
	}
	result, err := s.inst.Dispatch(c.Request.Context(), "api:setState", event)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// writeError maps framework error kinds to HTTP status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var fe *hooks.Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case hooks.KindBadRequest, hooks.KindInvalidTransition:
			status = http.StatusBadRequest
		case hooks.KindUnknownPlugin:
			status = http.StatusNotFound
		case hooks.KindWaitTimeout:
			status = http.StatusRequestTimeout
		}
		c.JSON(status, fe)
		return
	}
	c.JSON(status, gin.H{"error": "internal", "message": err.Error()})
}
