package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/danmuck/designctl/internal/auth"
	"github.com/danmuck/designctl/internal/engine"
	"github.com/danmuck/designctl/internal/observability"
	"github.com/danmuck/designctl/internal/script"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const readyTimeout = 2 * time.Second

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.started).String(),
			"name":   s.name,
		})
	})
	r.GET("/ready", s.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ctl := r.Group("", auth.Require(s.auth))

	r.GET("/commands", s.listCommands)
	r.GET("/commands/args", s.describeCommand)
	ctl.POST("/commands/invoke", s.invokeCommand)

	r.GET("/playback", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.store.Status())
	})
	ctl.POST("/playback/fps", s.setFPS)
	ctl.POST("/playback/:action", s.playback)

	r.GET("/script", func(c *gin.Context) {
		st := s.script.Status()
		observability.TagRun(c, st.RunID)
		c.JSON(http.StatusOK, st)
	})
	ctl.POST("/script/run", s.runScript)
	ctl.POST("/script/stop", func(c *gin.Context) {
		stopped := s.script.Stop()
		st := s.script.Status()
		if stopped {
			observability.TagRun(c, st.RunID)
		}
		c.JSON(http.StatusOK, gin.H{"stopped": stopped, "status": st})
	})

	if s.frames != nil {
		r.GET("/frames", gin.WrapH(s.frames))
	}
}

func (s *Server) ready(c *gin.Context) {
	if s.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": "no engine configured"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()
	if err := s.engine.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ready":   false,
			"error":   err.Error(),
			"outcome": engine.Outcome(err),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "uptime": time.Since(s.started).String()})
}

type commandSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) listCommands(c *gin.Context) {
	names := s.catalog.Names()
	out := make([]commandSummary, 0, len(names))
	for _, name := range names {
		cmd, ok := s.catalog.Lookup(name)
		if !ok {
			continue
		}
		out = append(out, commandSummary{Name: cmd.Name, Description: cmd.Description})
	}
	c.JSON(http.StatusOK, gin.H{"commands": out})
}

func (s *Server) describeCommand(c *gin.Context) {
	desc, err := s.catalog.Describe(c.Query("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, desc)
}

func (s *Server) invokeCommand(c *gin.Context) {
	name := c.Query("name")
	kwargs := map[string]any{}
	if err := c.ShouldBindJSON(&kwargs); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON object: " + err.Error()})
		return
	}
	res, err := s.catalog.Invoke(c.Request.Context(), name, kwargs)
	if err != nil {
		log.Warn().Str("name", name).Err(err).Msg("command invoke failed")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "result": res})
}

func (s *Server) playback(c *gin.Context) {
	action := c.Param("action")
	ok := true
	switch action {
	case "play":
		ok = s.store.Play()
	case "pause":
		s.store.Pause()
	case "step":
		ok = s.store.Step()
	case "reset":
		s.store.Reset()
	case "halt":
		s.store.Halt()
	case "clear":
		s.store.Clear()
	case "stop_live":
		s.store.StopLive()
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown playback action: " + action})
		return
	}
	c.JSON(http.StatusOK, gin.H{"action": action, "ok": ok, "status": s.store.Status()})
}

type fpsRequest struct {
	FPS float64 `json:"fps"`
}

func (s *Server) setFPS(c *gin.Context) {
	var req fpsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.store.SetFPS(req.FPS) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fps out of range", "fps": req.FPS})
		return
	}
	c.JSON(http.StatusOK, s.store.Status())
}

func (s *Server) runScript(c *gin.Context) {
	var req script.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	started, err := s.script.Run(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	st := s.script.Status()
	code := http.StatusAccepted
	if started {
		observability.TagRun(c, st.RunID)
	} else {
		code = http.StatusConflict
	}
	c.JSON(code, gin.H{"started": started, "status": st})
}
