// Package gateway exposes flows over HTTP: start a run, poll the question
// the flow is waiting on, post an answer. Each run owns a dedicated
// answer source; the engine itself stays strictly sequential per run.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gateflow/runtime"
	"gateflow/runtime/loader"
)

// RunStatus describes the lifecycle of a gateway-managed run.
type RunStatus string

const (
	StatusRunning      RunStatus = "running"
	StatusWaitingInput RunStatus = "waiting_input"
	StatusCompleted    RunStatus = "completed"
	StatusFailed       RunStatus = "failed"
)

type run struct {
	id     string
	flowID string
	src    *PendingAnswerSource
	cancel context.CancelFunc

	mu     sync.Mutex
	done   bool
	result runtime.Artifact
	err    error
}

func (r *run) status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		if r.err != nil {
			return StatusFailed
		}
		return StatusCompleted
	}
	if _, waiting := r.src.Pending(); waiting {
		return StatusWaitingInput
	}
	return StatusRunning
}

// Server serves flow definitions over HTTP. Each started run assembles a
// fresh flow so no state leaks between runs.
type Server struct {
	defs map[string]loader.Definition
	reg  *runtime.Registry
	l    *slog.Logger

	mu   sync.Mutex
	runs map[string]*run
}

func NewServer(defs map[string]loader.Definition, reg *runtime.Registry, l *slog.Logger) *Server {
	if l == nil {
		l = slog.Default()
	}
	return &Server{
		defs: defs,
		reg:  reg,
		l:    l,
		runs: make(map[string]*run),
	}
}

// Register mounts the gateway routes on a gin engine.
func (s *Server) Register(g *gin.Engine) {
	g.GET("/flows", s.listFlows)
	g.POST("/flows/:id/runs", s.startRun)
	g.GET("/runs/:id", s.getRun)
	g.POST("/runs/:id/answer", s.postAnswer)
	g.DELETE("/runs/:id", s.cancelRun)
}

func (s *Server) listFlows(c *gin.Context) {
	ids := make([]string, 0, len(s.defs))
	for id := range s.defs {
		ids = append(ids, id)
	}
	c.JSON(http.StatusOK, gin.H{"flows": ids})
}

type startRunRequest struct {
	Input string `json:"input"`
}

func (s *Server) startRun(c *gin.Context) {
	def, ok := s.defs[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "unknown flow"})
		return
	}

	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body: " + err.Error()})
		return
	}

	src := NewPendingAnswerSource()
	channel := runtime.NewInteraction(src.Source(), s.l)
	flow, err := loader.Assemble(def, s.reg, channel, s.l)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "error assembling flow: " + err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:     uuid.New().String(),
		flowID: flow.ID,
		src:    src,
		cancel: cancel,
	}

	s.mu.Lock()
	s.runs[r.id] = r
	s.mu.Unlock()

	go func() {
		result, runErr := flow.Run(ctx, req.Input)
		if runErr != nil {
			s.l.Error("flow run failed", "flow", r.flowID, "run_id", r.id, "error", runErr)
		}
		r.mu.Lock()
		r.done = true
		r.result = result
		r.err = runErr
		r.mu.Unlock()
	}()

	c.JSON(http.StatusAccepted, gin.H{"run_id": r.id, "flow": r.flowID})
}

func (s *Server) lookupRun(c *gin.Context) (*run, bool) {
	s.mu.Lock()
	r, ok := s.runs[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "unknown run"})
	}
	return r, ok
}

func (s *Server) getRun(c *gin.Context) {
	r, ok := s.lookupRun(c)
	if !ok {
		return
	}

	body := gin.H{"run_id": r.id, "flow": r.flowID, "status": r.status()}

	if question, waiting := r.src.Pending(); waiting {
		body["question"] = question
	}

	r.mu.Lock()
	if r.done {
		if r.err != nil {
			body["error"] = r.err.Error()
		} else {
			body["producer"] = r.result.Producer
			body["result"] = r.result.Payload
		}
	}
	r.mu.Unlock()

	c.JSON(http.StatusOK, body)
}

type answerRequest struct {
	Answer string `json:"answer"`
}

func (s *Server) postAnswer(c *gin.Context) {
	r, ok := s.lookupRun(c)
	if !ok {
		return
	}

	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body: " + err.Error()})
		return
	}

	if err := r.src.Answer(c.Request.Context(), req.Answer); err != nil {
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) cancelRun(c *gin.Context) {
	r, ok := s.lookupRun(c)
	if !ok {
		return
	}
	r.cancel()
	c.Status(http.StatusNoContent)
}
