package relay

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/quote-stream/internal/agent"
	"github.com/rickgao/quote-stream/internal/api"
	"github.com/rickgao/quote-stream/internal/model"
	"github.com/rickgao/quote-stream/internal/provider"
)

func (s *Server) handleStream(c *gin.Context) {
	var req api.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	symbol := model.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": provider.ErrInvalidSymbol.Error()})
		return
	}
	channel := req.Channel
	if channel == "" {
		channel = model.ChannelQuotes
	}

	if err := s.deps.Provider.Subscribe(symbol, channel); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, provider.ErrInvalidSymbol) || errors.Is(err, provider.ErrInvalidChannel) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info("stream subscribed", "symbol", symbol, "channel", channel)
	c.JSON(http.StatusOK, api.SubscribeResponse{Status: "subscribed"})
}

type stepRequest struct {
	State   []float64 `json:"state"`
	Explore *bool     `json:"explore"`
}

func (s *Server) handleAgentStep(c *gin.Context) {
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.State == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state array is required"})
		return
	}
	explore := true
	if req.Explore != nil {
		explore = *req.Explore
	}
	s.runAgent(c, agent.StepCommand(req.State, explore), http.StatusInternalServerError, "agent error")
}

type trainRequest struct {
	Transitions []agent.Transition `json:"transitions"`
	Epochs      int                `json:"epochs"`
	SavePath    string             `json:"savePath"`
}

func (s *Server) handleAgentTrain(c *gin.Context) {
	var req trainRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Transitions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transitions[] is required"})
		return
	}
	s.runAgent(c, agent.TrainCommand(req.Transitions, req.Epochs, req.SavePath), http.StatusInternalServerError, "agent error")
}

type testRequest struct {
	States [][]float64 `json:"states"`
}

func (s *Server) handleAgentTest(c *gin.Context) {
	var req testRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.States) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "states[][] is required"})
		return
	}
	s.runAgent(c, agent.TestCommand(req.States), http.StatusInternalServerError, "agent error")
}

func (s *Server) handleQuote(c *gin.Context) {
	symbol := model.NormalizeSymbol(c.Query("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Required: symbol query param"})
		return
	}
	s.runAgent(c, agent.QuoteCommand(symbol), http.StatusNotFound, "not found")
}

// runAgent sends cmd and writes the agent's data on success. A failed
// response is written with failStatus and its error (or fallback).
func (s *Server) runAgent(c *gin.Context, cmd agent.Command, failStatus int, fallback string) {
	if s.deps.Agent == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent unavailable"})
		return
	}

	s.agent.begin()
	start := time.Now()
	resp, err := s.deps.Agent.Send(c.Request.Context(), cmd)
	ok := err == nil && resp.OK
	s.deps.Metrics.ObserveAgent(time.Since(start), !ok)
	s.agent.finish(ok)

	if err != nil {
		s.logger.Warn("agent command failed", "type", cmd.Type, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !resp.OK {
		msg := resp.Error
		if msg == "" {
			msg = fallback
		}
		s.logger.Warn("agent returned error", "type", cmd.Type, "error", msg)
		c.JSON(failStatus, gin.H{"error": msg})
		return
	}

	data := bytes.TrimSpace(resp.Data)
	if len(data) == 0 {
		data = []byte("null")
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}
