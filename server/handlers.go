package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/teranos/carbonfill/errors"
	"github.com/teranos/carbonfill/lca"
	"github.com/teranos/carbonfill/version"
)

// handleHealth reports the lifecycle state and build
func (s *Server) handleHealth(c *gin.Context) {
	info := version.Get()
	status := http.StatusOK
	if s.State() != ServerStateRunning && s.State() != ServerStateStarting {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":  s.State().String(),
		"version": info.Version,
		"commit":  info.Short(),
	})
}

// handleMatchCarbonFactors enriches a JSON array of nodes.
// Response: {run_id, nodes, match_stats, groups}
func (s *Server) handleMatchCarbonFactors(c *gin.Context) {
	var items []map[string]any
	if err := c.ShouldBindJSON(&items); err != nil {
		s.respondError(c, errors.WrapInvalidRequest(err, "request body must be a JSON array of nodes"))
		return
	}
	if err := validate.Var(items, batchRule(s.cfg.MaxBatchSize)); err != nil {
		s.respondError(c, errors.WrapInvalidRequest(err, "validate batch"))
		return
	}

	nodes, err := lca.DecodeBatch(items)
	if err != nil {
		s.respondError(c, err)
		return
	}
	report, err := s.pipeline.Run(c.Request.Context(), nodes)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":      report.RunID,
		"nodes":       lca.EncodeBatch(report.Nodes),
		"match_stats": report.Stats,
		"groups":      report.Groups,
	})
}

// handleOptimize enriches one node as the stage named in the path.
func (s *Server) handleOptimize(c *gin.Context) {
	param := c.Param("stage")
	if err := validate.Var(param, "lcastage"); err != nil {
		s.respondError(c, errors.NewInvalidRequestError("unknown lifecycle stage %q", param))
		return
	}
	stage, err := lca.ParseStage(param)
	if err != nil {
		s.respondError(c, err)
		return
	}

	var item map[string]any
	if err := c.ShouldBindJSON(&item); err != nil {
		s.respondError(c, errors.WrapInvalidRequest(err, "request body must be a JSON object"))
		return
	}
	if item == nil {
		s.respondError(c, errors.NewInvalidRequestError("request body must be a JSON object"))
		return
	}
	item["lifecycleStage"] = string(stage)

	node, err := lca.Decode(item)
	if err != nil {
		s.respondError(c, err)
		return
	}
	out, report, err := s.pipeline.Optimize(c.Request.Context(), node)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"data":    lca.Encode(out),
		"outcome": report.Outcome,
	})
}

// handleDecomposeProduct breaks a product into weighted materials.
// Failed decompositions are still 200 with a manual-required result.
func (s *Server) handleDecomposeProduct(c *gin.Context) {
	var req DecomposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errors.WrapInvalidRequest(err, "decode decomposition request"))
		return
	}
	if err := validate.Struct(req); err != nil {
		s.respondError(c, errors.WrapInvalidRequest(err, "validate decomposition request"))
		return
	}

	res, err := s.decomposer.Decompose(c.Request.Context(), req.toDecompose())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   res,
	})
}

// handleCompletions proxies one chat completion and returns the raw envelope.
// Degraded envelopes are still 200; the outcome header tells them apart.
func (s *Server) handleCompletions(c *gin.Context) {
	var req CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, errors.WrapInvalidRequest(err, "decode completion request"))
		return
	}
	if err := validate.Struct(req); err != nil {
		s.respondError(c, errors.WrapInvalidRequest(err, "validate completion request"))
		return
	}

	comp, err := s.invoker.Invoke(c.Request.Context(), req.toInvoke())
	c.Header(OutcomeHeader, comp.Outcome.String())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Header(BackendHeader, string(comp.Backend))
	c.JSON(http.StatusOK, comp.Envelope)
}
