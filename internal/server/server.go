package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agenthands/mnemo/internal/core"
	"github.com/agenthands/mnemo/internal/core/ingest"
	"github.com/agenthands/mnemo/internal/core/model"
	"github.com/agenthands/mnemo/pkg/logger"
)

// Server exposes the memory engine over HTTP.
type Server struct {
	Memory *core.Memory
	logger *zap.Logger
}

func NewServer(memory *core.Memory) *Server {
	return &Server{Memory: memory, logger: logger.Get()}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.Default()

	r.POST("/facts", s.AddFact)
	r.POST("/facts/bulk", s.BulkUpload)
	r.POST("/search", s.Search)
	r.GET("/stats", s.Stats)
	r.POST("/snapshot/export", s.SnapshotExport)
	r.POST("/snapshot/import", s.SnapshotImport)
	r.POST("/snapshot/delete", s.SnapshotDelete)
	r.POST("/delete", s.Delete)
	r.GET("/health", s.Health)

	return r
}

// fail maps the error taxonomy onto HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNoConnection):
		status = http.StatusServiceUnavailable
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrImmutable):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) AddFact(c *gin.Context) {
	var fact ingest.Fact
	if err := c.ShouldBindJSON(&fact); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := s.Memory.AddFact(c.Request.Context(), fact)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type bulkRequest struct {
	Triples    []core.TripleRecord    `json:"triples"`
	Quintuples []core.QuintupleRecord `json:"quintuples"`
}

func (s *Server) BulkUpload(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	report := core.BulkReport{}
	if len(req.Triples) > 0 {
		r, err := s.Memory.UploadTriples(c.Request.Context(), req.Triples)
		report.Succeeded += r.Succeeded
		report.Failed += r.Failed
		report.Errors = append(report.Errors, r.Errors...)
		if err != nil && len(req.Quintuples) == 0 {
			c.JSON(http.StatusUnprocessableEntity, report)
			return
		}
	}
	if len(req.Quintuples) > 0 {
		r, err := s.Memory.UploadQuintuples(c.Request.Context(), req.Quintuples)
		report.Succeeded += r.Succeeded
		report.Failed += r.Failed
		report.Errors = append(report.Errors, r.Errors...)
		if err != nil && report.Succeeded == 0 {
			c.JSON(http.StatusUnprocessableEntity, report)
			return
		}
	}
	c.JSON(http.StatusOK, report)
}

type searchRequest struct {
	Keywords   []string `json:"keywords"`
	Text       string   `json:"text"`
	Summary    string   `json:"summary"`
	MaxResults int      `json:"max_results"`
}

func (s *Server) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	if len(req.Keywords) > 0 {
		result, err := s.Memory.RelevantMemories(ctx, req.Keywords, req.Summary, req.MaxResults)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
		return
	}
	if req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "keywords or text required"})
		return
	}
	result, err := s.Memory.SearchText(ctx, req.Text, req.Summary, req.MaxResults)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) Stats(c *gin.Context) {
	stats, err := s.Memory.Statistics(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type idsRequest struct {
	NodeIDs []string `json:"node_ids"`
	RelIDs  []string `json:"relationship_ids"`
}

func (s *Server) SnapshotExport(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	report, err := s.Memory.Export(c.Request.Context(), req.NodeIDs, req.RelIDs)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) SnapshotImport(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	report, err := s.Memory.Import(c.Request.Context(), req.NodeIDs, req.RelIDs)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) SnapshotDelete(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	nodes, rels, err := s.Memory.LocalDelete(req.NodeIDs, req.RelIDs)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nodes_removed": nodes, "relationships_removed": rels})
}

func (s *Server) Delete(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	deleted, errs := s.Memory.Delete(c.Request.Context(), req.NodeIDs, req.RelIDs)
	if deleted == 0 && len(errs) > 0 {
		if errors.Is(errs[0], model.ErrNoConnection) {
			s.fail(c, errs[0])
			return
		}
	}
	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		messages = append(messages, err.Error())
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "errors": messages})
}

func (s *Server) Health(c *gin.Context) {
	if s.Memory.Status.Check(c.Request.Context()) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "no connection"})
}
