package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TobiSchelling/RegWatch/internal/analysis"
	"github.com/TobiSchelling/RegWatch/internal/collect"
	"github.com/TobiSchelling/RegWatch/internal/database"
	"github.com/TobiSchelling/RegWatch/internal/ingest"
	"github.com/TobiSchelling/RegWatch/internal/knowledge"
	"github.com/TobiSchelling/RegWatch/internal/retrieve"
	"github.com/TobiSchelling/RegWatch/internal/risk"
)

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.DB.Ping(c.Request.Context()); err != nil {
		s.Logger.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "ok"})
}

// parseChangeFilter reads page, limit, risk (comma separated), source and q.
func parseChangeFilter(c *gin.Context) (database.ChangeFilter, string) {
	var f database.ChangeFilter
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, "page must be a positive integer"
		}
		f.Page = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, "limit must be a positive integer"
		}
		f.Limit = n
	}
	if v := c.Query("risk"); v != "" {
		for _, part := range strings.Split(v, ",") {
			lvl, err := risk.ParseLevel(part)
			if err != nil {
				return f, err.Error()
			}
			f.RiskLevels = append(f.RiskLevels, lvl)
		}
	}
	f.SourceID = c.Query("source")
	f.Search = strings.TrimSpace(c.Query("q"))
	return f, ""
}

func (s *Server) listChanges(c *gin.Context) {
	f, problem := parseChangeFilter(c)
	if problem != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": problem})
		return
	}
	page, err := s.DB.ListChanges(c.Request.Context(), f)
	if err != nil {
		s.Logger.Error("Failed to list changes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list changes"})
		return
	}
	c.JSON(http.StatusOK, page)
}

// lookupChange writes 404 or 500 and returns nil when the change cannot be served.
func (s *Server) lookupChange(c *gin.Context) *ingest.Change {
	id := c.Param("id")
	change, err := s.DB.GetChange(c.Request.Context(), id)
	if err != nil {
		s.Logger.Error("Failed to get change", zap.String("change_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get change"})
		return nil
	}
	if change == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "change not found"})
		return nil
	}
	return change
}

func (s *Server) getChange(c *gin.Context) {
	if change := s.lookupChange(c); change != nil {
		c.JSON(http.StatusOK, change)
	}
}

// analysisResponse reports why an analysis is or is not available. Analysis
// outcomes other than success are not HTTP errors.
type analysisResponse struct {
	ChangeID string           `json:"changeId"`
	Status   analysis.Status  `json:"status"`
	Analysis *analysis.Result `json:"analysis"`
}

func (s *Server) getAnalysis(c *gin.Context) {
	change := s.lookupChange(c)
	if change == nil {
		return
	}
	result, status := s.Gatekeeper.GetAnalysis(c.Request.Context(), *change)
	c.JSON(http.StatusOK, analysisResponse{ChangeID: change.ID, Status: status, Analysis: result})
}

func (s *Server) getStats(c *gin.Context) {
	stats, err := s.DB.GetStats(c.Request.Context(), s.now())
	if err != nil {
		s.Logger.Error("Failed to compute stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute stats"})
		return
	}
	if len(s.Sources) > stats.TotalSources {
		stats.TotalSources = len(s.Sources)
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) listSources(c *gin.Context) {
	sources := s.Sources
	if sources == nil {
		sources = []collect.SourceInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"sources": sources})
}

func (s *Server) listObligations(c *gin.Context) {
	var obligations []knowledge.Obligation
	if v := c.Query("severity"); v != "" {
		lvl, err := risk.ParseLevel(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		obligations = []knowledge.Obligation{}
		for _, o := range s.Catalog.Obligations() {
			if o.Severity == lvl {
				obligations = append(obligations, o)
			}
		}
	} else {
		obligations = s.Catalog.Obligations()
	}
	c.JSON(http.StatusOK, gin.H{
		"framework":   s.Catalog.Framework,
		"obligations": obligations,
		"rules":       s.Catalog.Rules(),
	})
}

func (s *Server) getObligation(c *gin.Context) {
	o, ok := s.Catalog.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "obligation not found"})
		return
	}
	c.JSON(http.StatusOK, o)
}

type retrieveRequest struct {
	Text string `json:"text" binding:"required"`
}

type retrieveResponse struct {
	Found      bool                  `json:"found"`
	Obligation *knowledge.Obligation `json:"obligation"`
	Scores     []retrieve.Score      `json:"scores"`
}

func (s *Server) retrieve(c *gin.Context) {
	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	resp := retrieveResponse{Scores: s.Engine.Scores(req.Text)}
	if o, ok := s.Engine.Retrieve(req.Text); ok {
		resp.Found = true
		resp.Obligation = &o
	}
	c.JSON(http.StatusOK, resp)
}

type classifyRequest struct {
	Title   string `json:"title" binding:"required"`
	Content string `json:"content"`
}

type classifyResponse struct {
	MatchedKeywords []string   `json:"matchedKeywords"`
	CriticalHits    []string   `json:"criticalHits"`
	RiskLevel       risk.Level `json:"riskLevel"`
	Relevant        bool       `json:"relevant"`
}

func (s *Server) classify(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	c.JSON(http.StatusOK, s.classifyText(req.Title, req.Content))
}

func (s *Server) classifyText(title, content string) classifyResponse {
	content = ingest.StripTags(content)
	matched := s.Ingester.MatchKeywords(title, content)
	_, relevant := s.Ingester.Ingest(ingest.RawRecord{ID: "classify", Title: title, Excerpt: content})
	return classifyResponse{
		MatchedKeywords: matched,
		CriticalHits:    s.Classifier.CriticalHits(title, content),
		RiskLevel:       s.Classifier.Classify(matched, title, content),
		Relevant:        relevant,
	}
}

func (s *Server) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Cache.Stats())
}

func (s *Server) clearCache(c *gin.Context) {
	n := s.Cache.Len()
	if err := s.Cache.Clear(c.Request.Context()); err != nil {
		s.Logger.Error("Failed to clear analysis cache", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear cache"})
		return
	}
	s.Logger.Info("Cleared analysis cache", zap.Int("entries", n))
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}
