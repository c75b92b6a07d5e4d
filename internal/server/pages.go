package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TobiSchelling/RegWatch/internal/database"
	"github.com/TobiSchelling/RegWatch/internal/risk"
)

func (s *Server) handleIndex(c *gin.Context) {
	ctx := c.Request.Context()
	f := database.ChangeFilter{Limit: 20}
	if n, err := strconv.Atoi(c.Query("page")); err == nil && n > 0 {
		f.Page = n
	}
	if lvl, err := risk.ParseLevel(c.Query("risk")); err == nil {
		f.RiskLevels = []risk.Level{lvl}
	}

	page, err := s.DB.ListChanges(ctx, f)
	if err != nil {
		s.Logger.Error("Failed to list changes", zap.Error(err))
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}
	stats, err := s.DB.GetStats(ctx, s.now())
	if err != nil {
		s.Logger.Error("Failed to compute stats", zap.Error(err))
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}
	if len(s.Sources) > stats.TotalSources {
		stats.TotalSources = len(s.Sources)
	}

	cached := make(map[string]bool, len(page.Changes))
	for _, ch := range page.Changes {
		_, cached[ch.ID] = s.Cache.Get(ch.ID)
	}

	s.render(c, http.StatusOK, "index.html", gin.H{
		"Stats":    stats,
		"Page":     page,
		"Cached":   cached,
		"Risk":     c.Query("risk"),
		"Levels":   risk.Levels,
		"Prev":     page.Page - 1,
		"Next":     page.Page + 1,
		"HasNext":  page.Page < page.TotalPages,
		"Critical": s.Catalog.Critical(),
	})
}

func (s *Server) handleChangePage(c *gin.Context) {
	id := c.Param("id")
	change, err := s.DB.GetChange(c.Request.Context(), id)
	if err != nil {
		s.Logger.Error("Failed to get change", zap.String("change_id", id), zap.Error(err))
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}
	if change == nil {
		s.render(c, http.StatusNotFound, "change.html", gin.H{"ID": id})
		return
	}

	data := gin.H{
		"ID":       id,
		"Change":   change,
		"Eligible": s.Gatekeeper.Eligible(*change),
	}
	if result, ok := s.Gatekeeper.Cached(id); ok {
		data["Analysis"] = result
		if o, ok := s.Catalog.Get(result.RetrievedObligationID); ok {
			data["Obligation"] = o
		}
	} else if o, ok := s.Engine.Retrieve(change.Title + "\n\n" + change.Content); ok {
		data["Obligation"] = o
	}
	s.render(c, http.StatusOK, "change.html", data)
}
