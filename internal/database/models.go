package database

import (
	"encoding/json"

	"github.com/TobiSchelling/RegWatch/internal/ingest"
	"github.com/TobiSchelling/RegWatch/internal/risk"
)

// changeRow is the stored form of an ingest.Change.
type changeRow struct {
	ID              string `db:"id"`
	SourceID        string `db:"source_id"`
	SourceName      string `db:"source_name"`
	Title           string `db:"title"`
	Content         string `db:"content"`
	MatchedKeywords string `db:"matched_keywords"`
	RiskLevel       string `db:"risk_level"`
	DetectedAt      string `db:"detected_at"`
	AffectedSector  string `db:"affected_sector"`
	Link            string `db:"link"`
	FirstSeenAt     string `db:"first_seen_at"`
}

func (r changeRow) toChange() ingest.Change {
	keywords := []string{}
	_ = json.Unmarshal([]byte(r.MatchedKeywords), &keywords)
	return ingest.Change{
		ID:              r.ID,
		SourceID:        r.SourceID,
		SourceName:      r.SourceName,
		Title:           r.Title,
		Content:         r.Content,
		MatchedKeywords: keywords,
		RiskLevel:       risk.Level(r.RiskLevel),
		DetectedAt:      r.DetectedAt,
		AffectedSector:  r.AffectedSector,
		Link:            r.Link,
	}
}

// ChangeFilter narrows ListChanges. Page is 1-based.
type ChangeFilter struct {
	RiskLevels []risk.Level
	SourceID   string
	Search     string
	Page       int
	Limit      int
}

// ChangePage is one page of changes.
type ChangePage struct {
	Changes    []ingest.Change `json:"changes"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	TotalPages int             `json:"totalPages"`
}

// Stats holds monitoring statistics.
type Stats struct {
	SourcesMonitored int    `json:"sourcesMonitored"`
	TotalSources     int    `json:"totalSources"`
	TotalChanges     int    `json:"totalChanges"`
	ChangesThisMonth int    `json:"changesThisMonth"`
	HighRiskAlerts   int    `json:"highRiskAlerts"`
	CriticalAlerts   int    `json:"criticalAlerts"`
	AnalysesCached   int    `json:"analysesCached"`
	LastRunAt        string `json:"lastRunAt,omitempty"`
}

// RunReport records one monitoring run.
type RunReport struct {
	ID             string   `db:"id" json:"id"`
	StartedAt      string   `db:"started_at" json:"startedAt"`
	FinishedAt     string   `db:"finished_at" json:"finishedAt"`
	Demo           bool     `db:"demo" json:"demo"`
	RecordsSeen    int      `db:"records_seen" json:"recordsSeen"`
	ChangesKept    int      `db:"changes_kept" json:"changesKept"`
	Duplicates     int      `db:"duplicates" json:"duplicates"`
	Rejected       int      `db:"rejected" json:"rejected"`
	ChangesNew     int      `db:"changes_new" json:"changesNew"`
	Analyzed       int      `db:"analyzed" json:"analyzed"`
	AnalysisFailed int      `db:"analysis_failed" json:"analysisFailed"`
	ErrorsJSON     string   `db:"errors" json:"-"`
	Errors         []string `db:"-" json:"errors"`
}
