package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jordanwelch/feedmerge/internal/entity"
	"github.com/jordanwelch/feedmerge/internal/logging"
	"github.com/jordanwelch/feedmerge/internal/postgres"
	"github.com/jordanwelch/feedmerge/internal/report"
	"github.com/jordanwelch/feedmerge/internal/scd"
)

// handleHealth reports liveness and database reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Pool().Ping(r.Context()); err != nil {
		logging.FromContext(r.Context()).Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// entitySummary is one registered entity type plus its current row count.
type entitySummary struct {
	Key          string `json:"key"`
	Label        string `json:"label"`
	StagingTable string `json:"stagingTable"`
	TargetTable  string `json:"targetTable"`
	CurrentRows  int64  `json:"currentRows"`
}

// handleListEntities lists the registered entity types.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	defs := entity.All()
	summaries := make([]entitySummary, 0, len(defs))
	for _, def := range defs {
		count, err := s.store.CurrentRowCount(r.Context(), def.Info.Key)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		summaries = append(summaries, entitySummary{
			Key:          def.Info.Key,
			Label:        def.Info.Label,
			StagingTable: def.Info.StagingTable,
			TargetTable:  def.Info.TargetTable,
			CurrentRows:  count,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": summaries})
}

// handleListAudit returns audit log entries, newest first.
//
// Query parameters: table, status, since, until (RFC 3339), limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	filter := postgres.AuditFilter{
		TableName: r.URL.Query().Get("table"),
		Limit:     parseIntParam(r, "limit", postgres.DefaultAuditLimit),
		Offset:    parseIntParam(r, "offset", 0),
	}

	if status := r.URL.Query().Get("status"); status != "" {
		switch strings.ToUpper(status) {
		case string(scd.StatusSuccess), string(scd.StatusError):
			filter.Status = scd.RunStatus(strings.ToUpper(status))
		default:
			writeError(w, r, http.StatusBadRequest, "status must be SUCCESS or ERROR")
			return
		}
	}

	var err error
	if filter.StartTime, err = parseTimeParam(r, "since"); err != nil {
		writeError(w, r, http.StatusBadRequest, "since must be RFC 3339")
		return
	}
	if filter.EndTime, err = parseTimeParam(r, "until"); err != nil {
		writeError(w, r, http.StatusBadRequest, "until must be RFC 3339")
		return
	}

	records, err := s.store.ListAudit(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	total, err := s.store.CountAudit(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":   total,
		"entries": records,
	})
}

// handleStats returns summary statistics over the current versions.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := report.Collect(r.Context(), s.store.Pool())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// historyVersion is one version interval of a natural key.
type historyVersion struct {
	Row       any        `json:"row"`
	ValidFrom time.Time  `json:"validFrom"`
	ValidTo   *time.Time `json:"validTo"`
	IsCurrent bool       `json:"isCurrent"`
}

// handleHistory returns the full version chain for one natural key.
//
// The key comes from query parameters: manufacturer and sku always, plus
// distributor for entities keyed by it.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entityKey := chi.URLParam(r, "entity")
	def, ok := entity.Get(entityKey)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown entity type: "+entityKey)
		return
	}

	key := scd.Key{
		Manufacturer: strings.TrimSpace(r.URL.Query().Get("manufacturer")),
		SKU:          strings.TrimSpace(r.URL.Query().Get("sku")),
		Distributor:  strings.TrimSpace(r.URL.Query().Get("distributor")),
	}
	if key.Manufacturer == "" || key.SKU == "" {
		writeError(w, r, http.StatusBadRequest, "manufacturer and sku are required")
		return
	}
	if keyedByDistributor(def) && key.Distributor == "" {
		writeError(w, r, http.StatusBadRequest, "distributor is required for "+entityKey)
		return
	}

	versions, err := s.store.VersionHistory(r.Context(), entityKey, key)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	out := make([]historyVersion, 0, len(versions))
	for _, v := range versions {
		out = append(out, historyVersion{
			Row:       v.Row,
			ValidFrom: v.ValidFrom,
			ValidTo:   v.ValidTo,
			IsCurrent: v.IsCurrent,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entity":   entityKey,
		"versions": out,
	})
}

func keyedByDistributor(def entity.Definition) bool {
	for _, col := range def.KeyColumns {
		if col == "distributor" {
			return true
		}
	}
	return false
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return defaultVal
	}
	return i
}

// parseTimeParam parses an RFC 3339 query parameter. Absent means zero time.
func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	val := r.URL.Query().Get(name)
	if val == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, val)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError logs the technical error server-side and returns a sanitized
// message to the client.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	logging.FromContext(r.Context()).Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"error", err,
	)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

// writeError writes a JSON error response for client mistakes.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	logging.FromContext(r.Context()).Warn("request rejected",
		"path", r.URL.Path,
		"status", status,
		"reason", message,
	)
	writeJSON(w, status, map[string]string{"error": message})
}
