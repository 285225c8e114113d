package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"nhooyr.io/websocket"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/ingest"
)

// healthResponse reports liveness plus the two numbers an operator cares
// about at a glance: how backed up the stage queue is and how loaded the
// host is (spec §6's "internal health/readiness surface").
type healthResponse struct {
	Status       string  `json:"status"`
	UptimeSec    float64 `json:"uptime_seconds"`
	QueueDepth   int     `json:"stage_queue_depth"`
	CPUPercent   float64 `json:"cpu_percent"`
	MemPercent   float64 `json:"mem_percent"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	depth, err := s.gw.StageQueue.PendingCount()
	if err != nil {
		s.log.Warn().Err(err).Msg("health check: failed to read stage queue depth")
	}

	cpuPct, memPct := s.systemStats()

	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		UptimeSec:  time.Since(s.started).Seconds(),
		QueueDepth: depth,
		CPUPercent: cpuPct,
		MemPercent: memPct,
	})
}

// systemStats mirrors the teacher's gopsutil sampling pattern; a failed
// sample degrades to zero rather than failing the health check.
func (s *Server) systemStats() (cpuPercent, memPercent float64) {
	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		memPercent = vm.UsedPercent
	}
	return cpuPercent, memPercent
}

// ingestRequest is the wire shape scrapers POST to /api/listings.
type ingestRequest struct {
	SourceName   string          `json:"source_name"`
	SiteAdID     string          `json:"site_ad_id"`
	URL          string          `json:"url"`
	RawHTML      string          `json:"raw_html"`
	ParsedMap    map[string]any  `json:"parsed_map"`
	HTTPMeta     domain.HTTPMeta `json:"http_meta"`
	ScrapedPrice *float64        `json:"scraped_price"`
}

type ingestResponse struct {
	RawListingID string `json:"raw_listing_id"`
	IsNew        bool   `json:"is_new"`
}

// handleIngestListing is the sole inbound surface from scrapers (spec §4.2):
// idempotent upsert, followed by enqueueing new listings onto the pipeline.
func (s *Server) handleIngestListing(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceName == "" || req.SiteAdID == "" {
		writeError(w, http.StatusBadRequest, "source_name and site_ad_id are required")
		return
	}

	result, err := s.ingest.Ingest(ingest.Input{
		SourceName:   req.SourceName,
		SiteAdID:     req.SiteAdID,
		URL:          req.URL,
		RawHTML:      req.RawHTML,
		ParsedMap:    req.ParsedMap,
		HTTPMeta:     req.HTTPMeta,
		ScrapedPrice: req.ScrapedPrice,
	})
	if err != nil {
		s.log.Error().Err(err).Str("source", req.SourceName).Str("site_ad_id", req.SiteAdID).Msg("ingest failed")
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if result.IsNew {
		if err := s.orch.EnqueueRaw(result.RawListingID); err != nil {
			s.log.Error().Err(err).Str("raw_listing_id", result.RawListingID).Msg("failed to enqueue raw listing")
		}
	}

	writeJSON(w, http.StatusAccepted, ingestResponse{RawListingID: result.RawListingID, IsNew: result.IsNew})
}

// handleEventStream upgrades to a websocket and fans out every pipeline.Bus
// event for as long as the client stays connected -- the operational
// visibility surface named in SPEC_FULL.md's domain-stack wiring for
// nhooyr.io/websocket.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to accept event stream connection")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	events, unsubscribe := s.bus.Subscribe(32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
