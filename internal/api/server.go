// Package api serves the sensor's HTTP status and report endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/occupancy.sensor/internal/channel"
	"github.com/banshee-data/occupancy.sensor/internal/radar"
	"github.com/banshee-data/occupancy.sensor/internal/report"
	"github.com/banshee-data/occupancy.sensor/internal/timeutil"
	"github.com/banshee-data/occupancy.sensor/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// RadarControl is the supervisor surface the API uses.
type RadarControl interface {
	Status() radar.SupervisorStatus
	RequestRawCommand(cmd []byte) bool
}

type ChannelStatus interface {
	Status() channel.Status
}

type LinkStats interface {
	Stats() radar.LinkStats
}

// ReportStore is the report history, normally *db.DB.
type ReportStore interface {
	RecentReports(ctx context.Context, limit int) ([]report.Report, error)
	ReportsSince(ctx context.Context, since time.Time) ([]report.Report, error)
}

// LatestReport returns the last report produced by the controller.
type LatestReport interface {
	Last() (report.Report, bool)
}

// Options wires the server to the running components. Any of the
// interfaces may be nil; the matching endpoints then answer 503.
type Options struct {
	SensorID   string
	RadarModel string
	Radar      RadarControl
	Link       LinkStats
	Channel    ChannelStatus
	Reports    ReportStore
	Latest     LatestReport
	Clock      timeutil.Clock
}

type Server struct {
	opts Options
}

func NewServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Server{opts: opts}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/reports", s.listReports)
	mux.HandleFunc("/api/reports/summary", s.showSummary)
	mux.HandleFunc("/api/reports/chart", s.showChart)
	mux.HandleFunc("/api/radar/command", s.sendRadarCommand)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	SensorID   string                  `json:"sensor_id"`
	RadarModel string                  `json:"radar_model"`
	Version    string                  `json:"version"`
	Time       time.Time               `json:"time"`
	Radar      *radar.SupervisorStatus `json:"radar,omitempty"`
	Link       *radar.LinkStats        `json:"link,omitempty"`
	Channel    *channel.Status         `json:"channel,omitempty"`
	LastReport *report.Report          `json:"last_report,omitempty"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	resp := StatusResponse{
		SensorID:   s.opts.SensorID,
		RadarModel: s.opts.RadarModel,
		Version:    version.String(),
		Time:       s.opts.Clock.Now(),
	}
	if s.opts.Radar != nil {
		st := s.opts.Radar.Status()
		resp.Radar = &st
	}
	if s.opts.Link != nil {
		st := s.opts.Link.Stats()
		resp.Link = &st
	}
	if s.opts.Channel != nil {
		st := s.opts.Channel.Status()
		resp.Channel = &st
	}
	if s.opts.Latest != nil {
		if rep, ok := s.opts.Latest.Last(); ok {
			resp.LastReport = &rep
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.opts.Reports == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Report store not configured")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 10000 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	reports, err := s.opts.Reports.RecentReports(r.Context(), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve reports: %v", err))
		return
	}
	if reports == nil {
		reports = []report.Report{}
	}
	s.writeJSON(w, http.StatusOK, reports)
}

// parseHours reads the 'hours' window parameter, 24 by default.
func parseHours(r *http.Request) (time.Duration, bool) {
	h := r.URL.Query().Get("hours")
	if h == "" {
		return 24 * time.Hour, true
	}
	hours, err := strconv.Atoi(h)
	if err != nil || hours < 1 || hours > 24*366 {
		return 0, false
	}
	return time.Duration(hours) * time.Hour, true
}

func (s *Server) reportsInWindow(w http.ResponseWriter, r *http.Request) ([]report.Report, time.Duration, bool) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return nil, 0, false
	}
	if s.opts.Reports == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Report store not configured")
		return nil, 0, false
	}
	window, ok := parseHours(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'hours' parameter")
		return nil, 0, false
	}
	reports, err := s.opts.Reports.ReportsSince(r.Context(), s.opts.Clock.Now().Add(-window))
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve reports: %v", err))
		return nil, 0, false
	}
	return reports, window, true
}

func (s *Server) showSummary(w http.ResponseWriter, r *http.Request) {
	reports, window, ok := s.reportsInWindow(w, r)
	if !ok {
		return
	}
	summary := Summarise(reports)
	summary.WindowHours = int(window / time.Hour)
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) sendRadarCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.opts.Radar == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Radar not configured")
		return
	}

	command := r.FormValue("command")
	switch {
	case command == "":
		s.writeJSONError(w, http.StatusBadRequest, "Missing command")
		return
	case len(command) > radar.MaxRawCommandLength,
		len(command) == radar.MaxRawCommandLength && !strings.HasSuffix(command, "\n"):
		s.writeJSONError(w, http.StatusBadRequest, "Command too long")
		return
	}

	if !s.opts.Radar.RequestRawCommand([]byte(command)) {
		s.writeJSONError(w, http.StatusConflict, "A radar command is already pending")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
