// Package main implements an in-memory damage report service for local
// development and end-to-end runs of reliefdesk. It serves the /api/houses
// routes the client uses, seeded from JSON fixture files, so the CLI can be
// exercised without the real backend.
//
// Usage:
//
//	mock-service -fixtures /path/to/fixtures -port 5000
//
// Every *.json file in the fixture directory holds either one report or an
// array of reports. Files load in name order.
//
// Faults: POST /faults with {"route":"update","status":500,"message":"...",
// "count":1} makes the next count calls to that route fail. This drives the
// client's failure paths (toasts, refresh after partial success) by hand.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/reliefdesk/report"
)

const maxUploadBytes = 32 << 20

// Route names used by /stats, /requests and /faults.
const (
	routeList          = "list"
	routeGet           = "get"
	routeCreate        = "create"
	routeUpdate        = "update"
	routeReplaceImages = "replace-images"
	routeDelete        = "delete"
)

// capturedRequest stores the key fields of a mutation for test verification.
type capturedRequest struct {
	Route     string            `json:"route"`
	ID        string            `json:"id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Images    []string          `json:"images,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// fault makes the next Count calls to Route fail.
type fault struct {
	Route   string `json:"route"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

type server struct {
	logger  *slog.Logger
	baseURL string

	mu     sync.Mutex
	houses []report.Record
	faults map[string]*fault

	calls      atomic.Int64
	routeCalls map[string]*atomic.Int64

	requestsMu sync.Mutex
	requests   []capturedRequest
}

func newServer(seed []report.Record, baseURL string, logger *slog.Logger) *server {
	s := &server{
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		houses:     seed,
		faults:     make(map[string]*fault),
		routeCalls: make(map[string]*atomic.Int64),
	}
	for _, r := range []string{routeList, routeGet, routeCreate, routeUpdate, routeReplaceImages, routeDelete} {
		s.routeCalls[r] = &atomic.Int64{}
	}
	return s
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /requests", s.handleRequests)
	mux.HandleFunc("POST /faults", s.handleFaults)

	mux.HandleFunc("GET /api/houses", s.counted(routeList, s.handleList))
	mux.HandleFunc("GET /api/houses/details/{id}", s.counted(routeGet, s.handleGet))
	mux.HandleFunc("POST /api/houses", s.counted(routeCreate, s.handleCreate))
	mux.HandleFunc("PUT /api/houses/{id}", s.counted(routeUpdate, s.handleUpdate))
	mux.HandleFunc("PUT /api/houses/{id}/replace-images", s.counted(routeReplaceImages, s.handleReplaceImages))
	mux.HandleFunc("DELETE /api/houses/{id}", s.counted(routeDelete, s.handleDelete))
	return mux
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing seed report files")
	port := flag.Int("port", 5000, "port to listen on")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// Allow env var override
	if envDir := os.Getenv("MOCK_SERVICE_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}

	var seed []report.Record
	if *fixtureDir != "" {
		var err error
		seed, err = loadFixtures(*fixtureDir)
		if err != nil {
			logger.Error("Failed to load fixtures", "dir", *fixtureDir, "error", err)
			os.Exit(1)
		}
	}
	logger.Info("Loaded seed reports", "count", len(seed), "dir", *fixtureDir)

	addr := fmt.Sprintf(":%d", *port)
	s := newServer(seed, fmt.Sprintf("http://localhost:%d", *port), logger)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("Mock damage report service listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// counted wraps a route handler with call counting and fault injection.
func (s *server) counted(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callNum := s.calls.Add(1)
		s.routeCalls[route].Add(1)
		s.logger.Debug("Request", "call", callNum, "route", route, "path", r.URL.Path)

		if f := s.takeFault(route); f != nil {
			s.logger.Info("Injected fault", "call", callNum, "route", route, "status", f.Status)
			writeError(w, f.Status, f.Message)
			return
		}
		h(w, r)
	}
}

func (s *server) takeFault(route string) *fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.faults[route]
	if !ok {
		return nil
	}
	f.Count--
	if f.Count <= 0 {
		delete(s.faults, route)
	}
	out := *f
	return &out
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStats returns call counts for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	byRoute := make(map[string]int64, len(s.routeCalls))
	for route, counter := range s.routeCalls {
		byRoute[route] = counter.Load()
	}
	s.mu.Lock()
	houses := len(s.houses)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"total_calls":    s.calls.Load(),
		"calls_by_route": byRoute,
		"houses":         houses,
	})
}

// handleRequests returns captured mutations, optionally filtered by ?route=.
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	routeFilter := r.URL.Query().Get("route")

	s.requestsMu.Lock()
	result := make([]capturedRequest, 0, len(s.requests))
	for _, req := range s.requests {
		if routeFilter == "" || req.Route == routeFilter {
			result = append(result, req)
		}
	}
	s.requestsMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"requests": result})
}

func (s *server) handleFaults(w http.ResponseWriter, r *http.Request) {
	var f fault
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid fault: %v", err))
		return
	}
	if _, ok := s.routeCalls[f.Route]; !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown route %q", f.Route))
		return
	}
	if f.Status == 0 {
		f.Status = http.StatusInternalServerError
	}
	if f.Count <= 0 {
		f.Count = 1
	}

	s.mu.Lock()
	s.faults[f.Route] = &f
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := make([]report.Record, len(s.houses))
	for i, h := range s.houses {
		out[i] = h.Clone()
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(r.PathValue("id"))
	if i < 0 {
		writeError(w, http.StatusNotFound, "House not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"house": s.houses[i]})
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	draft, fields, err := parseForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := draft.ValidateCreate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	rec := report.Record{
		ID:          id,
		Location:    draft.Location,
		Size:        draft.Size,
		Description: draft.Description,
		DamageTime:  draft.DamageTime,
		Category:    draft.Category,
		ReportedBy:  draft.ReportedBy,
		Contact:     draft.Contact,
		Images:      s.imageURIs(id, 0, draft.Images),
		CreatedAt:   &now,
		UpdatedAt:   &now,
	}
	s.capture(routeCreate, id, fields, draft.Images)

	s.mu.Lock()
	s.houses = append(s.houses, rec)
	s.mu.Unlock()

	s.logger.Info("Report created", "id", id, "images", len(rec.Images))
	writeJSON(w, http.StatusCreated, map[string]any{"house": rec})
}

func (s *server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	draft, fields, err := parseForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := draft.ValidateUpdate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		writeError(w, http.StatusNotFound, "House not found")
		return
	}
	s.capture(routeUpdate, id, fields, draft.Images)

	rec := &s.houses[i]
	apply(rec, draft)
	rec.Images = append(rec.Images, s.imageURIs(id, len(rec.Images), draft.Images)...)
	now := time.Now().UTC()
	rec.UpdatedAt = &now

	writeJSON(w, http.StatusOK, map[string]any{"house": rec.Clone()})
}

func (s *server) handleReplaceImages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	draft, _, err := parseForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(draft.Images) == 0 {
		writeError(w, http.StatusBadRequest, "At least one image is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		writeError(w, http.StatusNotFound, "House not found")
		return
	}
	s.capture(routeReplaceImages, id, nil, draft.Images)

	rec := &s.houses[i]
	rec.Images = s.imageURIs(id, 0, draft.Images)
	now := time.Now().UTC()
	rec.UpdatedAt = &now

	writeJSON(w, http.StatusOK, map[string]any{"house": rec.Clone()})
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		writeError(w, http.StatusNotFound, "House not found")
		return
	}
	s.capture(routeDelete, id, nil, nil)
	s.houses = append(s.houses[:i], s.houses[i+1:]...)
	writeJSON(w, http.StatusOK, map[string]string{"message": "House deleted"})
}

// indexOf must be called with s.mu held.
func (s *server) indexOf(id string) int {
	for i, h := range s.houses {
		if h.ID == id {
			return i
		}
	}
	return -1
}

func (s *server) imageURIs(id string, offset int, images []report.Attachment) []string {
	uris := make([]string, 0, len(images))
	for i, img := range images {
		uris = append(uris, fmt.Sprintf("%s/uploads/%s/%d-%s", s.baseURL, id, offset+i, img.Filename))
	}
	return uris
}

func (s *server) capture(route, id string, fields map[string]string, images []report.Attachment) {
	var names []string
	for _, img := range images {
		names = append(names, img.Filename)
	}
	s.requestsMu.Lock()
	defer s.requestsMu.Unlock()
	s.requests = append(s.requests, capturedRequest{
		Route:     route,
		ID:        id,
		Fields:    fields,
		Images:    names,
		Timestamp: time.Now().UnixMilli(),
	})
}

// parseForm reads a multipart report form into a draft. The raw scalar
// fields are returned for request capture.
func parseForm(r *http.Request) (report.Draft, map[string]string, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return report.Draft{}, nil, fmt.Errorf("invalid form: %w", err)
	}

	fields := make(map[string]string)
	for name, values := range r.MultipartForm.Value {
		if len(values) > 0 {
			fields[name] = values[0]
		}
	}

	damageTime, err := report.ParseTime(fields[report.FieldDamageTime])
	if err != nil {
		return report.Draft{}, nil, err
	}
	draft := report.Draft{
		Location:    fields[report.FieldLocation],
		Size:        fields[report.FieldSize],
		Description: fields[report.FieldDescription],
		DamageTime:  damageTime,
		Category:    report.Category(strings.ToLower(fields[report.FieldCategory])),
		ReportedBy:  fields[report.FieldReportedBy],
		Contact:     fields[report.FieldContact],
	}

	for _, fh := range r.MultipartForm.File[report.FieldImages] {
		draft.Images = append(draft.Images, report.Attachment{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
		})
	}
	return draft, fields, nil
}

// apply copies the set fields of d onto rec.
func apply(rec *report.Record, d report.Draft) {
	if d.Location != "" {
		rec.Location = d.Location
	}
	if d.Size != "" {
		rec.Size = d.Size
	}
	if d.Description != "" {
		rec.Description = d.Description
	}
	if !d.DamageTime.IsZero() {
		rec.DamageTime = d.DamageTime
	}
	if d.Category != "" {
		rec.Category = d.Category
	}
	if d.ReportedBy != "" {
		rec.ReportedBy = d.ReportedBy
	}
	if d.Contact != "" {
		rec.Contact = d.Contact
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// loadFixtures reads every *.json file in dir, in name order. A file holds
// one report or an array of them.
func loadFixtures(dir string) ([]report.Record, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var out []report.Record
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		trimmed := strings.TrimSpace(string(data))
		if strings.HasPrefix(trimmed, "[") {
			var batch []report.Record
			if err := json.Unmarshal(data, &batch); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			out = append(out, batch...)
			continue
		}

		var rec report.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		out = append(out, rec)
	}

	for i := range out {
		if out[i].ID == "" {
			out[i].ID = uuid.NewString()
		}
		if out[i].Images == nil {
			out[i].Images = []string{}
		}
	}
	return out, nil
}
