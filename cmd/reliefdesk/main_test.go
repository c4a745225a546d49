package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService is a minimal stand-in for the damage-report HTTP service.
type fakeService struct {
	mu      sync.Mutex
	houses  []map[string]any
	nextID  int
	uploads [][]string
}

func newFakeService(t *testing.T) (*fakeService, *httptest.Server) {
	t.Helper()
	recent := time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339)
	old := time.Now().UTC().Add(-30 * 24 * time.Hour).Format(time.RFC3339)
	svc := &fakeService{
		nextID: 10,
		houses: []map[string]any{
			{"_id": "1", "houseLocation": "12 Canal Road", "houseSize": "2 storey", "damageDescription": "Roof burnt", "damageTime": recent, "damageType": "fire", "reportedBy": "Ayesha", "images": []string{}},
			{"_id": "2", "houseLocation": "Hill Street", "houseSize": "bungalow", "damageDescription": "Trees down", "damageTime": old, "damageType": "storm", "reportedBy": "Bilal", "images": []string{}},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(svc.serve))
	t.Cleanup(srv.Close)
	return svc, srv
}

func (s *fakeService) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/api")
	switch {
	case r.Method == http.MethodGet && path == "/houses":
		_ = json.NewEncoder(w).Encode(s.houses)

	case r.Method == http.MethodPost && path == "/houses":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, `{"message":"bad form"}`, http.StatusBadRequest)
			return
		}
		s.nextID++
		h := map[string]any{"_id": fmt.Sprintf("%d", s.nextID)}
		for k, v := range r.MultipartForm.Value {
			h[k] = v[0]
		}
		var names []string
		for _, fh := range r.MultipartForm.File["images"] {
			names = append(names, fh.Filename)
		}
		s.uploads = append(s.uploads, names)
		h["images"] = names
		s.houses = append(s.houses, h)
		_ = json.NewEncoder(w).Encode(map[string]any{"house": h})

	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/houses/"):
		id := strings.TrimPrefix(path, "/houses/")
		for i, h := range s.houses {
			if h["_id"] == id {
				s.houses = append(s.houses[:i], s.houses[i+1:]...)
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"House not found"}`))

	default:
		http.NotFound(w, r)
	}
}

func run(t *testing.T, srv *httptest.Server, stdin string, args ...string) (string, error) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "reliefdesk.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log:\n  level: error\n"), 0o644))

	cmd := rootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", cfgPath, "--api-url", srv.URL + "/api"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestListAndFilter(t *testing.T) {
	_, srv := newFakeService(t)

	out, err := run(t, srv, "", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "12 Canal Road")
	assert.Contains(t, out, "Hill Street")

	out, err = run(t, srv, "", "list", "--category", "FIRE")
	require.NoError(t, err)
	assert.Contains(t, out, "12 Canal Road")
	assert.NotContains(t, out, "Hill Street")

	out, err = run(t, srv, "", "--json", "list", "--expr", "ageDays > 7")
	require.NoError(t, err)
	var records []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "2", records[0]["_id"])

	_, err = run(t, srv, "", "list", "--expr", "ageDays >")
	assert.Error(t, err)
}

func TestStats(t *testing.T) {
	_, srv := newFakeService(t)

	out, err := run(t, srv, "", "--json", "stats")
	require.NoError(t, err)

	var got struct {
		Total        int            `json:"total"`
		SevereCount  int            `json:"severe_count"`
		RecentCount  int            `json:"recent_count"`
		RecoveryRate int            `json:"recovery_rate"`
		ByCategory   map[string]int `json:"by_category"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 2, got.Total)
	assert.Equal(t, 1, got.SevereCount)
	assert.Equal(t, 1, got.RecentCount)
	assert.Equal(t, 50, got.RecoveryRate)
	assert.Equal(t, 1, got.ByCategory["storm"])
}

func TestShow(t *testing.T) {
	_, srv := newFakeService(t)

	out, err := run(t, srv, "", "show", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Hill Street")
	assert.Contains(t, out, "Bilal")
}

func TestCreateWithImages(t *testing.T) {
	svc, srv := newFakeService(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a-front.jpg"), []byte("front"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b-back.jpg"), []byte("back"), 0o644))

	out, err := run(t, srv, "", "create",
		"--location", "5 River Lane",
		"--size", "single storey",
		"--description", "Water up to the windows",
		"--time", "2024-06-08T09:30",
		"--category", "Flood",
		"--reporter", "Omar",
		"-i", filepath.Join(dir, "*.jpg"),
	)
	require.NoError(t, err)
	assert.Contains(t, out, "5 River Lane")

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.uploads, 1)
	assert.Equal(t, []string{"a-front.jpg", "b-back.jpg"}, svc.uploads[0])
	assert.Len(t, svc.houses, 3)
	assert.Equal(t, "flood", svc.houses[2]["damageType"])
}

func TestCreateValidation(t *testing.T) {
	svc, srv := newFakeService(t)

	_, err := run(t, srv, "", "create", "--location", "Somewhere")
	require.Error(t, err)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Len(t, svc.houses, 2, "invalid draft never reaches the service")
}

func TestDelete(t *testing.T) {
	svc, srv := newFakeService(t)

	out, err := run(t, srv, "n\n", "delete", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled")

	out, err = run(t, srv, "", "delete", "1", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1")

	svc.mu.Lock()
	assert.Len(t, svc.houses, 1)
	svc.mu.Unlock()

	_, err = run(t, srv, "", "delete", "1", "--yes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "House not found")
}

func TestVersion(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "reliefdesk version "+Version)
}
