package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/reliefdesk/report"
	"github.com/c360studio/reliefdesk/repository"
)

func TestLoadFixtures_ArrayAndSingle(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "01-batch.json", `[
		{"_id":"a","houseLocation":"North Camp","houseSize":"tent","damageDescription":"Flooded","damageTime":"2024-06-01T08:00:00Z","damageType":"flood","reportedBy":"Lena"},
		{"houseLocation":"South Camp","houseSize":"hut","damageDescription":"Roof gone","damageTime":"2024-06-02T08:00:00Z","damageType":"storm","reportedBy":"Kofi","images":["x.jpg"]}
	]`)
	writeFixture(t, dir, "02-single.json", `{"_id":"c","houseLocation":"Ridge","houseSize":"house","damageDescription":"Cracks","damageTime":"2024-06-03T08:00","damageType":"earthquake","reportedBy":"Ana"}`)
	writeFixture(t, dir, "notes.txt", "ignored")

	records, err := loadFixtures(dir)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "a", records[0].ID)
	assert.NotEmpty(t, records[1].ID, "missing id is assigned")
	assert.Equal(t, []string{"x.jpg"}, records[1].Images)
	assert.Equal(t, "c", records[2].ID)
	assert.NotNil(t, records[0].Images)
}

func TestLoadFixtures_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "bad.json", `{not json`)

	_, err := loadFixtures(dir)
	assert.Error(t, err)
}

func TestClientRoundTrip(t *testing.T) {
	_, client, srv := startServer(t)
	ctx := context.Background()

	records, err := client.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	created, err := client.Create(ctx, report.Draft{
		Location:    "Market Square",
		Size:        "shop",
		Description: "Shutters torn off",
		DamageTime:  time.Date(2024, 6, 8, 9, 30, 0, 0, time.UTC),
		Category:    report.CategoryStorm,
		ReportedBy:  "Jun",
		Images: []report.Attachment{
			{Filename: "front.jpg", ContentType: "image/jpeg", Data: []byte("front")},
			{Filename: "side.jpg", ContentType: "image/jpeg", Data: []byte("side")},
		},
	})
	require.NoError(t, err)
	require.Len(t, created.Images, 2)
	assert.Contains(t, created.Images[0], "front.jpg")
	assert.Contains(t, created.Images[1], "side.jpg")

	updated, err := client.Update(ctx, created.ID, report.Draft{
		Description: "Shutters and sign torn off",
		Images:      []report.Attachment{{Filename: "sign.jpg", Data: []byte("sign")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Shutters and sign torn off", updated.Description)
	assert.Equal(t, "Market Square", updated.Location)
	assert.Len(t, updated.Images, 3, "update adds images")

	replaced, err := client.ReplaceMedia(ctx, created.ID, []report.Attachment{{Filename: "after.jpg", Data: []byte("after")}})
	require.NoError(t, err)
	require.Len(t, replaced.Images, 1)
	assert.Contains(t, replaced.Images[0], "after.jpg")

	got, err := client.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, replaced.Images, got.Images)

	require.NoError(t, client.Delete(ctx, created.ID))
	err = client.Delete(ctx, created.ID)
	var rerr *repository.Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, repository.KindNotFound, rerr.Kind)
	assert.Equal(t, "House not found", rerr.Message)

	var stats struct {
		TotalCalls   int64            `json:"total_calls"`
		CallsByRoute map[string]int64 `json:"calls_by_route"`
		Houses       int              `json:"houses"`
	}
	getJSON(t, srv.URL+"/stats", &stats)
	assert.Equal(t, int64(2), stats.CallsByRoute[routeDelete])
	assert.Equal(t, 1, stats.Houses)

	var captured struct {
		Requests []capturedRequest `json:"requests"`
	}
	getJSON(t, srv.URL+"/requests?route="+routeCreate, &captured)
	require.Len(t, captured.Requests, 1)
	assert.Equal(t, []string{"front.jpg", "side.jpg"}, captured.Requests[0].Images)
	assert.Equal(t, "storm", captured.Requests[0].Fields[report.FieldCategory])
}

func TestCreateRejectsInvalidForm(t *testing.T) {
	_, _, srv := startServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/houses", bytes.NewReader(nil))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFaultInjection(t *testing.T) {
	_, client, srv := startServer(t)
	ctx := context.Background()

	body := `{"route":"update","status":503,"message":"Database unavailable"}`
	resp, err := http.Post(srv.URL+"/faults", "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = client.Update(ctx, "seed-1", report.Draft{Size: "larger"})
	var rerr *repository.Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, repository.KindServer, rerr.Kind)
	assert.Equal(t, "Database unavailable", rerr.Message)

	// Fault is spent after one call.
	rec, err := client.Update(ctx, "seed-1", report.Draft{Size: "larger"})
	require.NoError(t, err)
	assert.Equal(t, "larger", rec.Size)
}

func TestFaultInjection_UnknownRoute(t *testing.T) {
	_, _, srv := startServer(t)

	resp, err := http.Post(srv.URL+"/faults", "application/json", bytes.NewReader([]byte(`{"route":"nope"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	_, _, srv := startServer(t)

	var got map[string]string
	getJSON(t, srv.URL+"/health", &got)
	assert.Equal(t, "ok", got["status"])
}

func startServer(t *testing.T) (*server, *repository.Client, *httptest.Server) {
	t.Helper()
	seed := []report.Record{{
		ID:          "seed-1",
		Location:    "Old Mill",
		Size:        "barn",
		Description: "Wall collapsed",
		DamageTime:  time.Date(2024, 5, 30, 12, 0, 0, 0, time.UTC),
		Category:    report.CategoryEarthquake,
		ReportedBy:  "Ravi",
		Images:      []string{},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := newServer(seed, "http://mock.test", logger)
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)

	return s, repository.NewClient(srv.URL+"/api"), srv
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
