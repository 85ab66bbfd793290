// Reel is a local media-processing job server.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// End-to-end handler tests over httptest with a stubbed tool runner:
// fake tools write the output files their argv names, so jobs complete
// without ffmpeg, mutool, or rembg installed.

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reel/internal/api"
	"reel/internal/jobs"
	"reel/internal/processors"
	"reel/internal/registry"
	"reel/internal/store"
	"reel/internal/workers"
)

// --------------- Harness ---------------

type env struct {
	ts      *httptest.Server
	manager *jobs.Manager
	files   *store.Store
}

// newEnv starts a server with the full processor catalog and a fake
// tool runner.
func newEnv(t *testing.T, reapMaxAge time.Duration) *env {
	t.Helper()
	reg := registry.New()
	runner := &processors.Runner{Pool: workers.New(2), Exec: writeOutputExec}
	processors.RegisterAll(reg, runner)
	return newEnvWith(t, reg, reapMaxAge, 0)
}

// newEnvWith starts a server over the given registry. A zero
// streamTimeout keeps the default.
func newEnvWith(t *testing.T, reg *registry.Registry, reapMaxAge, streamTimeout time.Duration) *env {
	t.Helper()
	manager := jobs.NewManager(nil)
	files := store.New(t.TempDir())
	reaper := jobs.NewReaper(manager, files, jobs.ReaperConfig{MaxAge: reapMaxAge}, nil)

	a := api.New(manager, reg, files, reaper, nil)
	a.StreamTimeout = streamTimeout

	ts := httptest.NewServer(a.Router())
	t.Cleanup(ts.Close)
	return &env{ts: ts, manager: manager, files: files}
}

// scriptedRegistry holds a single "steps" processor whose behavior the
// test controls directly.
func scriptedRegistry(t *testing.T, run registry.ProcessFunc) *registry.Registry {
	t.Helper()
	reg := registry.New()
	reg.Register(registry.Descriptor{
		ID:                 "steps",
		Label:              "Scripted Steps",
		Description:        "Test processor with scripted behavior.",
		AcceptedExtensions: []string{".dat"},
	}, run)
	return reg
}

// writeOutputExec mimics the real tools far enough for processors to
// succeed: it creates the output file named by -o or by the trailing
// argument. Existing files (tool inputs) are left alone.
func writeOutputExec(_ context.Context, name string, args ...string) ([]byte, error) {
	out := ""
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "-o" {
			out = args[i+1]
		}
	}
	if out == "" && len(args) > 0 {
		if last := args[len(args)-1]; !strings.HasPrefix(last, "-") {
			out = last
		}
	}
	if out == "" || strings.Contains(out, "%") {
		return nil, nil
	}
	if _, err := os.Stat(out); err == nil {
		return nil, nil
	}
	return nil, os.WriteFile(out, []byte(name+" output"), 0o644)
}

// --------------- Response shapes ---------------

type jobResp struct {
	Type             string  `json:"type"`
	ID               string  `json:"id"`
	ProcessorID      string  `json:"processor_id"`
	OriginalFilename string  `json:"original_filename"`
	Status           string  `json:"status"`
	Progress         float64 `json:"progress"`
	Message          string  `json:"message"`
	ResultExtension  string  `json:"result_extension"`
	Error            *string `json:"error"`
}

type batchResp struct {
	Type        string    `json:"type"`
	ID          string    `json:"id"`
	JobIDs      []string  `json:"job_ids"`
	ProcessorID string    `json:"processor_id"`
	Jobs        []jobResp `json:"jobs"`
}

type errResp struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// --------------- Request helpers ---------------

type filePart struct {
	field   string
	name    string
	content string
}

func multipartBody(t *testing.T, parts []filePart, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := mw.CreateFormFile(p.field, p.name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(p.content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func submitFields(processorID, options string) map[string]string {
	fields := map[string]string{"processor_id": processorID}
	if options != "" {
		fields["options"] = options
	}
	return fields
}

func submitSingle(t *testing.T, ts *httptest.Server, filename, processorID, options string) *http.Response {
	t.Helper()
	body, ctype := multipartBody(t,
		[]filePart{{field: "file", name: filename, content: "payload of " + filename}},
		submitFields(processorID, options))
	resp, err := http.Post(ts.URL+"/jobs", ctype, body)
	require.NoError(t, err)
	return resp
}

func submitBatch(t *testing.T, ts *httptest.Server, names []string, processorID, options string) *http.Response {
	t.Helper()
	parts := make([]filePart, 0, len(names))
	for _, n := range names {
		parts = append(parts, filePart{field: "files", name: n, content: "payload of " + n})
	}
	body, ctype := multipartBody(t, parts, submitFields(processorID, options))
	resp, err := http.Post(ts.URL+"/jobs/batch", ctype, body)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func submitOK(t *testing.T, ts *httptest.Server, filename, processorID, options string) jobResp {
	t.Helper()
	resp := submitSingle(t, ts, filename, processorID, options)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var jr jobResp
	decodeBody(t, resp, &jr)
	return jr
}

func submitErr(t *testing.T, resp *http.Response, wantStatus int) errResp {
	t.Helper()
	require.Equal(t, wantStatus, resp.StatusCode)
	var er errResp
	decodeBody(t, resp, &er)
	return er
}

// waitForStatus polls the snapshot endpoint until the job reaches the
// wanted status.
func waitForStatus(t *testing.T, ts *httptest.Server, id, want string) jobResp {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/jobs/" + id)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var jr jobResp
		decodeBody(t, resp, &jr)
		if jr.Status == want {
			return jr
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck at %q (message %q), want %q", id, jr.Status, jr.Message, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// --------------- Single submission ---------------

func TestSubmitAndDownloadResult(t *testing.T) {
	env := newEnv(t, 0)

	jr := submitOK(t, env.ts, "photo.jpg", "image-convert", "")
	assert.Len(t, jr.ID, 12)
	assert.Equal(t, "pending", jr.Status)
	assert.Equal(t, "Queued", jr.Message)
	assert.Equal(t, "image-convert", jr.ProcessorID)
	assert.Equal(t, "photo.jpg", jr.OriginalFilename)
	assert.Nil(t, jr.Error)

	done := waitForStatus(t, env.ts, jr.ID, "completed")
	assert.Equal(t, float64(100), done.Progress)
	assert.Equal(t, "Done!", done.Message)
	assert.Equal(t, ".png", done.ResultExtension)

	resp, err := http.Get(env.ts.URL + "/jobs/" + jr.ID + "/result")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="photo.png"`, resp.Header.Get("Content-Disposition"))
}

func TestSubmitUnknownProcessor(t *testing.T) {
	env := newEnv(t, 0)

	resp := submitSingle(t, env.ts, "track.mp3", "mp3-to-midi", "")
	er := submitErr(t, resp, http.StatusBadRequest)
	assert.Equal(t, "Unknown processor: mp3-to-midi", er.Message)

	jobCount, batchCount := env.manager.Counts()
	assert.Zero(t, jobCount)
	assert.Zero(t, batchCount)
}

func TestSubmitRejectsExtension(t *testing.T) {
	env := newEnv(t, 0)

	resp := submitSingle(t, env.ts, "notes.txt", "image-convert", "")
	er := submitErr(t, resp, http.StatusBadRequest)
	assert.Equal(t, "File type .txt not accepted. Expected: .png, .jpg, .jpeg, .webp, .bmp, .tiff, .gif", er.Message)

	jobCount, _ := env.manager.Counts()
	assert.Zero(t, jobCount)
}

func TestSubmitRejectsBadOptions(t *testing.T) {
	env := newEnv(t, 0)

	cases := []struct {
		name    string
		options string
		message string
	}{
		{"malformed json", `{"format":`, "Invalid options JSON"},
		{"non-object json", `[1,2]`, "Invalid options JSON"},
		{"dimension out of range", `{"resize": 4}`, "Dimension 'resize' must be between 16 and 7680, got 4"},
		{"dimension not a number", `{"resize": "abc"}`, "Invalid dimension value for 'resize': abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := submitSingle(t, env.ts, "photo.jpg", "image-convert", tc.options)
			er := submitErr(t, resp, http.StatusBadRequest)
			assert.Equal(t, tc.message, er.Message)
		})
	}

	jobCount, _ := env.manager.Counts()
	assert.Zero(t, jobCount)
}

func TestSubmitRequiresFile(t *testing.T) {
	env := newEnv(t, 0)

	body, ctype := multipartBody(t, nil, submitFields("image-convert", ""))
	resp, err := http.Post(env.ts.URL+"/jobs", ctype, body)
	require.NoError(t, err)
	er := submitErr(t, resp, http.StatusBadRequest)
	assert.Contains(t, er.Message, "file")
}

// --------------- Failure paths ---------------

func TestJobFailureSurfacesInSnapshot(t *testing.T) {
	run := func(context.Context, string, string, registry.ProgressFunc, map[string]any, []string) (string, error) {
		return "", errors.New("ffmpeg: corrupt input stream")
	}
	env := newEnvWith(t, scriptedRegistry(t, run), 0, 0)

	jr := submitOK(t, env.ts, "input.dat", "steps", "")
	failed := waitForStatus(t, env.ts, jr.ID, "failed")
	assert.Equal(t, "Error: ffmpeg: corrupt input stream", failed.Message)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "ffmpeg: corrupt input stream", *failed.Error)

	resp, err := http.Get(env.ts.URL + "/jobs/" + jr.ID + "/result")
	require.NoError(t, err)
	er := submitErr(t, resp, http.StatusBadRequest)
	assert.Equal(t, "Result not ready", er.Message)
}

func TestJobPanicIsRecovered(t *testing.T) {
	run := func(context.Context, string, string, registry.ProgressFunc, map[string]any, []string) (string, error) {
		panic("kaboom")
	}
	env := newEnvWith(t, scriptedRegistry(t, run), 0, 0)

	jr := submitOK(t, env.ts, "input.dat", "steps", "")
	failed := waitForStatus(t, env.ts, jr.ID, "failed")
	require.NotNil(t, failed.Error)
	assert.Equal(t, "internal error: kaboom", *failed.Error)
}

func TestResultNotReadyWhileRunning(t *testing.T) {
	release := make(chan struct{})
	run := func(ctx context.Context, _, outputDir string, _ registry.ProgressFunc, _ map[string]any, _ []string) (string, error) {
		<-release
		out := filepath.Join(outputDir, "output.dat")
		return out, os.WriteFile(out, []byte("done"), 0o644)
	}
	env := newEnvWith(t, scriptedRegistry(t, run), 0, 0)

	jr := submitOK(t, env.ts, "input.dat", "steps", "")

	resp, err := http.Get(env.ts.URL + "/jobs/" + jr.ID + "/result")
	require.NoError(t, err)
	er := submitErr(t, resp, http.StatusBadRequest)
	assert.Equal(t, "Result not ready", er.Message)

	close(release)
	waitForStatus(t, env.ts, jr.ID, "completed")
	resp, err = http.Get(env.ts.URL + "/jobs/" + jr.ID + "/result")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJobAndResultNotFound(t *testing.T) {
	env := newEnv(t, 0)

	for _, path := range []string{"/jobs/000000000000", "/jobs/000000000000/result"} {
		resp, err := http.Get(env.ts.URL + path)
		require.NoError(t, err)
		er := submitErr(t, resp, http.StatusNotFound)
		assert.Equal(t, "Job not found", er.Message, "path %s", path)
	}
}

// --------------- Expiry ---------------

func TestCleanupRemovesExpiredJobs(t *testing.T) {
	env := newEnv(t, time.Nanosecond)

	jr := submitOK(t, env.ts, "photo.jpg", "image-convert", "")
	waitForStatus(t, env.ts, jr.ID, "completed")

	req, err := http.NewRequest(http.MethodDelete, env.ts.URL+"/cleanup", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var out map[string]int
	decodeBody(t, resp, &out)
	assert.Equal(t, 1, out["removed"])

	snap, err := http.Get(env.ts.URL + "/jobs/" + jr.ID)
	require.NoError(t, err)
	er := submitErr(t, snap, http.StatusNotFound)
	assert.Equal(t, "Job not found", er.Message)

	_, statErr := os.Stat(filepath.Join(env.files.Root, "jobs", jr.ID))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(env.files.Root, "uploads", jr.ID))
	assert.True(t, os.IsNotExist(statErr))
}

// --------------- Admin surface ---------------

func TestListProcessors(t *testing.T) {
	env := newEnv(t, 0)

	resp, err := http.Get(env.ts.URL + "/processors")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []map[string]any
	decodeBody(t, resp, &list)
	require.Len(t, list, 17)
	assert.Equal(t, "image-convert", list[0]["id"])

	byID := make(map[string]map[string]any, len(list))
	for _, p := range list {
		assert.NotEmpty(t, p["label"], "processor %v", p["id"])
		assert.NotEmpty(t, p["accepted_extensions"], "processor %v", p["id"])
		byID[p["id"].(string)] = p
	}
	assert.Equal(t, true, byID["pdf-merge"]["accepts_multiple_files"])
	assert.Equal(t, false, byID["image-convert"]["accepts_multiple_files"])
}

func TestHealth(t *testing.T) {
	env := newEnv(t, 0)

	resp, err := http.Get(env.ts.URL + "/health")
	require.NoError(t, err)
	var out map[string]string
	decodeBody(t, resp, &out)
	assert.Equal(t, map[string]string{"status": "ok"}, out)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newEnv(t, 0)

	resp, err := http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "reel_jobs_subscribers_active")
}

func TestSecurityHeadersApplied(t *testing.T) {
	env := newEnv(t, 0)

	resp, err := http.Get(env.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}
