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

package api

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"reel/internal/registry"
	"reel/pkg/media"
)

// maxUploadMemory is the in-memory budget for multipart parsing; larger
// uploads spill to temp files.
const maxUploadMemory = 32 << 20

// jobSubmitResponse tags a job snapshot for batch submissions that
// collapsed into a single combining job.
type jobSubmitResponse struct {
	Type string `json:"type"`
	media.JobSnapshot
}

// batchSubmitResponse tags a batch snapshot for fan-out submissions.
type batchSubmitResponse struct {
	Type string `json:"type"`
	media.BatchSnapshot
}

// batchDetailResponse is the batch snapshot plus the current snapshot of
// every member job still known to the manager.
type batchDetailResponse struct {
	media.BatchSnapshot
	Jobs []media.JobSnapshot `json:"jobs"`
}

// --------------- POST /jobs ---------------

func (a *API) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonError{
			Error:   "invalid_request",
			Message: "multipart field 'file' is required",
		})
		return
	}
	defer file.Close()

	processorID := r.FormValue("processor_id")
	desc, run, ok := a.Registry.Get(processorID)
	if !ok {
		writeJSON(w, http.StatusBadRequest, jsonError{
			Error:   "invalid_request",
			Message: fmt.Sprintf("Unknown processor: %s", processorID),
		})
		return
	}

	filename := uploadName(header)
	ext := registry.ExtensionOf(filename)
	if !desc.Accepts(ext) {
		writeJSON(w, http.StatusBadRequest, jsonError{
			Error:   "invalid_request",
			Message: fmt.Sprintf("File type %s not accepted. Expected: %s", ext, strings.Join(desc.AcceptedExtensions, ", ")),
			Details: desc.AcceptedExtensions,
		})
		return
	}

	options, err := parseOptions(r.FormValue("options"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonError{
			Error:   "invalid_request",
			Message: "Invalid options JSON",
		})
		return
	}
	if err := registry.ValidateOptions(desc, options); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonError{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	job := a.Jobs.Create(processorID, filename)
	inputPath, err := a.Files.SaveUpload(job.ID, filename, file)
	if err != nil {
		a.logf("job %s: store upload: %v", job.ID, err)
		a.discardJobs(job.ID)
		writeJSON(w, http.StatusInternalServerError, jsonError{
			Error:   "server_error",
			Message: "failed to store upload",
		})
		return
	}

	go a.runJob(job.ID, processorID, run, inputPath, []string{inputPath}, options)

	writeJSON(w, http.StatusOK, job.Snapshot())
}

// --------------- POST /jobs/batch ---------------

func (a *API) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonError{
			Error:   "invalid_request",
			Message: "multipart form could not be parsed",
		})
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, jsonError{
			Error:   "invalid_request",
			Message: "multipart field 'files' is required",
		})
		return
	}

	processorID := r.FormValue("processor_id")
	desc, run, ok := a.Registry.Get(processorID)
	if !ok {
		writeJSON(w, http.StatusBadRequest, jsonError{
			Error:   "invalid_request",
			Message: fmt.Sprintf("Unknown processor: %s", processorID),
		})
		return
	}

	options, err := parseOptions(r.FormValue("options"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonError{
			Error:   "invalid_request",
			Message: "Invalid options JSON",
		})
		return
	}
	if err := registry.ValidateOptions(desc, options); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonError{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	for _, fh := range files {
		name := uploadName(fh)
		ext := registry.ExtensionOf(name)
		if !desc.Accepts(ext) {
			writeJSON(w, http.StatusBadRequest, jsonError{
				Error:   "invalid_request",
				Message: fmt.Sprintf("File type %s not accepted for '%s'. Expected: %s", ext, name, strings.Join(desc.AcceptedExtensions, ", ")),
				Details: desc.AcceptedExtensions,
			})
			return
		}
	}

	if desc.AcceptsMultipleFiles {
		a.submitCombined(w, processorID, run, files, options)
		return
	}
	a.submitFanOut(w, processorID, run, files, options)
}

// submitCombined feeds every file to one job; the processor sees the
// full input list and produces a single result.
func (a *API) submitCombined(w http.ResponseWriter, processorID string, run registry.ProcessFunc, files []*multipart.FileHeader, options map[string]any) {
	job := a.Jobs.Create(processorID, fmt.Sprintf("%d_files", len(files)))

	inputs := make([]string, 0, len(files))
	for _, fh := range files {
		path, err := a.saveUpload(job.ID, fh)
		if err != nil {
			a.logf("job %s: store upload: %v", job.ID, err)
			a.discardJobs(job.ID)
			writeJSON(w, http.StatusInternalServerError, jsonError{
				Error:   "server_error",
				Message: "failed to store upload",
			})
			return
		}
		inputs = append(inputs, path)
	}

	go a.runJob(job.ID, processorID, run, inputs[0], inputs, options)

	writeJSON(w, http.StatusOK, jobSubmitResponse{Type: "job", JobSnapshot: job.Snapshot()})
}

// submitFanOut creates one job per file and groups them under a batch.
// All uploads are stored before any job starts, so a storage failure
// rolls back cleanly with nothing in flight.
func (a *API) submitFanOut(w http.ResponseWriter, processorID string, run registry.ProcessFunc, files []*multipart.FileHeader, options map[string]any) {
	type pendingRun struct {
		id    string
		input string
	}

	ids := make([]string, 0, len(files))
	runs := make([]pendingRun, 0, len(files))
	for _, fh := range files {
		job := a.Jobs.Create(processorID, uploadName(fh))
		ids = append(ids, job.ID)
		path, err := a.saveUpload(job.ID, fh)
		if err != nil {
			a.logf("job %s: store upload: %v", job.ID, err)
			a.discardJobs(ids...)
			writeJSON(w, http.StatusInternalServerError, jsonError{
				Error:   "server_error",
				Message: "failed to store upload",
			})
			return
		}
		runs = append(runs, pendingRun{id: job.ID, input: path})
	}

	batch := a.Jobs.CreateBatch(processorID, ids)
	for _, pr := range runs {
		go a.runJob(pr.id, processorID, run, pr.input, []string{pr.input}, options)
	}

	writeJSON(w, http.StatusOK, batchSubmitResponse{Type: "batch", BatchSnapshot: batch.Snapshot()})
}

// --------------- GET /jobs/{id} ---------------

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, ok := a.Jobs.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, jsonError{
			Error:   "not_found",
			Message: "Job not found",
		})
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

// --------------- GET /jobs/batch/{id} ---------------

func (a *API) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	batch, ok := a.Jobs.GetBatch(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, jsonError{
			Error:   "not_found",
			Message: "Batch not found",
		})
		return
	}

	resp := batchDetailResponse{
		BatchSnapshot: batch.Snapshot(),
		Jobs:          make([]media.JobSnapshot, 0, len(batch.JobIDs)),
	}
	for _, jobID := range batch.JobIDs {
		if job, ok := a.Jobs.Get(jobID); ok {
			resp.Jobs = append(resp.Jobs, job.Snapshot())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --------------- Job task ---------------

// runJob drives one processor execution to its terminal state. It runs
// on the server-lifetime context so the job never dies with the client
// connection that submitted it.
func (a *API) runJob(jobID, processorID string, run registry.ProcessFunc, input string, inputs []string, options map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logf("job %s: processor %s panicked: %v", jobID, processorID, rec)
			a.Jobs.Fail(jobID, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	if !a.Jobs.Start(jobID) {
		// Removed before it ran; nothing to do.
		return
	}

	outputDir, err := a.Files.JobDir(jobID)
	if err != nil {
		a.Jobs.Fail(jobID, err.Error())
		return
	}

	onProgress := func(percent float64, message string) {
		a.Jobs.UpdateProgress(jobID, percent, message)
	}

	result, err := run(a.taskContext(), input, outputDir, onProgress, options, inputs)
	if err != nil {
		a.Jobs.Fail(jobID, err.Error())
		return
	}
	a.Jobs.Complete(jobID, result)
}

// --------------- Helpers ---------------

// uploadName returns the client-supplied filename, or a placeholder when
// the multipart part carries none.
func uploadName(fh *multipart.FileHeader) string {
	if fh == nil || fh.Filename == "" {
		return "upload"
	}
	return fh.Filename
}

func (a *API) saveUpload(jobID string, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	return a.Files.SaveUpload(jobID, uploadName(fh), f)
}

// discardJobs drops half-created jobs after a storage failure.
func (a *API) discardJobs(ids ...string) {
	for _, id := range ids {
		a.Jobs.RemoveJob(id)
		if err := a.Files.Cleanup(id); err != nil {
			a.logf("job %s: cleanup: %v", id, err)
		}
	}
}

// parseOptions decodes the options form field. An empty field means no
// options; anything else must be a JSON object.
func parseOptions(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var options map[string]any
	if err := json.Unmarshal([]byte(raw), &options); err != nil {
		return nil, err
	}
	if options == nil {
		options = map[string]any{}
	}
	return options, nil
}
