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
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"reel/pkg/media"
)

// mediaTypes maps result extensions to their download content type.
// Anything unlisted falls back to application/octet-stream.
var mediaTypes = map[string]string{
	".webp": "image/webp",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".zip":  "application/zip",
	".mp3":  "audio/mpeg",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".json": "application/json",
	".m4a":  "audio/mp4",
	".wma":  "audio/x-ms-wma",
}

// --------------- GET /jobs/{id}/result ---------------

func (a *API) handleJobResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, ok := a.Jobs.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, jsonError{
			Error:   "not_found",
			Message: "Job not found",
		})
		return
	}
	if job.Status != media.StatusCompleted || job.ResultPath == "" {
		writeJSON(w, http.StatusBadRequest, jsonError{
			Error:   "invalid_request",
			Message: "Result not ready",
		})
		return
	}

	ext := job.ResultExtension()
	ctype, ok := mediaTypes[ext]
	if !ok {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadFilename(job.OriginalFilename, ext)))
	http.ServeFile(w, r, job.ResultPath)
}

// downloadFilename names the download after the uploaded file with the
// result's extension swapped in.
func downloadFilename(original, resultExt string) string {
	base := filepath.Base(original)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	return stem + resultExt
}
