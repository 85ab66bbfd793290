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

// Package store manages the per-job scratch directories: uploaded inputs
// under uploads/<job_id>/ and working output under jobs/<job_id>/. The
// layout is stable for the reaper but never part of the wire contract.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store places job files beneath a single root directory.
type Store struct {
	Root string
}

// New returns a Store rooted at dir. Directories are created lazily.
func New(dir string) *Store {
	return &Store{Root: dir}
}

// SaveUpload persists the reader's contents as uploads/<jobID>/<filename>
// and returns the absolute path. The filename is reduced to its base name;
// within one job the caller submits distinct names.
func (s *Store) SaveUpload(jobID, filename string, r io.Reader) (string, error) {
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "upload"
	}
	dir := filepath.Join(s.Root, "uploads", jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close upload: %w", err)
	}
	return filepath.Abs(path)
}

// JobDir returns the absolute working directory jobs/<jobID>/, creating it
// if absent. Processors may fill it freely; the final artifact lives here.
func (s *Store) JobDir(jobID string) (string, error) {
	dir := filepath.Join(s.Root, "jobs", jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	return filepath.Abs(dir)
}

// Cleanup removes the upload and working directories for a job. Both are
// attempted; the first error is reported. Missing directories are not an
// error, so Cleanup is idempotent.
func (s *Store) Cleanup(jobID string) error {
	uploadErr := os.RemoveAll(filepath.Join(s.Root, "uploads", jobID))
	jobErr := os.RemoveAll(filepath.Join(s.Root, "jobs", jobID))
	if uploadErr != nil {
		return fmt.Errorf("remove uploads: %w", uploadErr)
	}
	if jobErr != nil {
		return fmt.Errorf("remove job dir: %w", jobErr)
	}
	return nil
}
