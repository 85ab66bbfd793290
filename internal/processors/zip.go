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

package processors

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// writeZip bundles files into an archive at dest, flat under their base
// names. method is zip.Deflate for documents; already-compressed frame
// sequences use zip.Store.
func writeZip(dest string, files []string, method uint16) (err error) {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(f)
	for _, path := range files {
		if err := addZipEntry(zw, path, method); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func addZipEntry(zw *zip.Writer, path string, method uint16) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer src.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   filepath.Base(path),
		Method: method,
	})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("archive %s: %w", filepath.Base(path), err)
	}
	return nil
}
