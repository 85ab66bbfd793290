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
	"testing"

	"reel/internal/registry"
)

func TestRegisterAll(t *testing.T) {
	reg := registry.New()
	RegisterAll(reg, testRunner(&fakeExec{}))

	want := []string{
		"image-convert",
		"image-compress",
		"image-bg-remove",
		"image-to-pdf",
		"video-convert",
		"video-compress",
		"video-trim",
		"video-thumbnail",
		"video-to-gif",
		"video-bg-remove",
		"audio-convert",
		"audio-extract",
		"audio-trim",
		"pdf-merge",
		"pdf-split",
		"pdf-to-image",
		"pdf-extract-text",
	}
	list := reg.List()
	if len(list) != len(want) {
		t.Fatalf("registered %d processors, want %d", len(list), len(want))
	}
	for i, desc := range list {
		if desc.ID != want[i] {
			t.Fatalf("processor %d = %q, want %q", i, desc.ID, want[i])
		}
		if desc.Label == "" || desc.Description == "" {
			t.Fatalf("%s missing label or description", desc.ID)
		}
		if len(desc.AcceptedExtensions) == 0 {
			t.Fatalf("%s accepts no extensions", desc.ID)
		}
	}

	multi := map[string]bool{"image-to-pdf": true, "pdf-merge": true}
	for _, desc := range list {
		if desc.AcceptsMultipleFiles != multi[desc.ID] {
			t.Fatalf("%s accepts_multiple_files = %v", desc.ID, desc.AcceptsMultipleFiles)
		}
	}
}
