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

// Package registry holds the processor descriptors and executors. It is
// populated once at startup and read-only afterwards, so lookups need no
// synchronization.
package registry

import (
	"context"
	"fmt"
	"strings"
)

// Option types recognized by the schema. The server validates only the
// dimension type; everything else passes through to the processor.
const (
	OptionNumber    = "number"
	OptionSelect    = "select"
	OptionText      = "text"
	OptionDimension = "dimension"
)

// Choice is one entry of a select option.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// OptionDef declares a single configurable option. The zero value of every
// optional field is omitted from JSON so each option serializes only the
// fields its type uses.
type OptionDef struct {
	ID      string `json:"id"`
	Label   string `json:"label,omitempty"`
	Type    string `json:"type"`
	Default any    `json:"default,omitempty"`

	// number and dimension
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Step *float64 `json:"step,omitempty"`

	// select
	Choices []Choice `json:"choices,omitempty"`

	// select and dimension
	Presets []any `json:"presets,omitempty"`

	// dimension
	AllowOriginal bool `json:"allow_original,omitempty"`

	// UI visibility hint; ignored by the server.
	ShowWhen map[string]any `json:"showWhen,omitempty"`
}

// Descriptor is the static, serializable description of a processor as
// served by GET /processors.
type Descriptor struct {
	ID                   string      `json:"id"`
	Label                string      `json:"label"`
	Description          string      `json:"description"`
	AcceptedExtensions   []string    `json:"accepted_extensions"`
	AcceptsMultipleFiles bool        `json:"accepts_multiple_files"`
	Options              []OptionDef `json:"options_schema"`
}

// Accepts reports whether ext (lowercase, leading dot) is accepted.
func (d Descriptor) Accepts(ext string) bool {
	for _, e := range d.AcceptedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// ProgressFunc reports processor progress. percent is in [0,100] and
// should be non-decreasing; message is a short human-readable phrase.
// Calls are synchronous: publication to subscribers completes before the
// call returns, which is what guarantees per-job event ordering.
type ProgressFunc func(percent float64, message string)

// ProcessFunc runs one processor over the uploaded input(s). input is the
// first uploaded file; inputs carries all of them in submission order for
// combining processors. The returned path must lie within outputDir.
type ProcessFunc func(ctx context.Context, input, outputDir string, onProgress ProgressFunc, options map[string]any, inputs []string) (string, error)

type entry struct {
	desc Descriptor
	run  ProcessFunc
}

// Registry maps processor ids to descriptors and executors. Register is
// startup-only; Get and List are safe for concurrent use afterwards.
type Registry struct {
	order   []string
	entries map[string]entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a processor. It panics on an empty or duplicate id since
// registration is a startup-time programming action, not a runtime input.
func (r *Registry) Register(desc Descriptor, run ProcessFunc) {
	if desc.ID == "" {
		panic("registry: descriptor with empty id")
	}
	if run == nil {
		panic(fmt.Sprintf("registry: processor %q registered without executor", desc.ID))
	}
	if _, exists := r.entries[desc.ID]; exists {
		panic(fmt.Sprintf("registry: duplicate processor id %q", desc.ID))
	}
	r.entries[desc.ID] = entry{desc: desc, run: run}
	r.order = append(r.order, desc.ID)
}

// Get looks up a processor by id.
func (r *Registry) Get(id string) (Descriptor, ProcessFunc, bool) {
	e, ok := r.entries[id]
	if !ok {
		return Descriptor{}, nil, false
	}
	return e.desc, e.run, true
}

// List returns all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].desc)
	}
	return out
}

// ExtensionOf derives the extension used for acceptance checks: a dot plus
// the lowercased text after the final dot of the filename. A name without
// a dot yields a dot plus the whole lowercased name, which no processor
// accepts.
func ExtensionOf(filename string) string {
	if filename == "" {
		filename = "file"
	}
	if i := strings.LastIndex(filename, "."); i >= 0 {
		return "." + strings.ToLower(filename[i+1:])
	}
	return "." + strings.ToLower(filename)
}
