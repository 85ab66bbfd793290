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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"reel/internal/registry"
)

func pdfMergeDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                   "pdf-merge",
		Label:                "Merge PDFs",
		Description:          "Combine multiple PDF files into a single document.",
		AcceptedExtensions:   []string{".pdf"},
		AcceptsMultipleFiles: true,
		Options:              []registry.OptionDef{},
	}
}

func pdfMerge(r *Runner) registry.ProcessFunc {
	return func(ctx context.Context, input, outputDir string, onProgress registry.ProgressFunc, options map[string]any, inputs []string) (string, error) {
		paths := inputs
		if len(paths) == 0 {
			paths = []string{input}
		}
		output := filepath.Join(outputDir, "output.pdf")

		onProgress(10, "Merging PDFs...")

		args := append([]string{"merge", "-o", output}, paths...)
		if _, err := r.Run(ctx, ToolMutool, args...); err != nil {
			return "", err
		}
		return output, nil
	}
}

func pdfSplitDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                 "pdf-split",
		Label:              "Split PDF",
		Description:        "Extract specific pages or split a PDF into separate files.",
		AcceptedExtensions: []string{".pdf"},
		Options: []registry.OptionDef{
			{
				ID: "mode", Label: "Mode", Type: registry.OptionSelect, Default: "all_pages",
				Choices: []registry.Choice{
					{Value: "all_pages", Label: "All pages (separate)"},
					{Value: "range", Label: "Page range"},
				},
			},
			{ID: "range", Label: "Page range", Type: registry.OptionText, Default: "1-3", ShowWhen: map[string]any{"mode": "range"}},
		},
	}
}

func pdfSplit(r *Runner) registry.ProcessFunc {
	return func(ctx context.Context, input, outputDir string, onProgress registry.ProgressFunc, options map[string]any, inputs []string) (string, error) {
		mode := optString(options, "mode", "all_pages")
		pageRange := optString(options, "range", "1-3")

		onProgress(10, "Splitting PDF...")

		total, err := pdfPageCount(ctx, r, input)
		if err != nil {
			return "", err
		}

		if mode == "range" {
			pages, err := parsePageRange(pageRange, total)
			if err != nil {
				return "", err
			}
			if len(pages) == 0 {
				return "", fmt.Errorf("No valid pages in range: %s", pageRange)
			}
			output := filepath.Join(outputDir, "output.pdf")
			if _, err := r.Run(ctx, ToolMutool, "merge", "-o", output, input, joinPages(pages)); err != nil {
				return "", err
			}
			return output, nil
		}

		if total == 1 {
			output := filepath.Join(outputDir, "page_1.pdf")
			if _, err := r.Run(ctx, ToolMutool, "merge", "-o", output, input, "1"); err != nil {
				return "", err
			}
			return output, nil
		}

		paths := make([]string, 0, total)
		for i := 1; i <= total; i++ {
			page := filepath.Join(outputDir, fmt.Sprintf("page_%04d.pdf", i))
			if _, err := r.Run(ctx, ToolMutool, "merge", "-o", page, input, strconv.Itoa(i)); err != nil {
				return "", err
			}
			paths = append(paths, page)
		}

		output := filepath.Join(outputDir, "pages.zip")
		if err := writeZip(output, paths, zip.Deflate); err != nil {
			return "", err
		}
		return output, nil
	}
}

func pdfToImageDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                 "pdf-to-image",
		Label:              "PDF to Image",
		Description:        "Convert PDF pages to images (PNG, JPG, or WebP).",
		AcceptedExtensions: []string{".pdf"},
		Options: []registry.OptionDef{
			{
				ID: "format", Label: "Output format", Type: registry.OptionSelect, Default: "png",
				Choices: []registry.Choice{
					{Value: "png", Label: "PNG"},
					{Value: "jpg", Label: "JPG"},
					{Value: "webp", Label: "WebP"},
				},
			},
			{
				ID: "dpi", Label: "DPI", Type: registry.OptionSelect, Default: "150",
				Choices: []registry.Choice{
					{Value: "72", Label: "72 (fast)"},
					{Value: "150", Label: "150 (standard)"},
					{Value: "300", Label: "300 (high)"},
				},
			},
			{
				ID: "pages", Label: "Pages", Type: registry.OptionSelect, Default: "all",
				Choices: []registry.Choice{
					{Value: "all", Label: "All"},
					{Value: "first", Label: "First only"},
				},
			},
			{ID: "quality", Label: "Quality", Type: registry.OptionNumber, Default: 90, Min: num(1), Max: num(100), Step: num(1), ShowWhen: map[string]any{"format": []string{"jpg", "webp"}}},
		},
	}
}

func pdfToImage(r *Runner) registry.ProcessFunc {
	return func(ctx context.Context, input, outputDir string, onProgress registry.ProgressFunc, options map[string]any, inputs []string) (string, error) {
		format := optString(options, "format", "png")
		dpi := optString(options, "dpi", "150")
		pagesMode := optString(options, "pages", "all")
		quality := optInt(options, "quality", 90)

		onProgress(10, "Converting PDF...")

		drawArgs := []string{
			"draw",
			"-r", dpi,
			"-o", filepath.Join(outputDir, "page_%04d.png"),
			input,
		}
		if pagesMode == "first" {
			drawArgs = append(drawArgs, "1")
		}
		if _, err := r.Run(ctx, ToolMutool, drawArgs...); err != nil {
			return "", err
		}

		rendered, err := filepath.Glob(filepath.Join(outputDir, "page_*.png"))
		if err != nil {
			return "", err
		}
		sort.Strings(rendered)
		if len(rendered) == 0 {
			return "", fmt.Errorf("mutool rendered no pages")
		}

		paths := rendered
		if format != "png" {
			paths = make([]string, 0, len(rendered))
			for _, page := range rendered {
				converted := strings.TrimSuffix(page, ".png") + "." + format
				args := []string{"-hide_banner", "-loglevel", "error", "-i", page}
				args = append(args, qualityArgs(format, quality)...)
				args = append(args, "-y", converted)
				if _, err := r.Run(ctx, ToolFFmpeg, args...); err != nil {
					return "", err
				}
				paths = append(paths, converted)
			}
		}

		if len(paths) == 1 {
			return paths[0], nil
		}

		output := filepath.Join(outputDir, "pages.zip")
		if err := writeZip(output, paths, zip.Deflate); err != nil {
			return "", err
		}
		return output, nil
	}
}

func pdfExtractTextDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                 "pdf-extract-text",
		Label:              "Extract Text from PDF",
		Description:        "Extract all text content from a PDF as plain text or JSON.",
		AcceptedExtensions: []string{".pdf"},
		Options: []registry.OptionDef{
			{
				ID: "format", Label: "Output format", Type: registry.OptionSelect, Default: "txt",
				Choices: []registry.Choice{
					{Value: "txt", Label: "Plain text (.txt)"},
					{Value: "json", Label: "JSON (.json)"},
				},
			},
			{
				ID: "pages", Label: "Pages", Type: registry.OptionSelect, Default: "all",
				Choices: []registry.Choice{
					{Value: "all", Label: "All pages"},
					{Value: "range", Label: "Page range"},
				},
			},
			{ID: "range", Label: "Page range", Type: registry.OptionText, Default: "1-3", ShowWhen: map[string]any{"pages": "range"}},
		},
	}
}

func pdfExtractText(r *Runner) registry.ProcessFunc {
	return func(ctx context.Context, input, outputDir string, onProgress registry.ProgressFunc, options map[string]any, inputs []string) (string, error) {
		format := optString(options, "format", "txt")
		pagesMode := optString(options, "pages", "all")
		pageRange := optString(options, "range", "1-3")

		output := filepath.Join(outputDir, "output."+format)

		onProgress(10, "Extracting text...")

		total, err := pdfPageCount(ctx, r, input)
		if err != nil {
			return "", err
		}

		pages := make([]int, 0, total)
		if pagesMode == "range" {
			pages, err = parsePageRange(pageRange, total)
			if err != nil {
				return "", err
			}
		} else {
			for i := 1; i <= total; i++ {
				pages = append(pages, i)
			}
		}

		texts := make([]string, 0, len(pages))
		for _, page := range pages {
			scratch := filepath.Join(outputDir, fmt.Sprintf("text_%04d.txt", page))
			if _, err := r.Run(ctx, ToolMutool, "convert", "-F", "text", "-o", scratch, input, strconv.Itoa(page)); err != nil {
				return "", err
			}
			data, err := os.ReadFile(scratch)
			if err != nil {
				return "", err
			}
			texts = append(texts, strings.TrimSuffix(string(data), "\f"))
		}

		if format == "json" {
			type pageText struct {
				Page int    `json:"page"`
				Text string `json:"text"`
			}
			entries := make([]pageText, 0, len(pages))
			for i, page := range pages {
				entries = append(entries, pageText{Page: page, Text: texts[i]})
			}
			var buf bytes.Buffer
			enc := json.NewEncoder(&buf)
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			if err := enc.Encode(entries); err != nil {
				return "", err
			}
			if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
				return "", err
			}
			return output, nil
		}

		lines := make([]string, 0, 2*len(pages))
		for i, page := range pages {
			if len(pages) > 1 {
				lines = append(lines, fmt.Sprintf("--- Page %d ---", page))
			}
			lines = append(lines, texts[i])
		}
		if err := os.WriteFile(output, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
			return "", err
		}
		return output, nil
	}
}

var pdfPagesPattern = regexp.MustCompile(`(?m)^Pages:\s*(\d+)`)

// pdfPageCount asks mutool for the page count of a document.
func pdfPageCount(ctx context.Context, r *Runner, path string) (int, error) {
	out, err := r.Run(ctx, ToolMutool, "info", path)
	if err != nil {
		return 0, err
	}
	m := pdfPagesPattern.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("mutool info reported no page count for %s", filepath.Base(path))
	}
	return strconv.Atoi(string(m[1]))
}

// parsePageRange expands a range string like "1-3,5,7-9" into 1-based page
// numbers, clamped to the document and deduplicated in order.
func parsePageRange(rangeStr string, totalPages int) ([]int, error) {
	var pages []int
	for _, part := range strings.Split(rangeStr, ",") {
		part = strings.TrimSpace(part)
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("invalid page range %q", part)
			}
			end, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("invalid page range %q", part)
			}
			if start < 1 {
				start = 1
			}
			if end > totalPages {
				end = totalPages
			}
			for p := start; p <= end; p++ {
				pages = append(pages, p)
			}
		} else {
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid page range %q", part)
			}
			if n >= 1 && n <= totalPages {
				pages = append(pages, n)
			}
		}
	}
	seen := make(map[int]bool, len(pages))
	result := pages[:0]
	for _, p := range pages {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result, nil
}

func joinPages(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}
