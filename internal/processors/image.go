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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"reel/internal/registry"
)

func imageConvertDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                 "image-convert",
		Label:              "Image Format Conversion",
		Description:        "Convert an image to a different format with optional resizing.",
		AcceptedExtensions: []string{".png", ".jpg", ".jpeg", ".webp", ".bmp", ".tiff", ".gif"},
		Options: []registry.OptionDef{
			{
				ID: "format", Label: "Output format", Type: registry.OptionSelect, Default: "png",
				Choices: []registry.Choice{
					{Value: "png", Label: "PNG"},
					{Value: "jpg", Label: "JPG"},
					{Value: "webp", Label: "WebP"},
					{Value: "bmp", Label: "BMP"},
					{Value: "tiff", Label: "TIFF"},
					{Value: "gif", Label: "GIF"},
				},
			},
			{ID: "quality", Label: "Quality", Type: registry.OptionNumber, Default: 90, Min: num(1), Max: num(100), Step: num(1)},
			{
				ID: "resize", Label: "Resize width", Type: registry.OptionDimension, Default: "original",
				Min: num(16), Max: num(7680), Presets: []any{1920, 1280, 1024, 512, 256}, AllowOriginal: true,
			},
		},
	}
}

// qualityArgs translates the 1-100 quality scale into the encoder flags
// of the still-image codecs ffmpeg uses for each format.
func qualityArgs(format string, quality int) []string {
	switch format {
	case "jpg":
		q := 31 - quality*30/100
		if q < 1 {
			q = 1
		}
		return []string{"-q:v", fmt.Sprint(q)}
	case "webp":
		return []string{"-quality", fmt.Sprint(quality)}
	case "png":
		level := 9 - quality*9/100
		if level < 0 {
			level = 0
		}
		return []string{"-compression_level", fmt.Sprint(level)}
	case "tiff":
		return []string{"-compression_algo", "lzw"}
	default:
		return nil
	}
}

func imageConvert(r *Runner) registry.ProcessFunc {
	return func(ctx context.Context, input, outputDir string, onProgress registry.ProgressFunc, options map[string]any, inputs []string) (string, error) {
		format := optString(options, "format", "png")
		quality := optInt(options, "quality", 90)
		resize := optString(options, "resize", "original")

		output := filepath.Join(outputDir, "output."+format)

		onProgress(20, "Converting image...")

		args := []string{"-hide_banner", "-loglevel", "error", "-i", input}
		if resize != "original" {
			args = append(args, "-vf", fmt.Sprintf("scale=%s:-1:flags=lanczos", resize))
		}
		args = append(args, qualityArgs(format, quality)...)
		args = append(args, "-y", output)

		if _, err := r.Run(ctx, ToolFFmpeg, args...); err != nil {
			return "", err
		}
		return output, nil
	}
}

// autoCompressExt maps an input extension to the output extension kept
// in "auto" mode; anything unrecognized compresses to webp.
var autoCompressExt = map[string]string{
	".png":  ".png",
	".jpg":  ".jpg",
	".jpeg": ".jpg",
	".webp": ".webp",
	".bmp":  ".bmp",
	".tiff": ".tiff",
}

func imageCompressDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                 "image-compress",
		Label:              "Compress Image",
		Description:        "Reduce image file size with quality and resize controls.",
		AcceptedExtensions: []string{".png", ".jpg", ".jpeg", ".webp", ".bmp", ".tiff"},
		Options: []registry.OptionDef{
			{ID: "quality", Label: "Quality", Type: registry.OptionNumber, Default: 75, Min: num(1), Max: num(100), Step: num(1)},
			{
				ID: "resize", Label: "Max width", Type: registry.OptionDimension, Default: "original",
				Min: num(16), Max: num(7680), Presets: []any{1920, 1280, 1024, 800, 640}, AllowOriginal: true,
			},
			{
				ID: "format", Label: "Output format", Type: registry.OptionSelect, Default: "auto",
				Choices: []registry.Choice{
					{Value: "auto", Label: "Same as input"},
					{Value: "webp", Label: "WebP"},
					{Value: "jpg", Label: "JPG"},
					{Value: "png", Label: "PNG"},
				},
			},
			{
				ID: "strip_metadata", Label: "Strip metadata", Type: registry.OptionSelect, Default: "on",
				Choices: []registry.Choice{
					{Value: "on", Label: "On"},
					{Value: "off", Label: "Off"},
				},
			},
		},
	}
}

func imageCompress(r *Runner) registry.ProcessFunc {
	return func(ctx context.Context, input, outputDir string, onProgress registry.ProgressFunc, options map[string]any, inputs []string) (string, error) {
		quality := optInt(options, "quality", 75)
		resize := optString(options, "resize", "original")
		format := optString(options, "format", "auto")
		stripMetadata := optString(options, "strip_metadata", "on") == "on"

		var ext string
		if format == "auto" {
			var ok bool
			ext, ok = autoCompressExt[strings.ToLower(filepath.Ext(input))]
			if !ok {
				ext = ".webp"
			}
		} else {
			ext = "." + format
		}
		output := filepath.Join(outputDir, "output"+ext)

		onProgress(20, "Compressing image...")

		args := []string{"-hide_banner", "-loglevel", "error", "-i", input}
		if resize != "original" {
			// Downscale only: never enlarge past the source width.
			args = append(args, "-vf", fmt.Sprintf("scale='min(iw,%s)':-1:flags=lanczos", resize))
		}
		if stripMetadata {
			args = append(args, "-map_metadata", "-1")
		}
		args = append(args, qualityArgs(strings.TrimPrefix(ext, "."), quality)...)
		args = append(args, "-y", output)

		if _, err := r.Run(ctx, ToolFFmpeg, args...); err != nil {
			return "", err
		}
		return output, nil
	}
}

func imageBgRemoveDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                 "image-bg-remove",
		Label:              "Image Background Removal",
		Description:        "Remove the background from an image and export with transparency.",
		AcceptedExtensions: []string{".png", ".jpg", ".jpeg", ".webp", ".bmp", ".tiff"},
		Options: []registry.OptionDef{
			{
				ID: "model", Label: "AI model", Type: registry.OptionSelect, Default: "u2net",
				Choices: []registry.Choice{
					{Value: "u2net", Label: "Quality (u2net)"},
					{Value: "isnet-general-use", Label: "ISNet"},
					{Value: "u2netp", Label: "Fast (u2netp)"},
				},
			},
			{
				ID: "refine_edges", Label: "Refine edges", Type: registry.OptionSelect, Default: "off",
				Choices: []registry.Choice{
					{Value: "off", Label: "Off"},
					{Value: "on", Label: "On"},
				},
			},
			{ID: "fg_threshold", Label: "Foreground threshold", Type: registry.OptionNumber, Default: 240, Min: num(0), Max: num(255), Step: num(1), ShowWhen: map[string]any{"refine_edges": "on"}},
			{ID: "bg_threshold", Label: "Background threshold", Type: registry.OptionNumber, Default: 10, Min: num(0), Max: num(255), Step: num(1), ShowWhen: map[string]any{"refine_edges": "on"}},
			{ID: "erode_size", Label: "Erode size", Type: registry.OptionNumber, Default: 10, Min: num(1), Max: num(40), Step: num(1), ShowWhen: map[string]any{"refine_edges": "on"}},
			{
				ID: "format", Label: "Output format", Type: registry.OptionSelect, Default: "png",
				Choices: []registry.Choice{
					{Value: "png", Label: "PNG"},
					{Value: "webp", Label: "WebP"},
				},
			},
		},
	}
}

func imageBgRemove(r *Runner) registry.ProcessFunc {
	return func(ctx context.Context, input, outputDir string, onProgress registry.ProgressFunc, options map[string]any, inputs []string) (string, error) {
		model := optString(options, "model", "u2net")
		refineEdges := optString(options, "refine_edges", "off") == "on"
		format := optString(options, "format", "png")

		cut := filepath.Join(outputDir, "output.png")

		onProgress(10, fmt.Sprintf("Loading model (%s)...", model))

		args := []string{"i", "-m", model}
		if refineEdges {
			args = append(args,
				"-a",
				"-af", fmt.Sprint(optInt(options, "fg_threshold", 240)),
				"-ab", fmt.Sprint(optInt(options, "bg_threshold", 10)),
				"-ae", fmt.Sprint(optInt(options, "erode_size", 10)),
			)
		}
		args = append(args, input, cut)

		onProgress(30, "Removing background...")
		if _, err := r.Run(ctx, ToolRembg, args...); err != nil {
			return "", err
		}

		if format != "webp" {
			return cut, nil
		}

		// rembg always emits PNG; transcode to WebP preserving alpha.
		output := filepath.Join(outputDir, "output.webp")
		if _, err := r.Run(ctx, ToolFFmpeg,
			"-hide_banner", "-loglevel", "error",
			"-i", cut, "-quality", "95", "-y", output,
		); err != nil {
			return "", err
		}
		return output, nil
	}
}

func imageToPDFDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                   "image-to-pdf",
		Label:                "Image to PDF",
		Description:          "Convert one or more images into a single PDF document.",
		AcceptedExtensions:   []string{".png", ".jpg", ".jpeg", ".webp", ".bmp", ".tiff"},
		AcceptsMultipleFiles: true,
		Options:              []registry.OptionDef{},
	}
}

func imageToPDF(r *Runner) registry.ProcessFunc {
	return func(ctx context.Context, input, outputDir string, onProgress registry.ProgressFunc, options map[string]any, inputs []string) (string, error) {
		paths := inputs
		if len(paths) == 0 {
			paths = []string{input}
		}
		output := filepath.Join(outputDir, "output.pdf")

		onProgress(10, "Creating PDF from images...")

		// mutool convert takes one input document at a time, so each
		// image becomes a single-page PDF at its native size and the
		// pages are merged afterwards.
		pagePDFs := make([]string, 0, len(paths))
		for i, img := range paths {
			page := filepath.Join(outputDir, fmt.Sprintf("img_%04d.pdf", i+1))
			if _, err := r.Run(ctx, ToolMutool, "convert", "-o", page, img); err != nil {
				return "", err
			}
			pagePDFs = append(pagePDFs, page)
		}

		if len(pagePDFs) == 1 {
			if err := os.Rename(pagePDFs[0], output); err != nil {
				return "", fmt.Errorf("finalize pdf: %w", err)
			}
			return output, nil
		}

		args := append([]string{"merge", "-o", output}, pagePDFs...)
		if _, err := r.Run(ctx, ToolMutool, args...); err != nil {
			return "", err
		}
		return output, nil
	}
}
