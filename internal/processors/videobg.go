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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"reel/internal/registry"
)

func videoBgRemoveDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                 "video-bg-remove",
		Label:              "Video Background Removal",
		Description:        "Remove the background from a video and export with transparency.",
		AcceptedExtensions: []string{".mp4", ".mov", ".webm"},
		Options: []registry.OptionDef{
			{ID: "fps", Label: "Frames per second", Type: registry.OptionNumber, Default: 15, Min: num(1), Max: num(60), Step: num(1)},
			{
				ID: "resolution", Label: "Output width", Type: registry.OptionSelect, Default: "original",
				Choices: []registry.Choice{
					{Value: "original", Label: "Original"},
					{Value: "1024", Label: "1024 px"},
					{Value: "512", Label: "512 px"},
					{Value: "256", Label: "256 px"},
					{Value: "128", Label: "128 px"},
				},
			},
			{
				ID: "model", Label: "AI model", Type: registry.OptionSelect, Default: "u2netp",
				Choices: []registry.Choice{
					{Value: "u2netp", Label: "Fast (u2netp)"},
					{Value: "u2net", Label: "Quality (u2net)"},
					{Value: "isnet-general-use", Label: "ISNet"},
				},
			},
			{
				ID: "format", Label: "Output format", Type: registry.OptionSelect, Default: "webp",
				Choices: []registry.Choice{
					{Value: "webp", Label: "WebP"},
					{Value: "gif", Label: "GIF"},
					{Value: "mov", Label: "MOV (ProRes 4444)"},
					{Value: "png-zip", Label: "PNG sequence (ZIP)"},
				},
			},
		},
	}
}

func videoBgRemove(r *Runner) registry.ProcessFunc {
	return func(ctx context.Context, input, outputDir string, onProgress registry.ProgressFunc, options map[string]any, inputs []string) (string, error) {
		fps := optInt(options, "fps", 15)
		if fps < 1 {
			fps = 1
		}
		resolution := optString(options, "resolution", "original")
		model := optString(options, "model", "u2netp")
		format := optString(options, "format", "webp")

		framesDir := filepath.Join(outputDir, "frames")
		cutDir := filepath.Join(outputDir, "cut")
		if err := os.MkdirAll(framesDir, 0o755); err != nil {
			return "", err
		}
		if err := os.MkdirAll(cutDir, 0o755); err != nil {
			return "", err
		}

		onProgress(5, "Extracting frames from video...")
		vf := fmt.Sprintf("fps=%d", fps)
		if resolution != "original" {
			vf += fmt.Sprintf(",scale=%s:-2", resolution)
		}
		if _, err := r.Run(ctx, ToolFFmpeg,
			"-hide_banner", "-loglevel", "error",
			"-i", input,
			"-vf", vf,
			filepath.Join(framesDir, "frame_%04d.png"),
		); err != nil {
			return "", err
		}

		frames, err := filepath.Glob(filepath.Join(framesDir, "*.png"))
		if err != nil {
			return "", err
		}
		sort.Strings(frames)
		if len(frames) == 0 {
			return "", errors.New("ffmpeg produced no frames")
		}

		onProgress(10, fmt.Sprintf("Extracted %d frames", len(frames)))
		onProgress(12, fmt.Sprintf("Loading model (%s)...", model))

		total := len(frames)
		var (
			mu        sync.Mutex
			completed int
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.Slots())
		for _, frame := range frames {
			frame := frame
			g.Go(func() error {
				dest := filepath.Join(cutDir, filepath.Base(frame))
				if _, err := r.Run(gctx, ToolRembg, "i", "-m", model, frame, dest); err != nil {
					return err
				}
				mu.Lock()
				completed++
				pct := 15 + float64(completed)/float64(total)*65
				onProgress(pct, fmt.Sprintf("Removing background - frame %d/%d", completed, total))
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return "", err
		}

		onProgress(82, "Background removal complete")

		cut, err := filepath.Glob(filepath.Join(cutDir, "*.png"))
		if err != nil {
			return "", err
		}
		sort.Strings(cut)

		delay := 1000 / fps
		if delay < 1 {
			delay = 1
		}

		switch format {
		case "gif":
			output := filepath.Join(outputDir, "output.gif")
			onProgress(85, "Creating animated GIF...")
			if err := assembleGif(ctx, r, cutDir, output, fps); err != nil {
				return "", err
			}
			return output, nil
		case "mov":
			output := filepath.Join(outputDir, "output.mov")
			onProgress(85, "Creating MOV (ProRes 4444)...")
			if _, err := r.Run(ctx, ToolFFmpeg,
				"-hide_banner", "-loglevel", "error",
				"-framerate", fmt.Sprint(fps),
				"-i", filepath.Join(cutDir, "frame_%04d.png"),
				"-c:v", "prores_ks",
				"-profile:v", "4444",
				"-pix_fmt", "yuva444p10le",
				"-y", output,
			); err != nil {
				return "", err
			}
			return output, nil
		case "png-zip":
			output := filepath.Join(outputDir, "output.zip")
			onProgress(85, "Packing PNG sequence...")
			if err := writeZip(output, cut, zip.Store); err != nil {
				return "", err
			}
			return output, nil
		default:
			output := filepath.Join(outputDir, "output.webp")
			onProgress(85, "Creating animated WebP...")
			args := []string{"-loop", "0", "-d", fmt.Sprint(delay)}
			args = append(args, cut...)
			args = append(args, "-o", output)
			if _, err := r.Run(ctx, ToolImg2WebP, args...); err != nil {
				return "", err
			}
			return output, nil
		}
	}
}

// assembleGif builds an animated GIF with transparency from a directory of
// RGBA frames. Palette generation reserves a transparent slot so cut-out
// regions survive the GIF's 1-bit alpha.
func assembleGif(ctx context.Context, r *Runner, framesDir, output string, fps int) error {
	palette := filepath.Join(framesDir, "palette.png")
	pattern := filepath.Join(framesDir, "frame_%04d.png")
	if _, err := r.Run(ctx, ToolFFmpeg,
		"-hide_banner", "-loglevel", "error",
		"-framerate", fmt.Sprint(fps),
		"-i", pattern,
		"-vf", "palettegen=reserve_transparent=1",
		"-y", palette,
	); err != nil {
		return err
	}
	if _, err := r.Run(ctx, ToolFFmpeg,
		"-hide_banner", "-loglevel", "error",
		"-framerate", fmt.Sprint(fps),
		"-i", pattern,
		"-i", palette,
		"-lavfi", "paletteuse=alpha_threshold=128",
		"-y", output,
	); err != nil {
		return err
	}
	return nil
}
