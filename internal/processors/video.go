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
	"path/filepath"
	"strings"

	"reel/internal/registry"
)

var videoExtensions = []string{".mp4", ".mov", ".webm", ".avi", ".mkv"}

// videoCodec maps a codec choice to its encoder, pixel format, and
// output container.
type videoCodec struct {
	encoder string
	pixFmt  string
	ext     string
}

var videoCodecs = map[string]videoCodec{
	"h264":   {encoder: "libx264", pixFmt: "yuv420p", ext: "mp4"},
	"h265":   {encoder: "libx265", pixFmt: "yuv420p", ext: "mp4"},
	"vp9":    {encoder: "libvpx-vp9", pixFmt: "yuv420p", ext: "webm"},
	"prores": {encoder: "prores_ks", pixFmt: "yuv422p10le", ext: "mov"},
	"copy":   {encoder: "copy"},
}

func videoConvertDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                 "video-convert",
		Label:              "Video Format Conversion",
		Description:        "Convert a video to a different format, codec, or resolution.",
		AcceptedExtensions: videoExtensions,
		Options: []registry.OptionDef{
			{
				ID: "codec", Label: "Codec", Type: registry.OptionSelect, Default: "h264",
				Choices: []registry.Choice{
					{Value: "h264", Label: "H.264 (MP4)"},
					{Value: "h265", Label: "H.265 (MP4)"},
					{Value: "vp9", Label: "VP9 (WebM)"},
					{Value: "prores", Label: "ProRes (MOV)"},
					{Value: "copy", Label: "Copy (no re-encode)"},
				},
			},
			{ID: "quality", Label: "Quality", Type: registry.OptionNumber, Default: 70, Min: num(1), Max: num(100), Step: num(1), ShowWhen: map[string]any{"codec": []string{"h264", "h265", "vp9"}}},
			{
				ID: "resolution", Label: "Resolution", Type: registry.OptionSelect, Default: "original",
				Choices: []registry.Choice{
					{Value: "original", Label: "Original"},
					{Value: "1920", Label: "1920p"},
					{Value: "1280", Label: "1280p"},
					{Value: "720", Label: "720p"},
					{Value: "480", Label: "480p"},
				},
				ShowWhen: map[string]any{"codec": []string{"h264", "h265", "vp9", "prores"}},
			},
			{
				ID: "fps", Label: "Frames per second", Type: registry.OptionSelect, Default: "original",
				Choices: []registry.Choice{
					{Value: "original", Label: "Original"},
					{Value: "60", Label: "60"},
					{Value: "30", Label: "30"},
					{Value: "24", Label: "24"},
					{Value: "15", Label: "15"},
				},
				ShowWhen: map[string]any{"codec": []string{"h264", "h265", "vp9", "prores"}},
			},
			{
				ID: "audio", Label: "Audio", Type: registry.OptionSelect, Default: "keep",
				Choices: []registry.Choice{
					{Value: "keep", Label: "Keep"},
					{Value: "remove", Label: "Remove"},
				},
			},
		},
	}
}

func videoConvert(r *Runner) registry.ProcessFunc {
	return func(ctx context.Context, input, outputDir string, onProgress registry.ProgressFunc, options map[string]any, inputs []string) (string, error) {
		codecID := optString(options, "codec", "h264")
		quality := optInt(options, "quality", 70)
		resolution := optString(options, "resolution", "original")
		fps := optString(options, "fps", "original")
		audio := optString(options, "audio", "keep")

		codec, ok := videoCodecs[codecID]
		if !ok {
			codecID = "h264"
			codec = videoCodecs["h264"]
		}
		ext := codec.ext
		if codecID == "copy" {
			ext = strings.TrimPrefix(strings.ToLower(filepath.Ext(input)), ".")
		}
		output := filepath.Join(outputDir, "output."+ext)

		onProgress(5, "Preparing conversion...")

		args := []string{"-hide_banner", "-loglevel", "error", "-i", input, "-c:v", codec.encoder}

		if codec.encoder != "copy" {
			if codec.pixFmt != "" {
				args = append(args, "-pix_fmt", codec.pixFmt)
			}
			switch codecID {
			case "h264", "h265":
				args = append(args, "-crf", fmt.Sprint(crfFromQuality(quality, 51)))
			case "vp9":
				args = append(args, "-crf", fmt.Sprint(crfFromQuality(quality, 63)), "-b:v", "0")
			case "prores":
				args = append(args, "-profile:v", "3")
			}
			if resolution != "original" {
				args = append(args, "-vf", fmt.Sprintf("scale=%s:-2", resolution))
			}
			if fps != "original" {
				args = append(args, "-r", fps)
			}
		}

		if audio == "remove" {
			args = append(args, "-an")
		} else if codec.encoder == "copy" {
			args = append(args, "-c:a", "copy")
		} else {
			args = append(args, "-c:a", "aac", "-b:a", "128k")
		}
		args = append(args, "-y", output)

		onProgress(10, fmt.Sprintf("Converting with %s...", codec.encoder))

		if _, err := r.Run(ctx, ToolFFmpeg, args...); err != nil {
			return "", err
		}
		return output, nil
	}
}

func videoCompressDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                 "video-compress",
		Label:              "Compress Video",
		Description:        "Reduce video file size with quality and resolution controls.",
		AcceptedExtensions: videoExtensions,
		Options: []registry.OptionDef{
			{ID: "quality", Label: "Quality", Type: registry.OptionNumber, Default: 65, Min: num(1), Max: num(100), Step: num(1)},
			{
				ID: "resolution", Label: "Resolution", Type: registry.OptionDimension, Default: "original",
				Min: num(16), Max: num(7680), Presets: []any{1920, 1280, 854, 640}, AllowOriginal: true,
			},
			{
				ID: "audio", Label: "Audio", Type: registry.OptionSelect, Default: "keep",
				Choices: []registry.Choice{
					{Value: "keep", Label: "Keep"},
					{Value: "compress", Label: "Compress"},
					{Value: "remove", Label: "Remove"},
				},
			},
		},
	}
}

func videoCompress(r *Runner) registry.ProcessFunc {
	return func(ctx context.Context, input, outputDir string, onProgress registry.ProgressFunc, options map[string]any, inputs []string) (string, error) {
		quality := optInt(options, "quality", 65)
		resolution := optString(options, "resolution", "original")
		audio := optString(options, "audio", "keep")

		output := filepath.Join(outputDir, "output.mp4")

		onProgress(10, "Compressing video...")

		args := []string{
			"-hide_banner", "-loglevel", "error",
			"-i", input,
			"-c:v", "libx264",
			"-crf", fmt.Sprint(crfFromQuality(quality, 51)),
			"-preset", "slow",
		}
		if resolution != "original" {
			args = append(args, "-vf", fmt.Sprintf("scale=%s:-2", resolution))
		}
		switch audio {
		case "remove":
			args = append(args, "-an")
		case "compress":
			args = append(args, "-c:a", "aac", "-b:a", "96k")
		default:
			args = append(args, "-c:a", "aac", "-b:a", "192k")
		}
		args = append(args, "-movflags", "+faststart", "-y", output)

		if _, err := r.Run(ctx, ToolFFmpeg, args...); err != nil {
			return "", err
		}
		return output, nil
	}
}

func videoTrimDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                 "video-trim",
		Label:              "Trim Video",
		Description:        "Cut a segment from a video by selecting start time and duration.",
		AcceptedExtensions: videoExtensions,
		Options: []registry.OptionDef{
			{ID: "start", Label: "Start time (seconds)", Type: registry.OptionNumber, Default: 0, Min: num(0), Max: num(3600), Step: num(1)},
			{ID: "duration", Label: "Duration (seconds)", Type: registry.OptionNumber, Default: 10, Min: num(1), Max: num(300), Step: num(1)},
			{
				ID: "codec", Label: "Re-encode", Type: registry.OptionSelect, Default: "copy",
				Choices: []registry.Choice{
					{Value: "copy", Label: "No (fast)"},
					{Value: "h264", Label: "H.264"},
					{Value: "h265", Label: "H.265"},
				},
			},
			{ID: "quality", Label: "Quality", Type: registry.OptionNumber, Default: 80, Min: num(1), Max: num(100), Step: num(1), ShowWhen: map[string]any{"codec": []string{"h264", "h265"}}},
		},
	}
}

func videoTrim(r *Runner) registry.ProcessFunc {
	return func(ctx context.Context, input, outputDir string, onProgress registry.ProgressFunc, options map[string]any, inputs []string) (string, error) {
		start := optInt(options, "start", 0)
		duration := optInt(options, "duration", 10)
		codec := optString(options, "codec", "copy")
		quality := optInt(options, "quality", 80)

		ext := strings.ToLower(filepath.Ext(input))
		if codec != "copy" {
			ext = ".mp4"
		}
		output := filepath.Join(outputDir, "output"+ext)

		onProgress(10, "Trimming video...")

		// Seek before the input so ffmpeg jumps straight to the cut.
		args := []string{
			"-hide_banner", "-loglevel", "error",
			"-ss", fmt.Sprint(start),
			"-t", fmt.Sprint(duration),
			"-i", input,
		}
		switch codec {
		case "h264":
			args = append(args, "-c:v", "libx264", "-crf", fmt.Sprint(crfFromQuality(quality, 51)), "-preset", "medium", "-c:a", "aac")
		case "h265":
			args = append(args, "-c:v", "libx265", "-crf", fmt.Sprint(crfFromQuality(quality, 51)), "-preset", "medium", "-c:a", "aac")
		default:
			args = append(args, "-c", "copy")
		}
		args = append(args, "-y", output)

		if _, err := r.Run(ctx, ToolFFmpeg, args...); err != nil {
			return "", err
		}
		return output, nil
	}
}

func videoThumbnailDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                 "video-thumbnail",
		Label:              "Video Thumbnail",
		Description:        "Extract a frame from a video at a specific time as an image.",
		AcceptedExtensions: videoExtensions,
		Options: []registry.OptionDef{
			{ID: "time", Label: "Time (seconds)", Type: registry.OptionNumber, Default: 0, Min: num(0), Max: num(3600), Step: num(1)},
			{
				ID: "format", Label: "Output format", Type: registry.OptionSelect, Default: "png",
				Choices: []registry.Choice{
					{Value: "png", Label: "PNG"},
					{Value: "jpg", Label: "JPG"},
					{Value: "webp", Label: "WebP"},
				},
			},
			{
				ID: "resolution", Label: "Resolution", Type: registry.OptionSelect, Default: "original",
				Choices: []registry.Choice{
					{Value: "original", Label: "Original"},
					{Value: "1920", Label: "1920 px"},
					{Value: "1280", Label: "1280 px"},
					{Value: "640", Label: "640 px"},
				},
			},
			{ID: "quality", Label: "Quality", Type: registry.OptionNumber, Default: 95, Min: num(1), Max: num(100), Step: num(1), ShowWhen: map[string]any{"format": []string{"jpg", "webp"}}},
		},
	}
}

func videoThumbnail(r *Runner) registry.ProcessFunc {
	return func(ctx context.Context, input, outputDir string, onProgress registry.ProgressFunc, options map[string]any, inputs []string) (string, error) {
		at := optInt(options, "time", 0)
		format := optString(options, "format", "png")
		resolution := optString(options, "resolution", "original")
		quality := optInt(options, "quality", 95)

		output := filepath.Join(outputDir, "thumbnail."+format)

		onProgress(20, "Extracting frame...")

		args := []string{
			"-hide_banner", "-loglevel", "error",
			"-ss", fmt.Sprint(at),
			"-i", input,
			"-frames:v", "1",
		}
		if resolution != "original" {
			args = append(args, "-vf", fmt.Sprintf("scale=%s:-2", resolution))
		}
		switch format {
		case "jpg":
			q := 31 - quality*30/100
			if q < 1 {
				q = 1
			}
			args = append(args, "-q:v", fmt.Sprint(q))
		case "webp":
			args = append(args, "-quality", fmt.Sprint(quality))
		}
		args = append(args, "-y", output)

		if _, err := r.Run(ctx, ToolFFmpeg, args...); err != nil {
			return "", err
		}
		return output, nil
	}
}

func videoToGifDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                 "video-to-gif",
		Label:              "Video to GIF",
		Description:        "Convert a video clip to an animated GIF.",
		AcceptedExtensions: videoExtensions,
		Options: []registry.OptionDef{
			{ID: "start", Label: "Start time (seconds)", Type: registry.OptionNumber, Default: 0, Min: num(0), Max: num(600), Step: num(1)},
			{ID: "duration", Label: "Duration (seconds)", Type: registry.OptionNumber, Default: 5, Min: num(1), Max: num(30), Step: num(1)},
			{ID: "fps", Label: "Frames per second", Type: registry.OptionNumber, Default: 15, Min: num(5), Max: num(30), Step: num(1)},
			{
				ID: "resolution", Label: "Width", Type: registry.OptionDimension, Default: "480",
				Min: num(16), Max: num(7680), Presets: []any{640, 480, 320, 240}, AllowOriginal: true,
			},
		},
	}
}

func videoToGif(r *Runner) registry.ProcessFunc {
	return func(ctx context.Context, input, outputDir string, onProgress registry.ProgressFunc, options map[string]any, inputs []string) (string, error) {
		start := optInt(options, "start", 0)
		duration := optInt(options, "duration", 5)
		fps := optInt(options, "fps", 15)
		resolution := optString(options, "resolution", "480")

		output := filepath.Join(outputDir, "output.gif")
		palette := filepath.Join(outputDir, "palette.png")

		filters := fmt.Sprintf("fps=%d", fps)
		if resolution != "original" {
			filters += fmt.Sprintf(",scale=%s:-1:flags=lanczos", resolution)
		}

		onProgress(10, "Generating color palette...")
		if _, err := r.Run(ctx, ToolFFmpeg,
			"-hide_banner", "-loglevel", "error",
			"-ss", fmt.Sprint(start),
			"-t", fmt.Sprint(duration),
			"-i", input,
			"-vf", filters+",palettegen=stats_mode=diff",
			"-y", palette,
		); err != nil {
			return "", err
		}

		onProgress(50, "Creating GIF...")
		if _, err := r.Run(ctx, ToolFFmpeg,
			"-hide_banner", "-loglevel", "error",
			"-ss", fmt.Sprint(start),
			"-t", fmt.Sprint(duration),
			"-i", input,
			"-i", palette,
			"-lavfi", filters+" [x]; [x][1:v] paletteuse=dither=bayer:bayer_scale=5:diff_mode=rectangle",
			"-y", output,
		); err != nil {
			return "", err
		}
		return output, nil
	}
}
