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
	"path/filepath"
	"strings"

	"reel/internal/registry"
)

var audioExtensions = []string{".mp3", ".wav", ".aac", ".ogg", ".flac", ".m4a", ".wma"}

// audioCodecs maps an output format to its ffmpeg encoder. Lossless
// formats carry no bitrate flag.
var audioCodecs = map[string]struct {
	codec string
	lossy bool
}{
	"mp3":  {codec: "libmp3lame", lossy: true},
	"wav":  {codec: "pcm_s16le"},
	"aac":  {codec: "aac", lossy: true},
	"ogg":  {codec: "libvorbis", lossy: true},
	"flac": {codec: "flac"},
}

func audioConvertDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                 "audio-convert",
		Label:              "Convert Audio",
		Description:        "Convert audio files between formats with bitrate and sample rate control.",
		AcceptedExtensions: audioExtensions,
		Options: []registry.OptionDef{
			{
				ID: "format", Label: "Output format", Type: registry.OptionSelect, Default: "mp3",
				Choices: []registry.Choice{
					{Value: "mp3", Label: "MP3"},
					{Value: "wav", Label: "WAV"},
					{Value: "aac", Label: "AAC"},
					{Value: "ogg", Label: "OGG"},
					{Value: "flac", Label: "FLAC"},
				},
			},
			{
				ID: "bitrate", Label: "Bitrate", Type: registry.OptionSelect, Default: "192k",
				Choices: []registry.Choice{
					{Value: "320k", Label: "320 kbps"},
					{Value: "256k", Label: "256 kbps"},
					{Value: "192k", Label: "192 kbps"},
					{Value: "128k", Label: "128 kbps"},
					{Value: "64k", Label: "64 kbps"},
				},
				ShowWhen: map[string]any{"format": []string{"mp3", "aac", "ogg"}},
			},
			{
				ID: "sample_rate", Label: "Sample rate", Type: registry.OptionSelect, Default: "44100",
				Choices: []registry.Choice{
					{Value: "48000", Label: "48000 Hz"},
					{Value: "44100", Label: "44100 Hz"},
					{Value: "22050", Label: "22050 Hz"},
				},
			},
		},
	}
}

func audioConvert(r *Runner) registry.ProcessFunc {
	return func(ctx context.Context, input, outputDir string, onProgress registry.ProgressFunc, options map[string]any, inputs []string) (string, error) {
		format := optString(options, "format", "mp3")
		bitrate := optString(options, "bitrate", "192k")
		sampleRate := optString(options, "sample_rate", "44100")

		enc, ok := audioCodecs[format]
		if !ok {
			format = "mp3"
			enc = audioCodecs["mp3"]
		}
		output := filepath.Join(outputDir, "output."+format)

		onProgress(10, "Converting audio...")

		args := []string{
			"-hide_banner", "-loglevel", "error",
			"-i", input,
			"-c:a", enc.codec,
			"-ar", sampleRate,
		}
		if enc.lossy {
			args = append(args, "-b:a", bitrate)
		}
		args = append(args, "-y", output)

		if _, err := r.Run(ctx, ToolFFmpeg, args...); err != nil {
			return "", err
		}
		return output, nil
	}
}

func audioExtractDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                 "audio-extract",
		Label:              "Extract Audio",
		Description:        "Extract the audio track from a video as MP3, AAC, WAV, FLAC, or OGG.",
		AcceptedExtensions: videoExtensions,
		Options: []registry.OptionDef{
			{
				ID: "format", Label: "Output format", Type: registry.OptionSelect, Default: "mp3",
				Choices: []registry.Choice{
					{Value: "mp3", Label: "MP3"},
					{Value: "aac", Label: "AAC"},
					{Value: "wav", Label: "WAV"},
					{Value: "flac", Label: "FLAC"},
					{Value: "ogg", Label: "OGG"},
				},
			},
			{
				ID: "bitrate", Label: "Bitrate", Type: registry.OptionSelect, Default: "192k",
				Choices: []registry.Choice{
					{Value: "320k", Label: "320 kbps"},
					{Value: "256k", Label: "256 kbps"},
					{Value: "192k", Label: "192 kbps"},
					{Value: "128k", Label: "128 kbps"},
					{Value: "96k", Label: "96 kbps"},
				},
				ShowWhen: map[string]any{"format": []string{"mp3", "aac", "ogg"}},
			},
		},
	}
}

func audioExtract(r *Runner) registry.ProcessFunc {
	return func(ctx context.Context, input, outputDir string, onProgress registry.ProgressFunc, options map[string]any, inputs []string) (string, error) {
		format := optString(options, "format", "mp3")
		bitrate := optString(options, "bitrate", "192k")

		enc, ok := audioCodecs[format]
		if !ok {
			format = "mp3"
			enc = audioCodecs["mp3"]
		}
		output := filepath.Join(outputDir, "output."+format)

		onProgress(10, "Extracting audio...")

		args := []string{
			"-hide_banner", "-loglevel", "error",
			"-i", input,
			"-vn",
			"-c:a", enc.codec,
		}
		if enc.lossy {
			args = append(args, "-b:a", bitrate)
		}
		args = append(args, "-y", output)

		if _, err := r.Run(ctx, ToolFFmpeg, args...); err != nil {
			return "", err
		}
		return output, nil
	}
}

func audioTrimDescriptor() registry.Descriptor {
	return registry.Descriptor{
		ID:                 "audio-trim",
		Label:              "Trim Audio",
		Description:        "Cut a segment from an audio file by selecting start time and duration.",
		AcceptedExtensions: audioExtensions,
		Options: []registry.OptionDef{
			{ID: "start", Label: "Start time", Type: registry.OptionText, Default: "00:00:00"},
			{ID: "duration", Label: "Duration", Type: registry.OptionText, Default: "00:00:30"},
			{
				ID: "format", Label: "Output format", Type: registry.OptionSelect, Default: "same",
				Choices: []registry.Choice{
					{Value: "same", Label: "Same as input"},
					{Value: "mp3", Label: "MP3"},
					{Value: "wav", Label: "WAV"},
					{Value: "aac", Label: "AAC"},
					{Value: "ogg", Label: "OGG"},
					{Value: "flac", Label: "FLAC"},
				},
			},
		},
	}
}

func audioTrim(r *Runner) registry.ProcessFunc {
	return func(ctx context.Context, input, outputDir string, onProgress registry.ProgressFunc, options map[string]any, inputs []string) (string, error) {
		start := optString(options, "start", "00:00:00")
		duration := optString(options, "duration", "00:00:30")
		format := optString(options, "format", "same")

		ext := "." + format
		if format == "same" {
			ext = strings.ToLower(filepath.Ext(input))
		}
		output := filepath.Join(outputDir, "output"+ext)

		onProgress(10, "Trimming audio...")

		args := []string{
			"-hide_banner", "-loglevel", "error",
			"-i", input,
			"-ss", start,
			"-t", duration,
		}
		if format == "same" {
			// Same container, so the cut needs no re-encode.
			args = append(args, "-c", "copy")
		} else if enc, ok := audioCodecs[format]; ok {
			args = append(args, "-c:a", enc.codec)
			if enc.lossy {
				args = append(args, "-b:a", "192k")
			}
		}
		args = append(args, "-y", output)

		if _, err := r.Run(ctx, ToolFFmpeg, args...); err != nil {
			return "", err
		}
		return output, nil
	}
}
