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

import "reel/internal/registry"

// RegisterAll wires every processor into reg. Listing order here is the
// order /processors reports.
func RegisterAll(reg *registry.Registry, r *Runner) {
	reg.Register(imageConvertDescriptor(), imageConvert(r))
	reg.Register(imageCompressDescriptor(), imageCompress(r))
	reg.Register(imageBgRemoveDescriptor(), imageBgRemove(r))
	reg.Register(imageToPDFDescriptor(), imageToPDF(r))
	reg.Register(videoConvertDescriptor(), videoConvert(r))
	reg.Register(videoCompressDescriptor(), videoCompress(r))
	reg.Register(videoTrimDescriptor(), videoTrim(r))
	reg.Register(videoThumbnailDescriptor(), videoThumbnail(r))
	reg.Register(videoToGifDescriptor(), videoToGif(r))
	reg.Register(videoBgRemoveDescriptor(), videoBgRemove(r))
	reg.Register(audioConvertDescriptor(), audioConvert(r))
	reg.Register(audioExtractDescriptor(), audioExtract(r))
	reg.Register(audioTrimDescriptor(), audioTrim(r))
	reg.Register(pdfMergeDescriptor(), pdfMerge(r))
	reg.Register(pdfSplitDescriptor(), pdfSplit(r))
	reg.Register(pdfToImageDescriptor(), pdfToImage(r))
	reg.Register(pdfExtractTextDescriptor(), pdfExtractText(r))
}
