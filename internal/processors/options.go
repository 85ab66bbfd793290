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
	"math"
	"strconv"
	"strings"
)

// Option values arrive as decoded JSON, so numbers are float64 and
// selects are strings. These accessors coerce either shape and fall back
// to the schema default for anything missing or malformed.

func optString(opts map[string]any, key, def string) string {
	v, ok := opts[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return def
		}
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return def
	}
}

func optInt(opts map[string]any, key string, def int) int {
	v, ok := opts[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
		return def
	default:
		return def
	}
}

// num makes option schema bounds, which are pointers so a zero minimum
// still serializes.
func num(v float64) *float64 { return &v }

// crfFromQuality maps the 1-100 quality scale onto an encoder CRF range
// (lower CRF is better quality). h264/h265 use scale 51, vp9 uses 63.
func crfFromQuality(quality, scale int) int {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	return int(math.Round(float64(100-quality) * float64(scale) / 99.0))
}
