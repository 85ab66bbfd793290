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

package registry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Dimension bounds applied when an option declares none.
const (
	defaultDimensionMin = 1
	defaultDimensionMax = 99999
)

// ValidateOptions checks the submitted options against the descriptor's
// schema. Only dimension options are validated; unknown keys and other
// option types pass through untouched so processors keep their own
// defaulting behavior. The returned error text is the user-facing message
// served verbatim in the HTTP response.
func ValidateOptions(desc Descriptor, options map[string]any) error {
	for _, opt := range desc.Options {
		if opt.Type != OptionDimension {
			continue
		}
		raw, ok := options[opt.ID]
		if !ok || raw == nil {
			continue
		}
		if s, isStr := raw.(string); isStr && strings.TrimSpace(s) == "original" && opt.AllowOriginal {
			continue
		}
		n, ok := dimensionValue(raw)
		if !ok {
			return fmt.Errorf("Invalid dimension value for '%s': %v", opt.ID, raw)
		}
		min := defaultDimensionMin
		if opt.Min != nil {
			min = int(*opt.Min)
		}
		max := defaultDimensionMax
		if opt.Max != nil {
			max = int(*opt.Max)
		}
		if n < min || n > max {
			return fmt.Errorf("Dimension '%s' must be between %d and %d, got %d", opt.ID, min, max, n)
		}
	}
	return nil
}

// dimensionValue coerces a submitted option value to an integer pixel
// count. JSON numbers arrive as float64 and are accepted only when whole;
// strings are parsed as base-10 integers.
func dimensionValue(raw any) (int, bool) {
	switch v := raw.(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}
