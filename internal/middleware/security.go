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

package middleware

import (
	"net/http"
	"strconv"
)

// SecurityHeadersConfig holds configuration for security headers middleware.
type SecurityHeadersConfig struct {
	// EnableHSTS enables Strict-Transport-Security header (only for HTTPS)
	EnableHSTS bool
	// HSTSMaxAge is the max-age value for HSTS header (default: 31536000 = 1 year)
	HSTSMaxAge int
	// HSTSIncludeSubdomains adds includeSubDomains to HSTS
	HSTSIncludeSubdomains bool
}

// DefaultSecurityHeadersConfig returns the defaults for a loopback HTTP
// deployment: HSTS stays off until the server sits behind TLS.
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		EnableHSTS:            false,
		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: false,
	}
}

// SecurityHeaders returns middleware that adds security headers to responses:
//   - X-Content-Type-Options: nosniff (prevent MIME sniffing)
//   - X-Frame-Options: DENY (prevent clickjacking)
//   - Referrer-Policy: no-referrer (prevent referrer leakage)
//   - Strict-Transport-Security (HSTS) when TLS is enabled
func SecurityHeaders(cfg SecurityHeadersConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Always set fundamental security headers
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")

			// Set HSTS only if enabled (typically only for HTTPS)
			if cfg.EnableHSTS {
				hstsValue := "max-age=" + strconv.Itoa(cfg.HSTSMaxAge)
				if cfg.HSTSIncludeSubdomains {
					hstsValue += "; includeSubDomains"
				}
				w.Header().Set("Strict-Transport-Security", hstsValue)
			}

			next.ServeHTTP(w, r)
		})
	}
}
