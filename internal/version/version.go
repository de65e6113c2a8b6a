// Package version resolves which API version a request targets and applies
// that version's behavior: page-size bounds, feature gates, response shape,
// and deprecation advisories.
package version

import (
	"net/http"
	"regexp"
	"time"
)

// Default is served when neither the path nor the Accept header names a
// supported version.
const Default = "v1"

// Supported lists versions in succession order; a version's successor is
// the next entry.
var Supported = []string{"v1", "v2"}

// Config is the static behavior record for one API version.
type Config struct {
	MaxLimit       int
	DefaultLimit   int
	SupportsBulk   bool
	ResponseFormat string // "standard" or "enhanced"
	Deprecated     bool
	SunsetDate     string // RFC 1123 date, empty when none is scheduled
}

var configs = map[string]Config{
	"v1": {
		MaxLimit:       100,
		DefaultLimit:   50,
		SupportsBulk:   false,
		ResponseFormat: "standard",
	},
	"v2": {
		MaxLimit:       500,
		DefaultLimit:   100,
		SupportsBulk:   true,
		ResponseFormat: "enhanced",
	},
}

var (
	pathVersionRegex   = regexp.MustCompile(`/api/(v\d+)/`)
	acceptVersionRegex = regexp.MustCompile(`application/vnd\.data2rest\.(v\d+)\+json`)
)

// Detect resolves the requested version: URL path first, then the
// versioned media type in Accept, then the default. Unsupported version
// tokens are ignored rather than rejected.
func Detect(r *http.Request) string {
	if m := pathVersionRegex.FindStringSubmatch(r.URL.Path); m != nil {
		if IsSupported(m[1]) {
			return m[1]
		}
	}
	if m := acceptVersionRegex.FindStringSubmatch(r.Header.Get("Accept")); m != nil {
		if IsSupported(m[1]) {
			return m[1]
		}
	}
	return Default
}

// IsSupported reports whether v names a supported version.
func IsSupported(v string) bool {
	_, ok := configs[v]
	return ok
}

// ConfigFor returns the behavior record for a version, falling back to the
// default version's record for unknown tokens.
func ConfigFor(v string) Config {
	if cfg, ok := configs[v]; ok {
		return cfg
	}
	return configs[Default]
}

// Successor returns the next supported version after v in succession
// order, or empty when v is the newest (or unknown).
func Successor(v string) string {
	for i, s := range Supported {
		if s == v && i+1 < len(Supported) {
			return Supported[i+1]
		}
	}
	return ""
}

// SetHeaders emits the resolved version and, where applicable, the
// deprecation advisories and the successor-version link.
func SetHeaders(w http.ResponseWriter, v string) {
	h := w.Header()
	h.Set("X-API-Version", v)

	cfg := ConfigFor(v)
	if cfg.Deprecated {
		h.Set("Deprecation", "true")
		if cfg.SunsetDate != "" {
			h.Set("Sunset", cfg.SunsetDate)
		}
	}
	if successor := Successor(v); successor != "" {
		h.Set("Link", "</api/"+successor+`>; rel="successor-version"`)
	}
}

// TransformResponse applies the version's response shape. The enhanced
// format enriches an existing metadata block with the version and elapsed
// request time; the standard format passes data through untouched. The
// input map is modified in place and returned.
func TransformResponse(v string, data map[string]interface{}, started time.Time) map[string]interface{} {
	if ConfigFor(v).ResponseFormat != "enhanced" {
		return data
	}
	meta, ok := data["metadata"].(map[string]interface{})
	if !ok {
		return data
	}
	meta["api_version"] = v
	meta["response_time"] = time.Since(started).Seconds()
	return data
}
