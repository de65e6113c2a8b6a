package version

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func request(t *testing.T, path, accept string) *http.Request {
	t.Helper()
	r, err := http.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if accept != "" {
		r.Header.Set("Accept", accept)
	}
	return r
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		accept string
		want   string
	}{
		{"path v1", "/api/v1/db/1/users", "", "v1"},
		{"path v2", "/api/v2/db/1/users", "", "v2"},
		{"accept header", "/db/1/users", "application/vnd.data2rest.v2+json", "v2"},
		{"path beats accept", "/api/v1/db/1/users", "application/vnd.data2rest.v2+json", "v1"},
		{"unsupported path version ignored", "/api/v9/db/1/users", "", "v1"},
		{"unsupported path falls through to accept", "/api/v9/db/1/users", "application/vnd.data2rest.v2+json", "v2"},
		{"unsupported accept version ignored", "/db/1/users", "application/vnd.data2rest.v7+json", "v1"},
		{"plain accept ignored", "/db/1/users", "application/json", "v1"},
		{"nothing detected", "/db/1/users", "", "v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(request(t, tt.path, tt.accept))
			if got != tt.want {
				t.Errorf("Detect = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigFor(t *testing.T) {
	v1 := ConfigFor("v1")
	if v1.SupportsBulk {
		t.Error("v1 must not support bulk")
	}
	if v1.MaxLimit != 100 || v1.DefaultLimit != 50 {
		t.Errorf("v1 limits = %+v", v1)
	}

	v2 := ConfigFor("v2")
	if !v2.SupportsBulk {
		t.Error("v2 must support bulk")
	}
	if v2.ResponseFormat != "enhanced" {
		t.Errorf("v2 format = %q", v2.ResponseFormat)
	}

	// Unknown tokens resolve to the default version's record.
	if ConfigFor("v9") != ConfigFor(Default) {
		t.Error("unknown version should fall back to the default config")
	}
}

func TestSuccessor(t *testing.T) {
	if got := Successor("v1"); got != "v2" {
		t.Errorf("Successor(v1) = %q", got)
	}
	if got := Successor("v2"); got != "" {
		t.Errorf("Successor(v2) = %q, want empty", got)
	}
	if got := Successor("v9"); got != "" {
		t.Errorf("Successor(v9) = %q, want empty", got)
	}
}

func TestSetHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetHeaders(w, "v1")

	if got := w.Header().Get("X-API-Version"); got != "v1" {
		t.Errorf("X-API-Version = %q", got)
	}
	if w.Header().Get("Deprecation") != "" {
		t.Error("v1 is not deprecated")
	}
	if got := w.Header().Get("Link"); got != `</api/v2>; rel="successor-version"` {
		t.Errorf("Link = %q", got)
	}

	w = httptest.NewRecorder()
	SetHeaders(w, "v2")
	if w.Header().Get("Link") != "" {
		t.Error("newest version has no successor link")
	}
}

func TestTransformResponse(t *testing.T) {
	started := time.Now().Add(-10 * time.Millisecond)

	data := map[string]interface{}{
		"resource": []interface{}{},
		"metadata": map[string]interface{}{"count": 0},
	}
	out := TransformResponse("v2", data, started)
	meta := out["metadata"].(map[string]interface{})
	if meta["api_version"] != "v2" {
		t.Errorf("api_version = %v", meta["api_version"])
	}
	if rt, ok := meta["response_time"].(float64); !ok || rt <= 0 {
		t.Errorf("response_time = %v", meta["response_time"])
	}

	// Standard format passes through untouched.
	plain := map[string]interface{}{
		"metadata": map[string]interface{}{"count": 0},
	}
	out = TransformResponse("v1", plain, started)
	if _, ok := out["metadata"].(map[string]interface{})["api_version"]; ok {
		t.Error("v1 must not enrich metadata")
	}

	// No metadata block means nothing to enrich.
	bare := map[string]interface{}{"resource": []interface{}{}}
	if got := TransformResponse("v2", bare, started); len(got) != 1 {
		t.Errorf("bare response changed: %v", got)
	}
}
