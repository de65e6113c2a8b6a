package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClassifyDBError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unique violation", errors.New("UNIQUE constraint failed: users.email"), http.StatusConflict},
		{"duplicate entry", errors.New("Error 1062: Duplicate entry 'x' for key 'email'"), http.StatusConflict},
		{"not null", errors.New("NOT NULL constraint failed: users.name"), http.StatusBadRequest},
		{"missing table", errors.New("no such table: ghosts"), http.StatusNotFound},
		{"missing relation", errors.New(`relation "ghosts" does not exist`), http.StatusNotFound},
		{"foreign key", errors.New("FOREIGN KEY constraint failed"), http.StatusBadRequest},
		{"unknown", errors.New("disk I/O error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := classifyDBError(tt.err, "op failed")
			if code != tt.want {
				t.Errorf("code = %d, want %d", code, tt.want)
			}
			if msg == "" {
				t.Error("empty message")
			}
		})
	}
}

func TestCleanMapValues(t *testing.T) {
	row := map[string]interface{}{
		"name":  []byte("alice"),
		"age":   int64(30),
		"notes": nil,
	}
	cleanMapValues(row)
	if row["name"] != "alice" {
		t.Errorf("name = %v (%T)", row["name"], row["name"])
	}
	if row["age"] != int64(30) {
		t.Errorf("age changed: %v", row["age"])
	}
}

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusForbidden, "Permission denied")

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	want := `{"error":{"code":403,"message":"Permission denied"}}`
	if got := rec.Body.String(); got != want+"\n" {
		t.Errorf("body = %q, want %q", got, want)
	}
}
