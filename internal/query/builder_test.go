package query

import (
	"net/url"
	"testing"
)

func TestBuildFieldList(t *testing.T) {
	tests := []struct {
		name   string
		fields string
		want   string
	}{
		{"subset", "id,name", `"id", "name"`},
		{"whitespace trimmed", " id , email ", `"id", "email"`},
		{"unknown dropped", "id,ssn", `"id"`},
		{"all unknown falls back to star", "ssn,password", "*"},
		{"empty", "", "*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildFieldList(tt.fields, testColumns, quoteTest)
			if got != tt.want {
				t.Errorf("BuildFieldList(%q) = %q, want %q", tt.fields, got, tt.want)
			}
		})
	}
}

func TestParseLimitOffset(t *testing.T) {
	tests := []struct {
		name       string
		params     url.Values
		wantLimit  int
		wantOffset int
	}{
		{"defaults", url.Values{}, 25, 0},
		{"explicit", url.Values{"limit": {"10"}, "offset": {"30"}}, 10, 30},
		{"limit clamped to max", url.Values{"limit": {"5000"}}, 100, 0},
		{"zero limit falls back", url.Values{"limit": {"0"}}, 25, 0},
		{"negative offset ignored", url.Values{"offset": {"-5"}}, 25, 0},
		{"garbage ignored", url.Values{"limit": {"ten"}, "offset": {"many"}}, 25, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset := ParseLimitOffset(tt.params, 25, 100)
			if limit != tt.wantLimit || offset != tt.wantOffset {
				t.Errorf("got (%d, %d), want (%d, %d)", limit, offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestBuildLimitOffset(t *testing.T) {
	if got := BuildLimitOffset(10, 20); got != "LIMIT 10 OFFSET 20" {
		t.Errorf("got %q", got)
	}
	if got := BuildLimitOffset(10, 0); got != "LIMIT 10" {
		t.Errorf("got %q", got)
	}
	if got := BuildLimitOffset(0, 20); got != "" {
		t.Errorf("got %q", got)
	}
}
