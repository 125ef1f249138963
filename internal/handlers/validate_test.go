package handlers

import (
	"strings"
	"testing"
)

func TestValidatePage(t *testing.T) {
	tests := []struct {
		name      string
		title     string
		slug      string
		body      string
		wantError bool
	}{
		{"valid", "My Title", "my-title", "Body text", false},
		{"empty title", "", "slug", "body", true},
		{"whitespace title", "   ", "slug", "body", true},
		{"title too long", strings.Repeat("a", 301), "slug", "body", true},
		{"empty slug", "title", "", "body", true},
		{"slug too long", "title", strings.Repeat("a", 301), "body", true},
		{"body too long", "title", "slug", strings.Repeat("a", 100_001), true},
		{"empty body allowed", "title", "slug", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validatePage(tt.title, tt.slug, tt.body)
			if tt.wantError && result == "" {
				t.Error("expected an error, got none")
			}
			if !tt.wantError && result != "" {
				t.Errorf("unexpected error: %s", result)
			}
		})
	}
}

func TestValidateTags(t *testing.T) {
	many := make([]string, 101)
	for i := range many {
		many[i] = "tag"
	}

	tests := []struct {
		name      string
		tags      []string
		wantError bool
	}{
		{"single", []string{"node:1"}, false},
		{"several", []string{"node:1", "page_list"}, false},
		{"none", nil, true},
		{"blank tag", []string{"node:1", " "}, true},
		{"tag too long", []string{strings.Repeat("a", 256)}, true},
		{"too many", many, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validateTags(tt.tags)
			if tt.wantError && result == "" {
				t.Error("expected an error, got none")
			}
			if !tt.wantError && result != "" {
				t.Errorf("unexpected error: %s", result)
			}
		})
	}
}

func TestValidateSession(t *testing.T) {
	tests := []struct {
		name      string
		userID    string
		roles     []string
		wantError bool
	}{
		{"valid", "42", []string{"editor"}, false},
		{"no roles", "42", nil, false},
		{"empty user", "", nil, true},
		{"anonymous id", "0", nil, true},
		{"user too long", strings.Repeat("1", 129), nil, true},
		{"comma in role", "42", []string{"a,b"}, true},
		{"empty role", "42", []string{""}, true},
		{"role too long", "42", []string{strings.Repeat("r", 65)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validateSession(tt.userID, tt.roles)
			if tt.wantError && result == "" {
				t.Error("expected an error, got none")
			}
			if !tt.wantError && result != "" {
				t.Errorf("unexpected error: %s", result)
			}
		})
	}
}
