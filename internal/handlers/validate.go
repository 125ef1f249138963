package handlers

import (
	"strings"
	"unicode/utf8"
)

// Validation limits for page, tag and session inputs.
const (
	maxTitleLen    = 300
	maxSlugLen     = 300
	maxBodyLen     = 100_000
	maxTags        = 100
	maxTagLen      = 255
	maxUserIDLen   = 128
	maxRoles       = 32
	maxRoleNameLen = 64
)

// validatePage checks page inputs and returns the first error found.
func validatePage(title, slug, body string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return "Title is required."
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return "Title is too long (max 300 characters)."
	}
	if slug == "" {
		return "Slug is required."
	}
	if utf8.RuneCountInString(slug) > maxSlugLen {
		return "Slug is too long (max 300 characters)."
	}
	if utf8.RuneCountInString(body) > maxBodyLen {
		return "Body is too long (max 100,000 characters)."
	}
	return ""
}

// validateTags checks an invalidation request's tags.
func validateTags(tags []string) string {
	if len(tags) == 0 {
		return "At least one tag is required."
	}
	if len(tags) > maxTags {
		return "Too many tags (max 100)."
	}
	for _, tag := range tags {
		if strings.TrimSpace(tag) == "" {
			return "Tags must not be empty."
		}
		if utf8.RuneCountInString(tag) > maxTagLen {
			return "Tag is too long (max 255 characters)."
		}
	}
	return ""
}

// validateSession checks the identity a session is opened for.
func validateSession(userID string, roles []string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "User ID is required."
	}
	if userID == "0" {
		return "User ID 0 is reserved for anonymous visitors."
	}
	if utf8.RuneCountInString(userID) > maxUserIDLen {
		return "User ID is too long (max 128 characters)."
	}
	if len(roles) > maxRoles {
		return "Too many roles (max 32)."
	}
	for _, role := range roles {
		if role == "" || strings.Contains(role, ",") {
			return "Role names must be non-empty and must not contain commas."
		}
		if utf8.RuneCountInString(role) > maxRoleNameLen {
			return "Role name is too long (max 64 characters)."
		}
	}
	return ""
}
