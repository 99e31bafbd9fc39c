// Package models defines data structures shared across the pipeline.
package models

import "time"

// Notice represents one announcement extracted from the portal board.
//
// Content is nil when the detail page could not be read (restricted access
// or fetch failure); an empty string means the body was readable but blank.
type Notice struct {
	Posted      time.Time    `json:"posted"`
	Updated     time.Time    `json:"updated"`
	Content     *string      `json:"content,omitempty"`
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Attachments []Attachment `json:"attachments"`
}

// Attachment is one file descriptor attached to a notice.
//
// URL is the portal-relative fetch locator and may be absent when the row
// carried no link. FileURL is set only after a successful upload; it is
// pipeline-derived state and never participates in change comparison.
type Attachment struct {
	URL     *string `json:"url,omitempty"`
	FileURL *string `json:"file_url,omitempty"`
	Text    string  `json:"text"`
}

// RawRow is one board row before date resolution and detail enrichment.
type RawRow struct {
	To          []string
	From        string
	PostedText  string
	UpdatedText string
	Title       string
	DetailRef   string
	ID          string
}

// Detail holds the fields read from a notice's detail page. FullDateText
// is the authoritative date string including the year; it is parsed by the
// date resolver, not here.
type Detail struct {
	Content      *string
	FullDateText string
	Attachments  []Attachment
}

// StrPtr returns a pointer to s, or nil when s is empty.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

// StrVal dereferences p, returning the empty string for nil.
func StrVal(p *string) string {
	if p == nil {
		return ""
	}

	return *p
}
