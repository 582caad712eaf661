package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Metadata is the normalized preview record for one page.
type Metadata struct {
	URL          string            `json:"url"`
	Title        string            `json:"title,omitempty"`
	Description  string            `json:"description,omitempty"`
	CanonicalURL string            `json:"canonical_url,omitempty"`
	FaviconURL   string            `json:"favicon_url,omitempty"`
	OEmbed       *OEmbed           `json:"oembed,omitempty"`
	Images       []string          `json:"images,omitempty"`
	RawTags      map[string]string `json:"raw_tags,omitempty"`
}

// Clone returns a deep copy so stages never mutate a caller's record.
func (m Metadata) Clone() Metadata {
	out := m
	if m.Images != nil {
		out.Images = append([]string(nil), m.Images...)
	}
	if m.RawTags != nil {
		out.RawTags = make(map[string]string, len(m.RawTags))
		for k, v := range m.RawTags {
			out.RawTags[k] = v
		}
	}
	if m.OEmbed != nil {
		o := *m.OEmbed
		out.OEmbed = &o
	}
	return out
}

// OEmbed is the JSON document served by an oEmbed endpoint.
// Its fields are untrusted input and HTML is never rendered.
type OEmbed struct {
	Type            string  `json:"type,omitempty"`
	Version         string  `json:"version,omitempty"`
	Title           string  `json:"title,omitempty"`
	Description     string  `json:"description,omitempty"`
	AuthorName      string  `json:"author_name,omitempty"`
	AuthorURL       string  `json:"author_url,omitempty"`
	ProviderName    string  `json:"provider_name,omitempty"`
	ProviderURL     string  `json:"provider_url,omitempty"`
	CacheAge        FlexInt `json:"cache_age,omitempty"`
	ThumbnailURL    string  `json:"thumbnail_url,omitempty"`
	ThumbnailWidth  FlexInt `json:"thumbnail_width,omitempty"`
	ThumbnailHeight FlexInt `json:"thumbnail_height,omitempty"`
	HTML            string  `json:"html,omitempty"`
	URL             string  `json:"url,omitempty"`
	Width           FlexInt `json:"width,omitempty"`
	Height          FlexInt `json:"height,omitempty"`
}

// FlexInt decodes a JSON number or a numeric string. Providers disagree on
// which one to send for dimensions and cache ages.
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler.
func (n *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode numeric string: %w", err)
		}
		data = []byte(strings.TrimSpace(s))
		if len(data) == 0 {
			*n = 0
			return nil
		}
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", data, err)
	}
	*n = FlexInt(f)
	return nil
}
