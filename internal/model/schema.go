package model

import "strings"

// recognizedKeys is the closed set of meta keys that may appear in
// Metadata.RawTags.
var recognizedKeys = map[string]struct{}{
	"description":      {},
	"keywords":         {},
	"author":           {},
	"theme-color":      {},
	"application-name": {},
	"generator":        {},
	"robots":           {},

	"og:title":            {},
	"og:type":             {},
	"og:url":              {},
	"og:description":      {},
	"og:site_name":        {},
	"og:locale":           {},
	"og:determiner":       {},
	"og:image":            {},
	"og:image:url":        {},
	"og:image:secure_url": {},
	"og:image:type":       {},
	"og:image:width":      {},
	"og:image:height":     {},
	"og:image:alt":        {},
	"og:video":            {},
	"og:video:url":        {},
	"og:video:secure_url": {},
	"og:video:type":       {},
	"og:video:width":      {},
	"og:video:height":     {},
	"og:audio":            {},
	"og:audio:url":        {},
	"og:audio:type":       {},

	"article:published_time": {},
	"article:modified_time":  {},
	"article:author":         {},
	"article:section":        {},
	"article:tag":            {},

	"fb:app_id": {},

	"twitter:card":          {},
	"twitter:site":          {},
	"twitter:creator":       {},
	"twitter:title":         {},
	"twitter:description":   {},
	"twitter:url":           {},
	"twitter:domain":        {},
	"twitter:image":         {},
	"twitter:image:src":     {},
	"twitter:image:alt":     {},
	"twitter:player":        {},
	"twitter:player:width":  {},
	"twitter:player:height": {},
}

// IsRecognizedKey reports whether key belongs to the output schema.
// Keys are compared case-insensitively.
func IsRecognizedKey(key string) bool {
	_, ok := recognizedKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// RecognizedKeys returns a copy of the schema key set.
func RecognizedKeys() []string {
	keys := make([]string, 0, len(recognizedKeys))
	for k := range recognizedKeys {
		keys = append(keys, k)
	}
	return keys
}
