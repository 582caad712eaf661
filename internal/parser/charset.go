package parser

import (
	"bytes"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

const (
	prescanLimit        = 1024
	minDetectConfidence = 50
	defaultEncodingName = "windows-1252"
)

// EncodingSource records which signal chose the document encoding.
type EncodingSource string

// Encoding sources in precedence order.
const (
	SourceHeader    EncodingSource = "header"
	SourceMeta      EncodingSource = "meta"
	SourceBOM       EncodingSource = "bom"
	SourceHeuristic EncodingSource = "heuristic"
	SourceDefault   EncodingSource = "default"
)

var boms = []struct {
	prefix []byte
	label  string
}{
	{[]byte{0xEF, 0xBB, 0xBF}, "utf-8"},
	{[]byte{0xFE, 0xFF}, "utf-16be"},
	{[]byte{0xFF, 0xFE}, "utf-16le"},
}

// DetectEncoding picks the document encoding from the Content-Type charset,
// then a <meta> declaration in the first 1024 bytes, then a byte-order mark,
// then content heuristics, falling back to windows-1252.
func DetectEncoding(body []byte, contentType string) (encoding.Encoding, string, EncodingSource) {
	if label := contentTypeCharset(contentType); label != "" {
		if enc, name := charset.Lookup(label); enc != nil {
			return enc, name, SourceHeader
		}
	}
	if label := prescanMeta(body); label != "" {
		if enc, name := charset.Lookup(label); enc != nil {
			// A meta tag can only be read by an ASCII-compatible decoder.
			if strings.HasPrefix(name, "utf-16") {
				enc, name = charset.Lookup("utf-8")
			}
			return enc, name, SourceMeta
		}
	}
	for _, bom := range boms {
		if bytes.HasPrefix(body, bom.prefix) {
			enc, name := charset.Lookup(bom.label)
			return enc, name, SourceBOM
		}
	}
	if utf8.Valid(body) {
		enc, name := charset.Lookup("utf-8")
		return enc, name, SourceHeuristic
	}
	if res, err := chardet.NewHtmlDetector().DetectBest(body); err == nil && res.Confidence >= minDetectConfidence {
		if enc, name := charset.Lookup(res.Charset); enc != nil {
			return enc, name, SourceHeuristic
		}
	}
	return charmap.Windows1252, defaultEncodingName, SourceDefault
}

// Decode converts body to UTF-8 text and reports the encoding used.
func Decode(body []byte, contentType string) (string, string, error) {
	enc, name, _ := DetectEncoding(body, contentType)
	body = stripBOM(body, name)
	out, _, err := transform.Bytes(enc.NewDecoder(), body)
	if err != nil {
		return "", name, fmt.Errorf("decode %s: %w", name, err)
	}
	return string(out), name, nil
}

// stripBOM drops a byte-order mark that agrees with the chosen encoding.
func stripBOM(body []byte, name string) []byte {
	for _, bom := range boms {
		if !bytes.HasPrefix(body, bom.prefix) {
			continue
		}
		if _, bomName := charset.Lookup(bom.label); bomName == name {
			return body[len(bom.prefix):]
		}
		return body
	}
	return body
}

func contentTypeCharset(contentType string) string {
	if contentType == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		return strings.TrimSpace(params["charset"])
	}
	return fromContentAttr(contentType)
}

// prescanMeta looks for <meta charset> or an http-equiv Content-Type
// declaration within the first 1024 bytes.
func prescanMeta(body []byte) string {
	if len(body) > prescanLimit {
		body = body[:prescanLimit]
	}
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "meta" || !hasAttr {
				continue
			}
			attrs := readAttrs(z, hasAttr)
			if label := attrs["charset"]; label != "" {
				return label
			}
			if strings.EqualFold(attrs["http-equiv"], "content-type") {
				if label := fromContentAttr(attrs["content"]); label != "" {
					return label
				}
			}
		}
	}
}

// fromContentAttr extracts the charset from "text/html; charset=foo".
func fromContentAttr(s string) string {
	lower := strings.ToLower(s)
	i := strings.Index(lower, "charset")
	if i < 0 {
		return ""
	}
	rest := strings.TrimLeft(s[i+len("charset"):], " \t")
	if !strings.HasPrefix(rest, "=") {
		return ""
	}
	rest = strings.TrimLeft(rest[1:], " \t")
	rest = strings.Trim(rest, `"'`)
	if end := strings.IndexAny(rest, `;"' `); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
