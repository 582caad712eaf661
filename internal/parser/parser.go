// Package parser decodes fetched documents and collects the tags that feed
// page metadata.
package parser

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	"github.com/JakeFAU/unfurl/internal/model"
)

// oEmbed discovery link types. Only JSON endpoints are consumed.
var oembedTypes = map[string]struct{}{
	"application/json+oembed": {},
	"text/json+oembed":        {},
}

var markupTypes = map[string]struct{}{
	"text/html":             {},
	"application/xhtml+xml": {},
}

var markupMarkers = [][]byte{
	[]byte("<!doctype html"), []byte("<html"), []byte("<head"),
	[]byte("<meta"), []byte("<title"), []byte("<link"), []byte("<body"),
}

// Tag is one <meta> key/value pair, in document order.
type Tag struct {
	Key   string
	Value string
}

// ParseContext is the per-page parse state. It is owned by a single
// pipeline invocation and never shared.
type ParseContext struct {
	// Text is the decoded document.
	Text string
	// TagName is the last start tag inspected.
	TagName      string
	Charset      string
	IsHTML       bool
	IsOEmbed     bool
	Title        string
	Tags         []Tag
	Favicon      string
	CanonicalURL string
	OEmbedURL    string
}

// Values returns every value recorded for key, in document order.
func (pc *ParseContext) Values(key string) []string {
	if pc == nil {
		return nil
	}
	var out []string
	for _, t := range pc.Tags {
		if t.Key == key {
			out = append(out, t.Value)
		}
	}
	return out
}

// First returns the first value recorded for key.
func (pc *ParseContext) First(key string) string {
	if pc == nil {
		return ""
	}
	for _, t := range pc.Tags {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

// Parse decodes body and streams its tags. Malformed markup is tolerated;
// only content that is not markup at all yields PARSE_FAILURE.
func Parse(body []byte, contentType string) (*ParseContext, error) {
	text, name, err := Decode(body, contentType)
	if err != nil {
		return nil, model.NewError(model.KindParseFailure, "", err)
	}
	pc := &ParseContext{Text: text, Charset: name}
	pc.IsHTML = isMarkup(contentType, body, text)
	if !pc.IsHTML {
		return nil, model.NewError(model.KindParseFailure, "", errors.New("content is not markup"))
	}
	if err := pc.scan(); err != nil {
		return nil, model.NewError(model.KindParseFailure, "", err)
	}
	return pc, nil
}

func (pc *ParseContext) scan() error {
	z := html.NewTokenizer(strings.NewReader(pc.Text))
	svgDepth := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return nil
			}
			return z.Err()
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "svg" && svgDepth > 0 {
				svgDepth--
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			pc.TagName = string(name)
			switch pc.TagName {
			case "svg":
				if tt == html.StartTagToken {
					svgDepth++
				}
			case "title":
				if tt == html.StartTagToken && svgDepth == 0 && pc.Title == "" {
					pc.Title = readText(z)
				}
			case "meta":
				pc.addMeta(readAttrs(z, hasAttr))
			case "link":
				pc.addLink(readAttrs(z, hasAttr))
			}
		}
	}
}

func (pc *ParseContext) addMeta(attrs map[string]string) {
	content := strings.TrimSpace(attrs["content"])
	if content == "" {
		return
	}
	property := strings.ToLower(strings.TrimSpace(attrs["property"]))
	name := strings.ToLower(strings.TrimSpace(attrs["name"]))
	if property != "" {
		pc.Tags = append(pc.Tags, Tag{Key: property, Value: content})
	}
	if name != "" && name != property {
		pc.Tags = append(pc.Tags, Tag{Key: name, Value: content})
	}
}

func (pc *ParseContext) addLink(attrs map[string]string) {
	href := strings.TrimSpace(attrs["href"])
	if href == "" {
		return
	}
	rels := strings.Fields(strings.ToLower(attrs["rel"]))
	for _, rel := range rels {
		switch rel {
		case "canonical":
			if pc.CanonicalURL == "" {
				pc.CanonicalURL = href
			}
		case "icon":
			if pc.Favicon == "" {
				pc.Favicon = href
			}
		case "alternate":
			linkType := strings.ToLower(strings.TrimSpace(attrs["type"]))
			if _, ok := oembedTypes[linkType]; ok && pc.OEmbedURL == "" {
				pc.OEmbedURL = href
				pc.IsOEmbed = true
			}
		}
	}
}

// readAttrs returns lowercased attribute names mapped to their unescaped
// values. The first occurrence of a name wins.
func readAttrs(z *html.Tokenizer, hasAttr bool) map[string]string {
	attrs := make(map[string]string)
	for hasAttr {
		var key, val []byte
		key, val, hasAttr = z.TagAttr()
		k := strings.ToLower(string(key))
		if _, seen := attrs[k]; !seen {
			attrs[k] = string(val)
		}
	}
	return attrs
}

// readText collects the text of a raw-text element such as <title>.
func readText(z *html.Tokenizer) string {
	var b strings.Builder
	for {
		switch z.Next() {
		case html.TextToken:
			b.Write(z.Text())
		default:
			return strings.Join(strings.Fields(b.String()), " ")
		}
	}
}

func isMarkup(contentType string, body []byte, text string) bool {
	if contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			if _, ok := markupTypes[strings.ToLower(mediaType)]; ok {
				return true
			}
		}
	}
	if strings.HasPrefix(http.DetectContentType(body), "text/html") {
		return true
	}
	head := text
	if len(head) > prescanLimit {
		head = head[:prescanLimit]
	}
	lower := bytes.ToLower([]byte(head))
	for _, marker := range markupMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}
