package parser

import "github.com/JakeFAU/unfurl/internal/model"

// Image candidate keys in precedence order.
var (
	OpenGraphImageKeys = []string{"og:image", "og:image:url", "og:image:secure_url"}
	TwitterImageKeys   = []string{"twitter:image", "twitter:image:src"}
)

// Extract lifts a ParseContext into an unnormalized Metadata record. Title
// and description come from bare HTML; competing OpenGraph and Twitter
// values stay in the context for the normalizer to rank.
func Extract(pc *ParseContext, pageURL string) model.Metadata {
	md := model.Metadata{URL: pageURL}
	if pc == nil {
		return md
	}
	md.Title = pc.Title
	md.Description = pc.First("description")
	md.CanonicalURL = pc.CanonicalURL
	md.FaviconURL = pc.Favicon
	md.Images = ImageCandidates(pc)

	if len(pc.Tags) > 0 {
		md.RawTags = make(map[string]string, len(pc.Tags))
		for _, t := range pc.Tags {
			if _, ok := md.RawTags[t.Key]; !ok {
				md.RawTags[t.Key] = t.Value
			}
		}
	}
	return md
}

// ImageCandidates lists image URLs from OpenGraph then Twitter tags, in
// document order within each group. Duplicates are kept.
func ImageCandidates(pc *ParseContext) []string {
	if pc == nil {
		return nil
	}
	var out []string
	for _, group := range [][]string{OpenGraphImageKeys, TwitterImageKeys} {
		for _, t := range pc.Tags {
			for _, key := range group {
				if t.Key == key {
					out = append(out, t.Value)
				}
			}
		}
	}
	return out
}
