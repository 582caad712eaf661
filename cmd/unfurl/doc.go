// Command unfurl resolves a URL into page metadata.
//
// Architecture overview:
//   - Discovery: the seed page is opened in headless Chrome (chromedp), the network is allowed to go idle, and the
//     rendered document's a[href] anchors are read. Without a browser, or with --discovery=static, anchors are read
//     from the served markup with goquery instead.
//   - Crawl: links are filtered to the seed's host, deduplicated without their fragment, optionally checked against
//     robots.txt, and capped at --max-pages. A fixed pool of --concurrency workers runs the page pipeline, paced per
//     host by --rate-per-host. Results keep discovery order.
//   - Page pipeline: a Colly fetch (redirect, size and timeout limits), charset detection and HTML tokenizing,
//     oEmbed enrichment from the page's discovery link, then normalization (precedence, URL resolution, image
//     dedup, recognized tags only). oEmbed failures never fail a page.
//   - Plumbing: Viper merges defaults, --config, UNFURL_* env vars and flags; zap logs to stderr; Prometheus metrics
//     are served on --metrics-addr when set.
//
// Exit status is 0 whenever the seed was discovered, however many subpages failed; 2 for bad configuration;
// 130 when interrupted (completed pages are still printed); 1 otherwise.
//
// Examples:
//
//	unfurl https://example.com
//	unfurl --page --oembed=false https://example.com/post
//	unfurl --discovery=static --max-pages=20 --header "Cookie=a=b" https://example.com
package main
