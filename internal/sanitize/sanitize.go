// Package sanitize strips script/style content and inline event
// handlers from feed item HTML before it reaches a template, mirroring
// the optional sanitize-on-ingest step a feed parser commonly offers.
package sanitize

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTML removes <script>/<style> elements, "on*" event-handler
// attributes, and javascript: hrefs from the given fragment. Content
// that fails to parse as HTML is returned unchanged — sanitizing best
// effort is preferable to rendering nothing.
func HTML(in string) string {
	if strings.TrimSpace(in) == "" {
		return in
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(in))
	if err != nil {
		return in
	}

	doc.Find("script, style").Remove()

	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		if node := sel.Get(0); node != nil {
			var drop []string
			for _, a := range node.Attr {
				if strings.HasPrefix(strings.ToLower(a.Key), "on") {
					drop = append(drop, a.Key)
				}
			}
			for _, k := range drop {
				sel.RemoveAttr(k)
			}
		}
	})

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(href)), "javascript:") {
			sel.SetAttr("href", "#")
		}
	})

	out, err := doc.Html()
	if err != nil {
		return in
	}
	return out
}
