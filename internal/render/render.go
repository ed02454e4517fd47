// Package render owns the four named mail templates per group
// (item-subject, digest-subject, item-body, digest-body), loaded from
// inline strings or re-read from disk on every render, plus the
// regex-flavored helpers and template_args global the configuration
// format exposes to them.
package render

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"

	"github.com/feedrelay/feedrelay/internal/config"
	"github.com/feedrelay/feedrelay/internal/feed"
)

var registerOnce sync.Once

// registerHelpers wires the three regex helpers onto the default
// pongo2 filter set. pongo2 filters take exactly one parameter, so the
// two-parameter originals (capture's optional group index,
// regex_replace's replacement text) are adapted to pack their second
// argument into the filter parameter using a "||" separator — e.g.
// {{ value|capture:"(\\d+)||1" }} and
// {{ value|regex_replace:"foo||bar" }}.
func registerHelpers() {
	registerOnce.Do(func() {
		_ = pongo2.RegisterFilter("matches", filterMatches)
		_ = pongo2.RegisterFilter("capture", filterCapture)
		_ = pongo2.RegisterFilter("regex_replace", filterRegexReplace)
	})
}

func filterMatches(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	pattern := param.String()
	rx, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &pongo2.Error{Sender: "filter:matches", OrigError: err}
	}
	return pongo2.AsValue(rx.MatchString(in.String())), nil
}

func filterCapture(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	pattern, groupIdx := splitParam(param.String())
	rx, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &pongo2.Error{Sender: "filter:capture", OrigError: err}
	}
	m := rx.FindStringSubmatch(in.String())
	if m == nil || groupIdx >= len(m) {
		return pongo2.AsValue("none"), nil
	}
	return pongo2.AsValue(m[groupIdx]), nil
}

func filterRegexReplace(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	parts := strings.SplitN(param.String(), "||", 2)
	if len(parts) != 2 {
		return nil, &pongo2.Error{Sender: "filter:regex_replace", OrigError: fmt.Errorf("expected \"pattern||replacement\"")}
	}
	rx, err := regexp.Compile(parts[0])
	if err != nil {
		return nil, &pongo2.Error{Sender: "filter:regex_replace", OrigError: err}
	}
	return pongo2.AsValue(rx.ReplaceAllString(in.String(), parts[1])), nil
}

func splitParam(param string) (pattern string, groupIdx int) {
	parts := strings.SplitN(param, "||", 2)
	if len(parts) == 1 {
		return parts[0], 0
	}
	idx := 0
	fmt.Sscanf(parts[1], "%d", &idx)
	return parts[0], idx
}

// Set is the compiled-enough template set for one group: sources are
// kept as-is (inline or file) and resolved fresh on every render call,
// matching the "each render may re-read" contract.
type Set struct {
	ItemSubject, DigestSubject config.TemplateSource
	ItemBody, DigestBody       config.TemplateSource
	TemplateArgs               map[string]any
}

func init() {
	registerHelpers()
}

func load(src config.TemplateSource) (string, error) {
	if src.File != "" {
		b, err := os.ReadFile(src.File)
		if err != nil {
			return "", fmt.Errorf("read template file %s: %w", src.File, err)
		}
		return string(b), nil
	}
	return src.Inline, nil
}

func renderSource(src config.TemplateSource, ctx pongo2.Context) (string, error) {
	raw, err := load(src)
	if err != nil {
		return "", err
	}
	tpl, err := pongo2.FromString(raw)
	if err != nil {
		return "", fmt.Errorf("compile template: %w", err)
	}
	out, err := tpl.Execute(ctx)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

func itemMap(f feed.Feed, it feed.Item) pongo2.Context {
	return pongo2.Context{
		"feed": map[string]any{
			"title": f.Title,
			"link":  f.Link,
			"url":   f.URL,
		},
		"item": map[string]any{
			"id":        it.ID,
			"title":     it.Title,
			"summary":   it.Summary,
			"content":   it.ContentBody,
			"link":      it.Link,
			"published": it.Published,
			"updated":   it.Updated,
		},
	}
}

// RenderItemMail renders item-subject/item-body against {feed, item}.
func (s *Set) RenderItemMail(f feed.Feed, it feed.Item) (subject, body string, err error) {
	ctx := itemMap(f, it)
	ctx["template_args"] = s.TemplateArgs
	subject, err = renderSource(s.ItemSubject, ctx)
	if err != nil {
		return "", "", fmt.Errorf("item-subject: %w", err)
	}
	body, err = renderSource(s.ItemBody, ctx)
	if err != nil {
		return "", "", fmt.Errorf("item-body: %w", err)
	}
	return subject, body, nil
}

// RenderDigestMail renders digest-subject/digest-body against
// {feeds, items}.
func (s *Set) RenderDigestMail(feeds []feed.Feed, items []feed.Item) (subject, body string, err error) {
	feedMaps := make([]map[string]any, 0, len(feeds))
	for _, f := range feeds {
		feedMaps = append(feedMaps, map[string]any{"title": f.Title, "link": f.Link, "url": f.URL})
	}
	itemMaps := make([]map[string]any, 0, len(items))
	for _, it := range items {
		itemMaps = append(itemMaps, map[string]any{
			"id": it.ID, "title": it.Title, "summary": it.Summary,
			"content": it.ContentBody, "link": it.Link,
			"published": it.Published, "updated": it.Updated,
		})
	}
	ctx := pongo2.Context{
		"feeds":         feedMaps,
		"items":         itemMaps,
		"template_args": s.TemplateArgs,
	}
	subject, err = renderSource(s.DigestSubject, ctx)
	if err != nil {
		return "", "", fmt.Errorf("digest-subject: %w", err)
	}
	body, err = renderSource(s.DigestBody, ctx)
	if err != nil {
		return "", "", fmt.Errorf("digest-body: %w", err)
	}
	return subject, body, nil
}
