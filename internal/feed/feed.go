// Package feed fetches and parses syndication feeds (RSS/Atom/JSON
// Feed) and exposes a small owned item context instead of the
// self-referential parsed-document/item borrow a feed library
// normally hands back, so items can cross goroutine and task
// boundaries freely.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// Item is a cloned, self-contained view over one feed entry. It never
// borrows from the Feed it came from.
type Item struct {
	ID          string
	Title       string
	Summary     string
	ContentBody string
	Link        string
	Published   *time.Time
	Updated     *time.Time
}

// SortKey returns item.Updated if present, else item.Published. Used
// by settings.sort_by_last_modified.
func (i Item) SortKey() time.Time {
	if i.Updated != nil {
		return *i.Updated
	}
	if i.Published != nil {
		return *i.Published
	}
	return time.Time{}
}

// Feed is the parsed document for one URL plus its cloned items, kept
// together for template rendering (the digest context carries the
// full feed list alongside the filtered item list).
type Feed struct {
	URL   string
	Title string
	Link  string
	Items []Item
}

// Fetcher wraps gofeed.Parser, honoring a per-group HTTP timeout and
// header set.
type Fetcher struct {
	client *http.Client
}

// NewFetcher builds a Fetcher. The client is shared across all
// fetches; per-call timeouts are applied via context instead of the
// client's own Timeout field so one Fetcher can serve groups with
// different timeout settings.
func NewFetcher() *Fetcher {
	return &Fetcher{client: &http.Client{}}
}

// Fetch retrieves and parses one URL, applying headers and timeout.
func (f *Fetcher) Fetch(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (Feed, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Feed{}, fmt.Errorf("build request for %s: %w", url, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "feedrelay/1.0")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Feed{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Feed{}, fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}

	parser := gofeed.NewParser()
	parsed, err := parser.Parse(resp.Body)
	if err != nil {
		return Feed{}, fmt.Errorf("parse %s: %w", url, err)
	}

	out := Feed{URL: url, Title: parsed.Title, Link: parsed.Link}
	out.Items = make([]Item, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		out.Items = append(out.Items, cloneItem(it))
	}
	return out, nil
}

func cloneItem(it *gofeed.Item) Item {
	item := Item{
		ID:      it.GUID,
		Title:   it.Title,
		Summary: it.Description,
		Link:    it.Link,
	}
	if item.ID == "" {
		item.ID = it.Link
	}
	if it.Content != "" {
		item.ContentBody = it.Content
	}
	if it.PublishedParsed != nil {
		t := it.PublishedParsed.UTC()
		item.Published = &t
	}
	if it.UpdatedParsed != nil {
		t := it.UpdatedParsed.UTC()
		item.Updated = &t
	}
	return item
}

// FetchGroup fetches every URL in the given order and returns results
// in the same order. Callers implementing the "reverse-then-reverse"
// contract (spec §4.5) must pass urls already reversed and reverse
// the returned slice back themselves — this function performs no
// reordering of its own so that contract stays visible at the call
// site.
func (f *Fetcher) FetchGroup(ctx context.Context, urls []string, headers map[string]string, timeout time.Duration) ([]Feed, []error) {
	feeds := make([]Feed, len(urls))
	errs := make([]error, len(urls))
	for i, u := range urls {
		feed, err := f.Fetch(ctx, u, headers, timeout)
		feeds[i] = feed
		errs[i] = err
	}
	return feeds, errs
}
