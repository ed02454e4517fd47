// Package worker implements the per-group cycle: claim the
// scheduling slot, fetch and filter items, classify and render mail,
// send it, and record success — all inside one transaction so a
// mid-cycle crash leaves the ledger consistent with what was (or
// wasn't) mailed. A failure is recorded outside that transaction,
// after it has been rolled back.
package worker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/feedrelay/feedrelay/internal/config"
	"github.com/feedrelay/feedrelay/internal/feed"
	"github.com/feedrelay/feedrelay/internal/filterexpr"
	"github.com/feedrelay/feedrelay/internal/hashid"
	"github.com/feedrelay/feedrelay/internal/mailer"
	"github.com/feedrelay/feedrelay/internal/render"
	"github.com/feedrelay/feedrelay/internal/sanitize"
	"github.com/feedrelay/feedrelay/internal/store"
)

// Worker runs cycles for whichever groups it is given, sharing one DB
// pool, one HTTP fetcher, and one SMTP mailer across every group.
type Worker struct {
	store   *store.Store
	fetcher *feed.Fetcher
	mailer  *mailer.Mailer
}

// New builds a Worker.
func New(s *store.Store, f *feed.Fetcher, m *mailer.Mailer) *Worker {
	return &Worker{store: s, fetcher: f, mailer: m}
}

// Run executes one cycle for group g at time now. The caller should
// log a returned error (the dispatch loop treats per-group errors as
// non-fatal). An error from touching liveness, opening the
// transaction, reading the fail count or the claim itself is returned
// without being recorded as a failure; an error after the group was
// claimed as due has already been recorded in the failures table by
// the time Run returns.
func (w *Worker) Run(ctx context.Context, g config.FeedGroup, now time.Time) error {
	if err := w.store.TouchLiveness(ctx, g.UrlsHash, now); err != nil {
		return fmt.Errorf("touch liveness: %w", err)
	}

	tx, err := w.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	cutoff := store.SaturatingSub(now, g.Settings.Interval)
	failCount, err := w.store.FailCount(ctx, g.UrlsHash)
	if err != nil {
		return fmt.Errorf("read fail count: %w", err)
	}
	if failCount > 0 {
		cutoff = store.SaturatingSub(cutoff, backoffExtension(failCount))
	}
	status, err := tx.Claim(ctx, g.UrlsHash, g.CriteriaHash, now, cutoff)
	if err != nil {
		return fmt.Errorf("claim group: %w", err)
	}
	if status == store.StatusWait {
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit wait: %w", err)
		}
		committed = true
		return nil
	}

	if err := w.processClaimed(ctx, tx, g, status, now); err != nil {
		_ = tx.Rollback(ctx)
		committed = true // the deferred rollback is now a harmless no-op
		w.recordFailure(ctx, g.UrlsHash, err, now)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		w.recordFailure(ctx, g.UrlsHash, err, now)
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func (w *Worker) recordFailure(ctx context.Context, urlsHash hashid.Digest, cause error, now time.Time) {
	if err := w.store.RecordFailure(ctx, urlsHash, cause.Error(), now); err != nil {
		fmt.Printf("worker: failed to record failure for group %x: %v (original error: %v)\n", urlsHash[:4], err, cause)
	}
}

func (w *Worker) processClaimed(ctx context.Context, tx *store.Tx, g config.FeedGroup, status store.ClaimStatus, now time.Time) error {
	env, err := filterexpr.NewEnv()
	if err != nil {
		return fmt.Errorf("build expression environment: %w", err)
	}
	filter, err := filterexpr.Compile(g.Filter, env)
	if err != nil {
		return fmt.Errorf("compile filter: %w", err)
	}
	updateKeys, err := filterexpr.CompileUpdateKeys(g.Settings.UpdateKeys, env)
	if err != nil {
		return fmt.Errorf("compile update keys: %w", err)
	}

	if status == store.StatusNewCriteria {
		if err := tx.ResetItems(ctx, g.UrlsHash); err != nil {
			return fmt.Errorf("reset dedup ledger for new criteria: %w", err)
		}
	}

	// Reverse-then-reverse: fetch in reverse URL order so that, once
	// the collected results are reversed back, an item duplicated
	// across URLs keeps the earliest URL's occurrence first in the
	// merged stream and wins the dedup insert below.
	reversedURLs := reverseStrings(g.Urls)
	feeds, errs := w.fetcher.FetchGroup(ctx, reversedURLs, g.Settings.HTTPHeaders, g.Settings.Timeout)
	feeds = reverseFeeds(feeds)
	errs = reverseErrors(errs)
	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("fetch %s: %w", reversedURLs[len(reversedURLs)-1-i], err)
		}
	}

	if g.Settings.Sanitize {
		for fi := range feeds {
			for ii := range feeds[fi].Items {
				feeds[fi].Items[ii].Summary = sanitize.HTML(feeds[fi].Items[ii].Summary)
				feeds[fi].Items[ii].ContentBody = sanitize.HTML(feeds[fi].Items[ii].ContentBody)
			}
		}
	}

	var newItems []feed.Item
	var newItemFeeds []feed.Feed // parallel to newItems, the feed each came from
	for _, f := range feeds {
		for _, it := range f.Items {
			itemCtx := filterexpr.ItemContext{Feed: f, Item: it}
			ok, err := filter.Evaluate(itemCtx)
			if err != nil {
				return fmt.Errorf("evaluate filter: %w", err)
			}
			if !ok {
				continue
			}

			values, err := updateKeys.Evaluate(itemCtx)
			if err != nil {
				return fmt.Errorf("evaluate update keys: %w", err)
			}
			digests := make([]hashid.Digest, len(values))
			for i, v := range values {
				digests[i] = hashid.HashValue(v)
			}
			updateHash := hashid.UpdateHash(digests)

			isNew, err := tx.UpsertItem(ctx, g.UrlsHash, updateHash, now)
			if err != nil {
				return fmt.Errorf("upsert item: %w", err)
			}
			if isNew {
				newItems = append(newItems, it)
				newItemFeeds = append(newItemFeeds, f)
			}
		}
	}

	if g.Settings.SortByLastModified {
		sortItemsByLastModifiedDesc(newItems)
	}

	digestMode := status.IsDigestTrigger() ||
		g.Settings.Digest ||
		len(newItems) > g.Settings.MaxMailsPerCheck

	tmplSet := &render.Set{
		ItemSubject: g.Settings.ItemSubject, DigestSubject: g.Settings.DigestSubject,
		ItemBody: g.Settings.ItemBody, DigestBody: g.Settings.DigestBody,
		TemplateArgs: g.Settings.TemplateArgs,
	}

	sentAny := false
	if mailer.HasRecipients(g.Settings.To, g.Settings.Cc, g.Settings.Bcc) {
		if digestMode {
			if len(newItems) > 0 {
				subject, body, err := tmplSet.RenderDigestMail(feeds, newItems)
				if err != nil {
					return fmt.Errorf("render digest mail: %w", err)
				}
				subject = prefixSubject(subject, status)
				if err := w.mailer.Send(ctx, g.Settings.To, g.Settings.Cc, g.Settings.Bcc, subject, body); err != nil {
					return fmt.Errorf("send digest mail: %w", err)
				}
				sentAny = true
			}
		} else {
			for idx, it := range newItems {
				subject, body, err := tmplSet.RenderItemMail(newItemFeeds[idx], it)
				if err != nil {
					return fmt.Errorf("render item mail: %w", err)
				}
				if err := w.mailer.Send(ctx, g.Settings.To, g.Settings.Cc, g.Settings.Bcc, subject, body); err != nil {
					return fmt.Errorf("send item mail: %w", err)
				}
				sentAny = true
			}
		}
	}

	if sentAny {
		if err := tx.SetLastUpdate(ctx, g.UrlsHash, now); err != nil {
			return fmt.Errorf("set last_update: %w", err)
		}
	}

	if err := tx.ClearFailure(ctx, g.UrlsHash); err != nil {
		return fmt.Errorf("clear failure: %w", err)
	}

	retentionCutoff := store.SaturatingSub(now, g.Settings.KeepOld)
	if err := tx.DeleteStaleItems(ctx, g.UrlsHash, retentionCutoff); err != nil {
		return fmt.Errorf("delete stale items: %w", err)
	}

	return nil
}

// backoffExtension mirrors the original implementation's 1<<fail_count
// minute extension to the wait window, capped at fail_count=12 so a
// feed that has been down for a long time still gets retried at most
// once roughly every ~68 hours rather than never.
func backoffExtension(failCount int) time.Duration {
	if failCount > 12 {
		failCount = 12
	}
	return time.Duration(1<<uint(failCount)) * time.Minute
}

func prefixSubject(subject string, status store.ClaimStatus) string {
	switch status {
	case store.StatusNew:
		return "[New Feed] " + subject
	case store.StatusNewCriteria:
		return "[New Criteria] " + subject
	default:
		return subject
	}
}

func sortItemsByLastModifiedDesc(items []feed.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].SortKey().After(items[j].SortKey())
	})
}

func reverseStrings(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

func reverseFeeds(in []feed.Feed) []feed.Feed {
	out := make([]feed.Feed, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

func reverseErrors(in []error) []error {
	out := make([]error, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}
