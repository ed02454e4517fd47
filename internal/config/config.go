// Package config loads and resolves the declarative TOML
// configuration file into the in-memory FeedGroup list the rest of
// the system runs against.
package config

import (
	"fmt"
	"net/mail"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/feedrelay/feedrelay/internal/filterexpr"
	"github.com/feedrelay/feedrelay/internal/hashid"
)

// TemplateSource is either an inline template string or a path to a
// file that is read fresh on every render.
type TemplateSource struct {
	Inline string
	File   string
}

func (t TemplateSource) isFile() bool { return t.File != "" }

// Settings is the fully-resolved, per-group settings block: every
// feed-level override has already been applied over the global
// defaults.
type Settings struct {
	To, Cc, Bcc                           []string
	Digest                                bool
	ItemSubject, DigestSubject            TemplateSource
	ItemBody, DigestBody                  TemplateSource
	TemplateArgs                          map[string]any
	UpdateKeys                            []string
	Interval, KeepOld, Timeout            time.Duration
	MaxMailsPerCheck                      int
	Sanitize                              bool
	SortByLastModified                    bool
	HTTPHeaders                           map[string]string
}

// FeedGroup is one resolved, ready-to-run unit: URLs plus identity
// digests plus resolved settings and an (optional) raw filter spec
// ready for filterexpr.Compile.
type FeedGroup struct {
	Urls         []string
	UrlsHash     hashid.Digest
	CriteriaHash hashid.Digest
	Filter       *filterexpr.Spec
	Settings     Settings
}

// Config is the fully loaded and resolved configuration.
type Config struct {
	ErrorReportTo []string
	Groups        []FeedGroup
}

// --- raw (as-decoded) shapes ---

type rawSettings struct {
	To                 any            `toml:"to"`
	Cc                 any            `toml:"cc"`
	Bcc                any            `toml:"bcc"`
	Digest             *bool          `toml:"digest"`
	ItemSubject        any            `toml:"item-subject"`
	DigestSubject      any            `toml:"digest-subject"`
	ItemBody           any            `toml:"item-body"`
	DigestBody         any            `toml:"digest-body"`
	TemplateArgs       map[string]any `toml:"template-args"`
	UpdateKeys         any            `toml:"update-keys"`
	UpdateKey          *string        `toml:"update-key"`
	Interval           *string        `toml:"interval"`
	KeepOld            *string        `toml:"keep-old"`
	Timeout            *string        `toml:"timeout"`
	MaxMailsPerCheck   *int           `toml:"max-mails-per-check"`
	Sanitize           *bool          `toml:"sanitize"`
	SortByLastModified *bool          `toml:"sort-by-last-modified"`
	HTTPHeaders        map[string]string `toml:"http-headers"`
}

type rawFeed struct {
	Urls   any               `toml:"urls"`
	Filter *filterexpr.Spec  `toml:"filter"`
	rawSettings
}

type rawConfig struct {
	ErrorReportTo any         `toml:"error-report-to"`
	Settings      rawSettings `toml:"settings"`
	Feeds         []rawFeed   `toml:"feeds"`
}

func defaultSettings() Settings {
	return Settings{
		UpdateKeys:       []string{"item.id"},
		Interval:         time.Hour,
		KeepOld:          30 * 24 * time.Hour,
		Timeout:          30 * time.Second,
		MaxMailsPerCheck: 10,
		Sanitize:         true,
	}
}

// Load reads and fully resolves the config file at path.
func Load(path string) (*Config, error) {
	var raw rawConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys: %v", undecoded)
	}

	globalDefaults := defaultSettings()
	global, err := resolveSettings(raw.Settings, globalDefaults)
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}

	errTo, err := toStringSlice(raw.ErrorReportTo)
	if err != nil {
		return nil, fmt.Errorf("error-report-to: %w", err)
	}
	if err := validateAddresses(errTo); err != nil {
		return nil, fmt.Errorf("error-report-to: %w", err)
	}

	cfg := &Config{ErrorReportTo: errTo}
	seen := map[hashid.Digest]bool{}

	for i, rf := range raw.Feeds {
		urls, err := toStringSlice(rf.Urls)
		if err != nil {
			return nil, fmt.Errorf("feeds[%d].urls: %w", i, err)
		}
		if len(urls) == 0 {
			return nil, fmt.Errorf("feeds[%d]: urls must be non-empty", i)
		}

		settings, err := resolveSettings(rf.rawSettings, global)
		if err != nil {
			return nil, fmt.Errorf("feeds[%d]: %w", i, err)
		}
		for _, addrs := range [][]string{settings.To, settings.Cc, settings.Bcc} {
			if err := validateAddresses(addrs); err != nil {
				return nil, fmt.Errorf("feeds[%d]: %w", i, err)
			}
		}

		urlsHash := hashid.URLsHash(urls)
		filterDigest := filterexpr.Digest(rf.Filter)
		criteriaHash := hashid.CriteriaHash(urlsHash, settings.UpdateKeys, filterDigest)

		if seen[urlsHash] {
			return nil, fmt.Errorf("feeds[%d]: duplicate urls_hash (URL list collides with another feed entry)", i)
		}
		seen[urlsHash] = true

		cfg.Groups = append(cfg.Groups, FeedGroup{
			Urls:         urls,
			UrlsHash:     urlsHash,
			CriteriaHash: criteriaHash,
			Filter:       rf.Filter,
			Settings:     settings,
		})
	}

	return cfg, nil
}

// resolveSettings applies r over base, returning a fully resolved
// Settings. Scalar/list fields override when present; template-args
// maps merge with the feed-level entry winning key conflicts.
func resolveSettings(r rawSettings, base Settings) (Settings, error) {
	out := base

	if r.To != nil {
		v, err := toStringSlice(r.To)
		if err != nil {
			return out, fmt.Errorf("to: %w", err)
		}
		out.To = v
	}
	if r.Cc != nil {
		v, err := toStringSlice(r.Cc)
		if err != nil {
			return out, fmt.Errorf("cc: %w", err)
		}
		out.Cc = v
	}
	if r.Bcc != nil {
		v, err := toStringSlice(r.Bcc)
		if err != nil {
			return out, fmt.Errorf("bcc: %w", err)
		}
		out.Bcc = v
	}
	if r.Digest != nil {
		out.Digest = *r.Digest
	}
	if r.ItemSubject != nil {
		ts, err := toTemplateSource(r.ItemSubject)
		if err != nil {
			return out, fmt.Errorf("item-subject: %w", err)
		}
		out.ItemSubject = ts
	}
	if r.DigestSubject != nil {
		ts, err := toTemplateSource(r.DigestSubject)
		if err != nil {
			return out, fmt.Errorf("digest-subject: %w", err)
		}
		out.DigestSubject = ts
	}
	if r.ItemBody != nil {
		ts, err := toTemplateSource(r.ItemBody)
		if err != nil {
			return out, fmt.Errorf("item-body: %w", err)
		}
		out.ItemBody = ts
	}
	if r.DigestBody != nil {
		ts, err := toTemplateSource(r.DigestBody)
		if err != nil {
			return out, fmt.Errorf("digest-body: %w", err)
		}
		out.DigestBody = ts
	}
	if len(r.TemplateArgs) > 0 {
		merged := map[string]any{}
		for k, v := range base.TemplateArgs {
			merged[k] = v
		}
		for k, v := range r.TemplateArgs {
			merged[k] = v
		}
		out.TemplateArgs = merged
	}
	if r.UpdateKeys != nil {
		v, err := toStringSlice(r.UpdateKeys)
		if err != nil {
			return out, fmt.Errorf("update-keys: %w", err)
		}
		out.UpdateKeys = v
	} else if r.UpdateKey != nil {
		out.UpdateKeys = []string{*r.UpdateKey}
	}
	if r.Interval != nil {
		d, err := ParseDuration(*r.Interval)
		if err != nil {
			return out, fmt.Errorf("interval: %w", err)
		}
		out.Interval = d
	}
	if r.KeepOld != nil {
		d, err := ParseDuration(*r.KeepOld)
		if err != nil {
			return out, fmt.Errorf("keep-old: %w", err)
		}
		out.KeepOld = d
	}
	if r.Timeout != nil {
		d, err := ParseDuration(*r.Timeout)
		if err != nil {
			return out, fmt.Errorf("timeout: %w", err)
		}
		out.Timeout = d
	}
	if r.MaxMailsPerCheck != nil {
		out.MaxMailsPerCheck = *r.MaxMailsPerCheck
	}
	if r.Sanitize != nil {
		out.Sanitize = *r.Sanitize
	}
	if r.SortByLastModified != nil {
		out.SortByLastModified = *r.SortByLastModified
	}
	if len(r.HTTPHeaders) > 0 {
		merged := map[string]string{}
		for k, v := range base.HTTPHeaders {
			merged[k] = v
		}
		for k, v := range r.HTTPHeaders {
			merged[k] = v
		}
		out.HTTPHeaders = merged
	}

	return out, nil
}

// validateAddresses rejects malformed recipient addresses at load
// time rather than at first send, matching the "compile errors surface
// at startup" philosophy the filter/expression compiler also follows.
func validateAddresses(addrs []string) error {
	for _, a := range addrs {
		if _, err := mail.ParseAddress(a); err != nil {
			return fmt.Errorf("invalid mailbox address %q: %w", a, err)
		}
	}
	return nil
}

func toStringSlice(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{t}, nil
	case []string:
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected string list, got element of type %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string or list of strings, got %T", v)
	}
}

func toTemplateSource(v any) (TemplateSource, error) {
	switch t := v.(type) {
	case string:
		return TemplateSource{Inline: t}, nil
	case map[string]any:
		if f, ok := t["file"].(string); ok {
			return TemplateSource{File: f}, nil
		}
		return TemplateSource{}, fmt.Errorf("table form must set {file = \"path\"}")
	default:
		return TemplateSource{}, fmt.Errorf("expected string or {file = \"path\"}, got %T", v)
	}
}
