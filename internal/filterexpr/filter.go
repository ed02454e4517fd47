package filterexpr

import (
	"fmt"
	"regexp"

	"github.com/google/cel-go/cel"

	"github.com/feedrelay/feedrelay/internal/feed"
)

// ItemContext is what a compiled filter/expression is evaluated
// against: the parsed feed document plus one of its items. It never
// aliases the gofeed document, per the owned-context re-architecture
// called for in the design notes.
type ItemContext struct {
	Feed feed.Feed
	Item feed.Item
}

// CELVars returns the {feed, item} activation map used by both the
// Expression filter node and update-key expressions.
func (c ItemContext) CELVars() map[string]any {
	var published, updated string
	if c.Item.Published != nil {
		published = c.Item.Published.Format("2006-01-02T15:04:05Z07:00")
	}
	if c.Item.Updated != nil {
		updated = c.Item.Updated.Format("2006-01-02T15:04:05Z07:00")
	}
	return map[string]any{
		"feed": map[string]any{
			"title": c.Feed.Title,
			"link":  c.Feed.Link,
			"url":   c.Feed.URL,
		},
		"item": map[string]any{
			"id":        c.Item.ID,
			"title":     c.Item.Title,
			"summary":   c.Item.Summary,
			"content":   c.Item.ContentBody,
			"link":      c.Item.Link,
			"published": published,
			"updated":   updated,
		},
	}
}

// Env is the per-group CEL environment that Expression filter nodes
// and update-key expressions compile against. The worker builds it
// once per claimed cycle of a group and shares it read-only across
// every item evaluated in that cycle.
type Env struct {
	cel *cel.Env
}

// NewEnv builds the shared CEL environment declaring the feed/item
// variables every expression sees.
func NewEnv() (*Env, error) {
	e, err := cel.NewEnv(
		cel.Variable("feed", cel.DynType),
		cel.Variable("item", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("build expression environment: %w", err)
	}
	return &Env{cel: e}, nil
}

func (e *Env) compileExpr(source string) (cel.Program, error) {
	ast, issues := e.cel.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression %q: %w", source, issues.Err())
	}
	prg, err := e.cel.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build program for %q: %w", source, err)
	}
	return prg, nil
}

// Filter is a compiled, reusable evaluator for one group's cycle.
// Regex and expression leaves hold their compiled form so compilation
// errors surface when the filter is built, before any item is
// evaluated, not per item.
type Filter struct {
	label string

	children []*Filter // And/Or
	inner    *Filter   // Not

	rx   *regexp.Regexp // TitleRegex/BodyRegex/Regex
	prog cel.Program     // Expression
}

// Compile builds an evaluator from a raw Spec against env. Exactly
// one variant field of spec must be set.
func Compile(spec *Spec, env *Env) (*Filter, error) {
	if spec == nil {
		return nil, nil
	}
	return compileNode(*spec, env)
}

func compileNode(s Spec, env *Env) (*Filter, error) {
	set := 0
	for _, present := range []bool{s.And != nil, s.Or != nil, s.Not != nil, s.TitleRx != nil, s.BodyRx != nil, s.Rx != nil, s.JinjaExpr != nil} {
		if present {
			set++
		}
	}
	if set > 1 {
		return nil, fmt.Errorf("filter node sets %d variants; exactly one is allowed", set)
	}
	label := s.label()
	switch label {
	case "And":
		f := &Filter{label: label}
		for _, c := range *s.And {
			cf, err := compileNode(c, env)
			if err != nil {
				return nil, err
			}
			f.children = append(f.children, cf)
		}
		return f, nil
	case "Or":
		f := &Filter{label: label}
		for _, c := range *s.Or {
			cf, err := compileNode(c, env)
			if err != nil {
				return nil, err
			}
			f.children = append(f.children, cf)
		}
		return f, nil
	case "Not":
		inner, err := compileNode(*s.Not, env)
		if err != nil {
			return nil, err
		}
		return &Filter{label: label, inner: inner}, nil
	case "TitleRegex":
		rx, err := regexp.Compile(*s.TitleRx)
		if err != nil {
			return nil, fmt.Errorf("title-regex: %w", err)
		}
		return &Filter{label: label, rx: rx}, nil
	case "BodyRegex":
		rx, err := regexp.Compile(*s.BodyRx)
		if err != nil {
			return nil, fmt.Errorf("body-regex: %w", err)
		}
		return &Filter{label: label, rx: rx}, nil
	case "Regex":
		rx, err := regexp.Compile(*s.Rx)
		if err != nil {
			return nil, fmt.Errorf("regex: %w", err)
		}
		return &Filter{label: label, rx: rx}, nil
	case "Expression":
		prog, err := env.compileExpr(*s.JinjaExpr)
		if err != nil {
			return nil, err
		}
		return &Filter{label: label, prog: prog}, nil
	default:
		return nil, fmt.Errorf("filter node has no recognized variant set")
	}
}

// Evaluate runs the evaluator against ctx. A nil receiver (no filter
// configured) always matches.
func (f *Filter) Evaluate(ctx ItemContext) (bool, error) {
	if f == nil {
		return true, nil
	}
	switch f.label {
	case "And":
		for _, c := range f.children {
			ok, err := c.Evaluate(ctx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case "Or":
		for _, c := range f.children {
			ok, err := c.Evaluate(ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case "Not":
		ok, err := f.inner.Evaluate(ctx)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case "TitleRegex":
		if ctx.Item.Title == "" {
			return false, nil
		}
		return f.rx.MatchString(ctx.Item.Title), nil
	case "BodyRegex":
		matched := false
		if ctx.Item.Summary != "" && f.rx.MatchString(ctx.Item.Summary) {
			matched = true
		}
		if ctx.Item.ContentBody != "" && f.rx.MatchString(ctx.Item.ContentBody) {
			matched = true
		}
		return matched, nil
	case "Regex":
		if ctx.Item.Title != "" && f.rx.MatchString(ctx.Item.Title) {
			return true, nil
		}
		if ctx.Item.Summary != "" && f.rx.MatchString(ctx.Item.Summary) {
			return true, nil
		}
		if ctx.Item.ContentBody != "" && f.rx.MatchString(ctx.Item.ContentBody) {
			return true, nil
		}
		return false, nil
	case "Expression":
		out, _, err := f.prog.Eval(ctx.CELVars())
		if err != nil {
			return false, fmt.Errorf("evaluate expression: %w", err)
		}
		v, ok := out.Value().(bool)
		if !ok {
			return false, fmt.Errorf("expression did not evaluate to a boolean")
		}
		return v, nil
	default:
		return false, fmt.Errorf("unreachable filter label %q", f.label)
	}
}

// UpdateKeyExprs is the compiled, ordered set of update-key
// expressions for a group.
type UpdateKeyExprs struct {
	sources []string
	progs   []cel.Program
}

// CompileUpdateKeys compiles each key once; compilation errors surface
// immediately rather than per item.
func CompileUpdateKeys(keys []string, env *Env) (*UpdateKeyExprs, error) {
	u := &UpdateKeyExprs{sources: keys}
	for _, k := range keys {
		prog, err := env.compileExpr(k)
		if err != nil {
			return nil, fmt.Errorf("update key %q: %w", k, err)
		}
		u.progs = append(u.progs, prog)
	}
	return u, nil
}

// Evaluate runs every compiled key against ctx in order, returning the
// raw result values (callers hash each one via hashid.HashValue).
func (u *UpdateKeyExprs) Evaluate(ctx ItemContext) ([]any, error) {
	vars := ctx.CELVars()
	out := make([]any, 0, len(u.progs))
	for i, p := range u.progs {
		val, _, err := p.Eval(vars)
		if err != nil {
			return nil, fmt.Errorf("update key %q: %w", u.sources[i], err)
		}
		out = append(out, val.Value())
	}
	return out, nil
}

// Sources returns the original ordered key expression strings.
func (u *UpdateKeyExprs) Sources() []string {
	return append([]string(nil), u.sources...)
}
