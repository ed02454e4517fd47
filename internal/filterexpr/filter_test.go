package filterexpr

import (
	"testing"

	"github.com/feedrelay/feedrelay/internal/feed"
)

func mustEnv(t *testing.T) *Env {
	t.Helper()
	env, err := NewEnv()
	if err != nil {
		t.Fatalf("NewEnv: %v", err)
	}
	return env
}

func ctxWithTitle(title string) ItemContext {
	return ItemContext{Item: feed.Item{ID: "a", Title: title}}
}

func TestAndEmptyIsTrue(t *testing.T) {
	env := mustEnv(t)
	empty := []Spec{}
	spec := &Spec{And: &empty}
	f, err := Compile(spec, env)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ok, err := f.Evaluate(ctxWithTitle("anything"))
	if err != nil || !ok {
		t.Fatalf("expected empty And to be true, got %v err %v", ok, err)
	}
}

func TestOrEmptyIsFalse(t *testing.T) {
	env := mustEnv(t)
	empty := []Spec{}
	spec := &Spec{Or: &empty}
	f, err := Compile(spec, env)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ok, err := f.Evaluate(ctxWithTitle("anything"))
	if err != nil || ok {
		t.Fatalf("expected empty Or to be false, got %v err %v", ok, err)
	}
}

func TestNotNegates(t *testing.T) {
	env := mustEnv(t)
	pattern := "Rust"
	inner := Spec{TitleRx: &pattern}
	spec := &Spec{Not: &inner}
	f, err := Compile(spec, env)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ok, err := f.Evaluate(ctxWithTitle("Rust release"))
	if err != nil || ok {
		t.Fatalf("expected Not(TitleRegex) to reject matching title")
	}
	ok, err = f.Evaluate(ctxWithTitle("Go release"))
	if err != nil || !ok {
		t.Fatalf("expected Not(TitleRegex) to accept non-matching title")
	}
}

func TestTitleRegexNoTitle(t *testing.T) {
	env := mustEnv(t)
	pattern := "Rust"
	spec := &Spec{TitleRx: &pattern}
	f, err := Compile(spec, env)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ok, err := f.Evaluate(ItemContext{Item: feed.Item{ID: "a"}})
	if err != nil || ok {
		t.Fatalf("expected no match with empty title")
	}
}

func TestBodyRegexMatchesSummaryOrContent(t *testing.T) {
	env := mustEnv(t)
	pattern := "important"
	spec := &Spec{BodyRx: &pattern}
	f, err := Compile(spec, env)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ok, err := f.Evaluate(ItemContext{Item: feed.Item{Summary: "this is important news"}})
	if err != nil || !ok {
		t.Fatalf("expected BodyRegex to match summary")
	}
	ok, err = f.Evaluate(ItemContext{Item: feed.Item{ContentBody: "important update"}})
	if err != nil || !ok {
		t.Fatalf("expected BodyRegex to match content")
	}
}

func TestExpressionFilter(t *testing.T) {
	env := mustEnv(t)
	src := `item.title == "wanted"`
	spec := &Spec{JinjaExpr: &src}
	f, err := Compile(spec, env)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ok, err := f.Evaluate(ctxWithTitle("wanted"))
	if err != nil || !ok {
		t.Fatalf("expected expression match")
	}
	ok, err = f.Evaluate(ctxWithTitle("unwanted"))
	if err != nil || ok {
		t.Fatalf("expected expression non-match")
	}
}

func TestNilFilterAlwaysMatches(t *testing.T) {
	var f *Filter
	ok, err := f.Evaluate(ctxWithTitle("anything"))
	if err != nil || !ok {
		t.Fatalf("expected nil filter to always match")
	}
}

func TestDigestDistinguishesStructure(t *testing.T) {
	pattern := "x"
	titleSpec := &Spec{TitleRx: &pattern}
	bodySpec := &Spec{BodyRx: &pattern}
	if Digest(titleSpec) == Digest(bodySpec) {
		t.Fatalf("expected different labels to produce different digests")
	}
	if Digest(nil) != Digest(nil) {
		t.Fatalf("expected nil digest to be stable")
	}
}

func TestUpdateKeyExprsIndependent(t *testing.T) {
	env := mustEnv(t)
	keys, err := CompileUpdateKeys([]string{"item.id"}, env)
	if err != nil {
		t.Fatalf("compile update keys: %v", err)
	}
	vals, err := keys.Evaluate(ItemContext{Item: feed.Item{ID: "abc"}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(vals) != 1 || vals[0] != "abc" {
		t.Fatalf("unexpected update key values: %v", vals)
	}
}
