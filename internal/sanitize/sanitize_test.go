package sanitize

import "testing"

func TestHTMLStripsScriptAndStyle(t *testing.T) {
	out := HTML(`<p>hi</p><script>alert(1)</script><style>body{}</style>`)
	if containsSub(out, "alert") || containsSub(out, "body{}") {
		t.Fatalf("expected script/style removed, got %q", out)
	}
	if !containsSub(out, "<p>hi</p>") {
		t.Fatalf("expected surrounding markup preserved, got %q", out)
	}
}

func TestHTMLStripsEventHandlers(t *testing.T) {
	out := HTML(`<img src="x.png" onerror="evil()">`)
	if containsSub(out, "onerror") {
		t.Fatalf("expected onerror attribute removed, got %q", out)
	}
}

func TestHTMLNeutralizesJavascriptHref(t *testing.T) {
	out := HTML(`<a href="javascript:evil()">click</a>`)
	if containsSub(out, "javascript:") {
		t.Fatalf("expected javascript: href neutralized, got %q", out)
	}
}

func TestHTMLPassesThroughBlank(t *testing.T) {
	if HTML("   ") != "   " {
		t.Fatalf("expected blank input returned unchanged")
	}
}

func containsSub(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
