package hashid

import "testing"

func TestURLsHashOrderSensitive(t *testing.T) {
	a := URLsHash([]string{"https://a", "https://b"})
	b := URLsHash([]string{"https://b", "https://a"})
	if a == b {
		t.Fatalf("expected different hashes for reordered URL lists")
	}
}

func TestURLsHashDeterministic(t *testing.T) {
	a := URLsHash([]string{"https://a", "https://b"})
	b := URLsHash([]string{"https://a", "https://b"})
	if a != b {
		t.Fatalf("expected stable hash for identical input")
	}
}

func TestCriteriaHashChangesWithKeysOrFilter(t *testing.T) {
	u := URLsHash([]string{"https://a"})
	base := CriteriaHash(u, []string{"item.id"}, Zero)
	withFilter := CriteriaHash(u, []string{"item.id"}, HashString("some-filter"))
	withKeys := CriteriaHash(u, []string{"item.id", "item.updated"}, Zero)

	if base == withFilter {
		t.Fatalf("expected criteria hash to change when filter digest changes")
	}
	if base == withKeys {
		t.Fatalf("expected criteria hash to change when update keys change")
	}
}

func TestUpdateHashIndependentHashing(t *testing.T) {
	// "ab"+"c" and "a"+"bc" must not collide once each part is hashed
	// independently before combination.
	d1 := UpdateHash([]Digest{HashString("ab"), HashString("c")})
	d2 := UpdateHash([]Digest{HashString("a"), HashString("bc")})
	if d1 == d2 {
		t.Fatalf("expected no concatenation-ambiguity collision")
	}
}

func TestSortedURLsHashDigestOrderIndependent(t *testing.T) {
	a := SortedURLsHashDigest([]Digest{HashString("x"), HashString("y")})
	b := SortedURLsHashDigest([]Digest{HashString("y"), HashString("x")})
	if a != b {
		t.Fatalf("expected order-independent digest over the failing set")
	}
}
