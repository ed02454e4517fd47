package filterexpr

import "github.com/feedrelay/feedrelay/internal/hashid"

// Digest computes the labeled recursive filter-tree digest described
// in the data model: the node's label is mixed in before its
// children/pattern, so structurally distinct trees never collide.
// A nil spec (no filter configured) yields the zero digest.
func Digest(spec *Spec) hashid.Digest {
	if spec == nil {
		return hashid.Zero
	}
	return digestNode(*spec)
}

func digestNode(s Spec) hashid.Digest {
	label := s.label()
	parts := [][]byte{[]byte(label)}

	switch label {
	case "And", "Or":
		children := s.And
		if label == "Or" {
			children = s.Or
		}
		digests := make([]hashid.Digest, 0, len(*children))
		for _, c := range *children {
			digests = append(digests, digestNode(c))
		}
		return combine(label, digests)
	case "Not":
		inner := digestNode(*s.Not)
		return combine(label, []hashid.Digest{inner})
	case "TitleRegex":
		parts = append(parts, []byte(*s.TitleRx))
	case "BodyRegex":
		parts = append(parts, []byte(*s.BodyRx))
	case "Regex":
		parts = append(parts, []byte(*s.Rx))
	case "Expression":
		parts = append(parts, []byte(*s.JinjaExpr))
	}
	return hashid.HashBytes(joinParts(parts))
}

func combine(label string, children []hashid.Digest) hashid.Digest {
	parts := [][]byte{[]byte(label)}
	for _, d := range children {
		cp := d
		parts = append(parts, cp[:])
	}
	return hashid.HashBytes(joinParts(parts))
}

func joinParts(parts [][]byte) []byte {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
