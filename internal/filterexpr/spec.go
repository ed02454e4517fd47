package filterexpr

// Spec is the raw, as-configured filter tree, decoded directly from
// the TOML filter syntax described in the configuration file format:
// {and: [...]}, {or: [...]}, {not: filter}, {title-regex: "..."},
// {body-regex: "..."}, {regex: "..."}, {jinja-expr: "..."}. Exactly
// one field is populated per node; Compile rejects nodes where more
// than one (or none) is set.
type Spec struct {
	And       *[]Spec `toml:"and"`
	Or        *[]Spec `toml:"or"`
	Not       *Spec   `toml:"not"`
	TitleRx   *string `toml:"title-regex"`
	BodyRx    *string `toml:"body-regex"`
	Rx        *string `toml:"regex"`
	JinjaExpr *string `toml:"jinja-expr"`
}

func (s Spec) label() string {
	switch {
	case s.And != nil:
		return "And"
	case s.Or != nil:
		return "Or"
	case s.Not != nil:
		return "Not"
	case s.TitleRx != nil:
		return "TitleRegex"
	case s.BodyRx != nil:
		return "BodyRegex"
	case s.Rx != nil:
		return "Regex"
	case s.JinjaExpr != nil:
		return "Expression"
	default:
		return ""
	}
}
