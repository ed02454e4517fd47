// Package failtrack holds the process-local, unpersisted state that
// debounces operator failure-report emails: a digest over the
// currently-failing group set plus a countdown that resets whenever
// that set changes.
package failtrack

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"

	"github.com/feedrelay/feedrelay/internal/hashid"
	"github.com/feedrelay/feedrelay/internal/store"
)

// Action is the tracker's verdict for the current tick.
type Action int

const (
	// ActionNone means nothing should be mailed this tick.
	ActionNone Action = iota
	// ActionReport means the failing set has been stable for the
	// debounce threshold and a failure-report email should go out.
	ActionReport
	// ActionRecovery means the failing set just transitioned from
	// non-empty to empty and a recovery email should go out
	// immediately (recovery is not itself debounced).
	ActionRecovery
)

const initialDebounce = 5

// Tracker is safe for single-owner sequential use from the dispatch
// loop; it is not meant to be shared across goroutines.
type Tracker struct {
	reportTo    []string
	initialized bool
	hash        hashid.Digest
	debounce    int
	wasEmpty    bool
}

// New builds a Tracker that mails reportTo.
func New(reportTo []string) *Tracker {
	return &Tracker{reportTo: reportTo, debounce: initialDebounce}
}

// Result is what Tick decided, with the rendered mail ready to send
// when Action != ActionNone.
type Result struct {
	Action  Action
	Subject string
	Body    string
}

// Tick feeds the current failing set (already matched back to live
// FeedGroups by the caller) through the debounce state machine.
func (t *Tracker) Tick(failing []store.Failure) Result {
	digest := sortedDigest(failing)
	empty := len(failing) == 0

	if t.initialized && !t.wasEmpty && empty {
		t.hash = digest
		t.wasEmpty = true
		t.debounce = initialDebounce
		subject, body := renderRecovery()
		return Result{Action: ActionRecovery, Subject: subject, Body: body}
	}

	if t.initialized && digest == t.hash {
		if t.debounce <= 0 {
			return Result{Action: ActionNone}
		}
		t.debounce--
		if t.debounce == 1 && !empty {
			t.debounce = 0
			subject, body := renderReport(failing)
			return Result{Action: ActionReport, Subject: subject, Body: body}
		}
		return Result{Action: ActionNone}
	}

	t.hash = digest
	t.debounce = initialDebounce
	t.wasEmpty = empty
	t.initialized = true
	return Result{Action: ActionNone}
}

// ReportTo returns the operator mailboxes to send tracker mail to.
func (t *Tracker) ReportTo() []string { return append([]string(nil), t.reportTo...) }

func sortedDigest(failing []store.Failure) hashid.Digest {
	hashes := make([]hashid.Digest, len(failing))
	for i, f := range failing {
		hashes[i] = f.URLsHash
	}
	return hashid.SortedURLsHashDigest(hashes)
}

type reportRow struct {
	URLsHashHex string
	Error       string
}

var reportTpl = template.Must(template.New("report").Parse(`<h1>Feed check failures</h1>
<p>The following feed groups have been failing for several consecutive checks:</p>
<ul>
{{- range . }}
<li><code>{{ .URLsHashHex }}</code>: {{ .Error }}</li>
{{- end }}
</ul>
`))

var recoveryTpl = template.Must(template.New("recovery").Parse(`<h1>All feeds are back to normal now</h1>
<p>Every previously-failing feed group has recovered.</p>
`))

func renderReport(failing []store.Failure) (subject, body string) {
	sort.Slice(failing, func(i, j int) bool {
		return bytes.Compare(failing[i].URLsHash[:], failing[j].URLsHash[:]) < 0
	})
	rows := make([]reportRow, 0, len(failing))
	for _, f := range failing {
		rows = append(rows, reportRow{URLsHashHex: fmt.Sprintf("%x", f.URLsHash[:4]), Error: f.Error})
	}
	var buf bytes.Buffer
	_ = reportTpl.Execute(&buf, rows)
	return "Feed check failures", buf.String()
}

func renderRecovery() (subject, body string) {
	var buf bytes.Buffer
	_ = recoveryTpl.Execute(&buf, nil)
	return "All feeds are back to normal now", buf.String()
}
