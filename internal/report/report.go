// Package report prints run results for humans.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rbscrobble/rbscrobble/internal/ledger"
	"github.com/rbscrobble/rbscrobble/internal/scrobble"
)

// Printer writes styled lines to w.
type Printer struct {
	w     io.Writer
	theme Theme
	now   func() time.Time
}

func New(w io.Writer, theme Theme) *Printer {
	return &Printer{w: w, theme: theme, now: time.Now}
}

func (p *Printer) println(s string) {
	fmt.Fprintln(p.w, s)
}

// Missing notes plays skipped for lack of metadata.
func (p *Printer) Missing(n int) {
	if n == 0 {
		return
	}
	p.println(p.theme.Warning.Render(fmt.Sprintf("Missing metadata for %s", plural(n, "path"))))
}

func (p *Printer) Truncated(path string) {
	p.println(p.theme.Dim.Render("Truncated " + path))
}

// DryRun lists what would be sent to each account.
func (p *Printer) DryRun(tracks []scrobble.Track, accounts []string) {
	p.println(p.theme.Title.Render(fmt.Sprintf("Dry run: would scrobble %s to %s",
		plural(len(tracks), "track"), plural(len(accounts), "account"))))
	for _, id := range accounts {
		p.println("  " + id)
	}
	now := p.now()
	for _, t := range tracks {
		line := "  " + t.String()
		if t.Album != "" {
			line += " [" + t.Album + "]"
		}
		p.println(line + " " + p.theme.Dim.Render("("+humanize.RelTime(t.StartedAt(), now, "ago", "from now")+")"))
	}
}

// AccountResult reports one account's submissions.
func (p *Printer) AccountResult(service, username string, res scrobble.Result) {
	msg := fmt.Sprintf("Scrobbled %s to %s for %s", plural(res.Submitted, "track"), service, username)
	if res.Skipped > 0 {
		msg += fmt.Sprintf(" (%s already submitted)", humanize.Comma(int64(res.Skipped)))
	}
	style := p.theme.Success
	if len(res.Failures) > 0 {
		style = p.theme.Warning
	}
	p.println(style.Render(msg))
	for _, f := range res.Failures {
		p.println(p.theme.Error.Render("  failed: ") + f.String())
	}
}

// AccountError reports an account that could not start.
func (p *Printer) AccountError(id string, err error) {
	p.println(p.theme.Error.Render(fmt.Sprintf("%s: %v", id, err)))
}

// Summary prints the final line of a run.
func (p *Printer) Summary(failures int) {
	if failures == 0 {
		p.println(p.theme.Success.Render("Done"))
		return
	}
	p.println(p.theme.Error.Render(fmt.Sprintf("Done with %s", plural(failures, "failure"))))
}

// Check prints one doctor line.
func (p *Printer) Check(name string, ok bool, detail string) {
	status := p.theme.Success.Render("OK")
	if !ok {
		status = p.theme.Error.Render("FAIL")
	}
	line := fmt.Sprintf("%s: %s", name, status)
	if detail != "" {
		line += " " + p.theme.Dim.Render("("+detail+")")
	}
	p.println(line)
}

// Runs prints recent run summaries, newest first.
func (p *Printer) Runs(runs []ledger.Run) {
	if len(runs) == 0 {
		p.println(p.theme.Dim.Render("No runs recorded"))
		return
	}
	now := p.now()
	for _, r := range runs {
		kind := ""
		if r.DryRun {
			kind = " dry run"
		}
		p.println(fmt.Sprintf("%s%s: %d samples, %d eligible, %d missing, %d submitted, %d failed",
			p.theme.Title.Render(humanize.RelTime(r.StartedAt, now, "ago", "from now")), kind,
			r.Samples, r.Eligible, r.Missing, r.Submitted, r.Failed))
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return humanize.Comma(int64(n)) + " " + noun + "s"
}
