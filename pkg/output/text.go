package output

import (
	"fmt"
	"io"
	"time"

	"github.com/Charca/pkgshield/pkg/audit"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const dateLayout = "2006-01-02"

// Summary partitions reports by whether any heuristic flagged them. Both
// slices keep the audit order.
type Summary struct {
	WithWarnings []audit.PackageReport `json:"with_warnings"`
	Clean        []audit.PackageReport `json:"clean"`
}

// Aggregate splits reports into flagged and clean packages.
func Aggregate(reports []audit.PackageReport) Summary {
	s := Summary{
		WithWarnings: []audit.PackageReport{},
		Clean:        []audit.PackageReport{},
	}
	for _, r := range reports {
		if r.HasWarnings() {
			s.WithWarnings = append(s.WithWarnings, r)
		} else {
			s.Clean = append(s.Clean, r)
		}
	}
	return s
}

// TextOptions controls terminal rendering.
type TextOptions struct {
	// NoColor forces plain output even on a colour terminal.
	NoColor bool
}

type textStyles struct {
	header  lipgloss.Style
	warning lipgloss.Style
	pkg     lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
}

func newTextStyles(w io.Writer, opts TextOptions) textStyles {
	r := lipgloss.NewRenderer(w)
	if opts.NoColor {
		r.SetColorProfile(termenv.Ascii)
	}
	return textStyles{
		header:  r.NewStyle().Bold(true),
		warning: r.NewStyle().Foreground(lipgloss.Color("#F4D03F")),
		pkg:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#20B9B4")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("#7F8C8D")),
		success: r.NewStyle().Foreground(lipgloss.Color("#2CD7C7")),
	}
}

// WriteTextReport writes the human-readable report. Only flagged packages are
// listed in detail; clean packages are counted.
func WriteTextReport(w io.Writer, reports []audit.PackageReport, opts TextOptions) error {
	summary := Aggregate(reports)
	st := newTextStyles(w, opts)
	p := &printer{w: w}

	p.line(st.header.Render("=== SECURITY CHECK REPORT ==="))
	p.line("")

	if len(summary.WithWarnings) > 0 {
		p.line(st.warning.Render(fmt.Sprintf("⚠️  Found %d package(s) with warnings:", len(summary.WithWarnings))))
		p.line("")

		for _, r := range summary.WithWarnings {
			p.line(st.pkg.Render(fmt.Sprintf("📦 %s@%s", r.Name, r.InstalledVersion)))
			p.line(st.muted.Render("   First release: " + formatDate(r.FirstReleaseDate)))
			p.line(st.muted.Render("   Installed version date: " + formatDate(r.InstalledVersionDate)))
			p.line(st.muted.Render("   Latest release: " + formatDate(r.LatestVersionDate)))
			for _, warning := range r.Warnings {
				p.line(st.warning.Render("   ⚠️  " + warning.Message))
			}
			p.line("")
		}
	}

	if len(summary.Clean) > 0 {
		p.line(st.success.Render(fmt.Sprintf("✅ %d package(s) passed all checks", len(summary.Clean))))
		p.line("")
	}

	p.line(st.header.Render("=== END REPORT ==="))
	return p.err
}

// printer remembers the first write error so rendering code stays linear.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) line(s string) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintln(p.w, s)
}

// formatDate renders the calendar date of t in UTC.
func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}
