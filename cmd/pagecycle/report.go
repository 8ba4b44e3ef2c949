package main

import (
	"fmt"
	"io"

	"charm.land/lipgloss/v2"

	scraperflow "github.com/m4w1s/scraperflow"
)

var (
	reportTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	reportOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	reportWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	reportErr   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	reportLabel = lipgloss.NewStyle().Faint(true)
)

// reportPrinter renders each CycleSummary as a short styled block, the
// CLI-native stand-in for the teacher's served dashboard view.
type reportPrinter struct {
	out   io.Writer
	count int
}

func newReportPrinter(out io.Writer) *reportPrinter {
	return &reportPrinter{out: out}
}

func (p *reportPrinter) attach(sched *scraperflow.Scheduler) {
	sched.OnStarted(func() {
		fmt.Fprintln(p.out, reportTitle.Render("pagecycle started"))
	})
	sched.OnStopped(func() {
		fmt.Fprintln(p.out, reportTitle.Render("pagecycle stopped"))
	})
	sched.OnCycleSummary(func(s scraperflow.CycleSummary) {
		p.count++
		p.printSummary(s)
	})
	sched.OnValidationWarning(func(key, msg string) {
		fmt.Fprintln(p.out, reportWarn.Render(fmt.Sprintf("config warning [%s]: %s", key, msg)))
	})
	sched.OnGeneralError(func(err error) {
		fmt.Fprintln(p.out, reportErr.Render(fmt.Sprintf("error: %v", err)))
	})
}

func (p *reportPrinter) printSummary(s scraperflow.CycleSummary) {
	status := reportOK.Render("completed")
	if !s.Completed {
		status = reportWarn.Render("incomplete")
	}

	fmt.Fprintln(p.out, reportTitle.Render(fmt.Sprintf("cycle %d — %s", p.count, status)))
	fmt.Fprintln(p.out, reportLabel.Render("pages")+fmt.Sprintf(" %d fetched, %d failed, %d errors",
		s.Stats.TotalPageCount, len(s.Stats.FailedPageList), s.Stats.TotalErrorCount))
	fmt.Fprintln(p.out, reportLabel.Render("timing")+fmt.Sprintf(" total=%dms avg=%dms avgOK=%dms avgFailed=%dms",
		s.Stats.Timings.Total, s.Stats.Timings.AvgAll, s.Stats.Timings.AvgOK, s.Stats.Timings.AvgFailed))
	if len(s.Stats.FailedPageList) > 0 {
		fmt.Fprintln(p.out, reportErr.Render(fmt.Sprintf("failed pages: %v", s.Stats.FailedPageList)))
	}
}
