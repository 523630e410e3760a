package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/hospital-costing/internal/allocation"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

// Printer renders allocation results for operators.
type Printer struct {
	out io.Writer
	msg *message.Printer
}

// NewPrinter builds a printer for a BCP 47 locale, English when unparsable.
func NewPrinter(out io.Writer, locale string) *Printer {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.English
	}
	return &Printer{out: out, msg: message.NewPrinter(tag)}
}

// Amount formats a money value with grouping and two decimals.
func (p *Printer) Amount(v decimal.Decimal) string {
	return shared.FormatMoney(p.msg, v)
}

// Execution prints the batch id, skipped rules and the review.
func (p *Printer) Execution(res allocation.ExecutionResult) {
	fmt.Fprintf(p.out, "batch %s created with %d journals\n", res.BatchID, len(res.Journals))
	p.Skipped(res.Skipped)
	p.Review(res.Review)
}

// Skipped lists rules left out of a run.
func (p *Printer) Skipped(skipped []allocation.SkippedRule) {
	if len(skipped) == 0 {
		return
	}
	fmt.Fprintf(p.out, "skipped rules:\n")
	for _, s := range skipped {
		fmt.Fprintf(p.out, "  %s: %s\n", s.Code, s.Reason)
	}
}

// Review prints the zero-sum table per source cost center.
func (p *Printer) Review(r allocation.Review) {
	fmt.Fprintf(p.out, "batch %s (%s) %s to %s\n", r.BatchID, r.Status, r.PeriodStart.Format("2006-01-02"), r.PeriodEnd.Format("2006-01-02"))
	data := pterm.TableData{{"SOURCE", "RULES", "JOURNALS", "SOURCE AMOUNT", "ALLOCATED", "DIFFERENCE"}}
	for _, g := range r.Groups {
		data = append(data, []string{
			strconv.FormatInt(g.SourceCostCenterID, 10),
			strconv.Itoa(g.RuleCount),
			strconv.Itoa(g.JournalCount),
			p.Amount(g.SourceAmount),
			p.Amount(g.AllocatedAmount),
			p.Amount(g.Difference),
		})
	}
	data = append(data, []string{"TOTAL", "", "", p.Amount(r.TotalSource), p.Amount(r.TotalAllocated), p.Amount(r.Difference)})
	table, err := pterm.DefaultTable.WithHasHeader().WithRightAlignment().WithData(data).Srender()
	if err != nil {
		fmt.Fprintf(p.out, "render review table: %v\n", err)
	} else {
		fmt.Fprintln(p.out, table)
	}
	verdict := "balanced"
	if !r.Balanced {
		verdict = "NOT balanced"
	}
	fmt.Fprintf(p.out, "%s within %s, can post: %t\n", verdict, r.Tolerance.String(), r.CanPost)
}

// Rollback prints the outcome of a reversal.
func (p *Printer) Rollback(res allocation.RollbackResult) {
	fmt.Fprintf(p.out, "batch %s reversed from %s (%d rows)\n", res.BatchID, res.PreviousStatus, res.Reversed)
	if res.ReversalBatchID != "" {
		fmt.Fprintf(p.out, "mirror journals written to %s\n", res.ReversalBatchID)
	}
}
