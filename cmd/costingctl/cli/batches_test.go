package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/hospital-costing/internal/allocation"
	"github.com/odyssey-erp/hospital-costing/jobs"
)

func TestPrinterReview(t *testing.T) {
	pterm.DisableStyling()
	t.Cleanup(pterm.EnableStyling)
	var buf bytes.Buffer
	p := NewPrinter(&buf, "en-US")
	million := decimal.NewFromInt(1000000)
	ledger := decimal.RequireFromString("98765432109876543.21")
	p.Review(allocation.Review{
		BatchID:        "ALLOC-202401-AAAA0001",
		Status:         allocation.StatusDraft,
		PeriodStart:    time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC),
		Groups: []allocation.SourceGroup{
			{SourceCostCenterID: 2, RuleCount: 1, JournalCount: 6, SourceAmount: million, AllocatedAmount: million},
			{SourceCostCenterID: 7, RuleCount: 2, JournalCount: 4, SourceAmount: ledger, AllocatedAmount: ledger},
		},
		TotalSource:    million.Add(ledger),
		TotalAllocated: million.Add(ledger),
		Tolerance:      decimal.RequireFromString("0.01"),
		Balanced:       true,
		CanPost:        true,
	})

	out := buf.String()
	require.Contains(t, out, "batch ALLOC-202401-AAAA0001 (draft) 2024-01-01 to 2024-01-31")
	require.Contains(t, out, "1,000,000.00")
	require.Contains(t, out, "98,765,432,109,876,543.21")
	require.Contains(t, out, "98,765,432,110,876,543.21")
	require.NotContains(t, out, "\x1b[")
	require.Contains(t, out, "SOURCE AMOUNT")
	require.Less(t, strings.Index(out, "SOURCE AMOUNT"), strings.Index(out, "TOTAL"))
	require.Contains(t, out, "balanced within 0.01, can post: true")
}

func TestPrinterExecutionAndRollback(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, "??")
	p.Execution(allocation.ExecutionResult{
		BatchID:  "ALLOC-202401-AAAA0001",
		Journals: make([]allocation.Journal, 2),
		Skipped:  []allocation.SkippedRule{{Code: "AR-LDR-001", Reason: "no source amount"}},
	})
	p.Rollback(allocation.RollbackResult{BatchID: "ALLOC-202401-AAAA0001", PreviousStatus: allocation.StatusPosted, ReversalBatchID: "ALLOC-202401-AAAA0001-REV", Reversed: 2})

	out := buf.String()
	require.Contains(t, out, "created with 2 journals")
	require.Contains(t, out, "AR-LDR-001: no source amount")
	require.Contains(t, out, "mirror journals written to ALLOC-202401-AAAA0001-REV")
}

func TestBuildTask(t *testing.T) {
	for _, name := range TriggerableJobs {
		task, err := BuildTask(name, "2024-01")
		require.NoError(t, err)
		require.Equal(t, name, task.Type())
	}
	task, err := BuildTask(jobs.TaskAllocationExecute, "2024-01")
	require.NoError(t, err)
	require.JSONEq(t, `{"period":"2024-01"}`, string(task.Payload()))

	_, err = BuildTask("inventory:revaluation", "")
	require.Error(t, err)
}
