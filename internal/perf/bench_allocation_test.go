package perf

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/hospital-costing/internal/allocation"
)

func wideTargets(n int) []allocation.ShareInput {
	targets := make([]allocation.ShareInput, n)
	for i := range targets {
		w := decimal.NewFromInt(int64(i%17 + 1))
		targets[i] = allocation.ShareInput{
			TargetCostCenterID: int64(i + 1),
			Weight:             &w,
			DriverValue:        decimal.NewFromInt(int64(i%29 + 3)),
		}
	}
	return targets
}

func TestWideRuleLatencyTargets(t *testing.T) {
	source := decimal.RequireFromString("1234567.89")
	for _, base := range []allocation.Base{allocation.BaseWeight, allocation.BaseHeadcount, allocation.BasePatientDays} {
		computer, err := allocation.ShareComputerFor(base)
		if err != nil {
			t.Fatalf("share computer for %s: %v", base, err)
		}
		targets := wideTargets(500)

		samples := make([]time.Duration, 0, 20)
		for i := 0; i < 20; i++ {
			start := time.Now()
			shares, err := computer.ComputeShares(source, targets)
			samples = append(samples, time.Since(start))
			if err != nil {
				t.Fatalf("%s: compute shares: %v", base, err)
			}
			total := decimal.Zero
			for _, s := range shares {
				total = total.Add(s.Amount)
			}
			if !total.Equal(source) {
				t.Fatalf("%s: shares sum to %s, want %s", base, total, source)
			}
		}

		if p95 := percentile95(samples); p95 > 250*time.Millisecond {
			t.Fatalf("%s latency regression: p95=%s", base, p95)
		}
	}
}

func BenchmarkShareComputers(b *testing.B) {
	source := decimal.RequireFromString("1000000")
	for _, n := range []int{6, 50, 500} {
		targets := wideTargets(n)
		computer, err := allocation.ShareComputerFor(allocation.BaseWeight)
		if err != nil {
			b.Fatal(err)
		}
		b.Run(fmt.Sprintf("weight/%d", n), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := computer.ComputeShares(source, targets); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
