package allocation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Equal(t, want, got.StringFixed(2))
}

func sumShares(shares []Share) decimal.Decimal {
	total := decimal.Zero
	for _, s := range shares {
		total = total.Add(s.Amount)
	}
	return total
}

func TestPercentageSharesFinanceOverhead(t *testing.T) {
	computer, err := ShareComputerFor(BasePercentage)
	require.NoError(t, err)
	targets := []ShareInput{
		{TargetCostCenterID: 11, Percentage: decPtr("25")},
		{TargetCostCenterID: 12, Percentage: decPtr("30")},
		{TargetCostCenterID: 13, Percentage: decPtr("15")},
		{TargetCostCenterID: 14, Percentage: decPtr("20")},
		{TargetCostCenterID: 15, Percentage: decPtr("5")},
		{TargetCostCenterID: 16, Percentage: decPtr("5")},
	}

	shares, err := computer.ComputeShares(dec("1000000"), targets)
	require.NoError(t, err)
	require.Len(t, shares, 6)

	want := []string{"250000.00", "300000.00", "150000.00", "200000.00", "50000.00", "50000.00"}
	for i, s := range shares {
		require.Equal(t, targets[i].TargetCostCenterID, s.TargetCostCenterID)
		requireAmount(t, want[i], s.Amount)
		require.True(t, s.Detail.Residual.IsZero())
		require.Equal(t, BasePercentage, s.Detail.Method)
	}
	requireAmount(t, "1000000.00", sumShares(shares))
	require.Equal(t, "0.25", shares[0].Detail.Ratio.String())
}

func TestWeightSharesNormalise(t *testing.T) {
	computer, err := ShareComputerFor(BaseWeight)
	require.NoError(t, err)

	shares, err := computer.ComputeShares(dec("1000"), []ShareInput{
		{TargetCostCenterID: 2, Weight: decPtr("2")},
		{TargetCostCenterID: 3, Weight: decPtr("3")},
	})
	require.NoError(t, err)
	requireAmount(t, "400.00", shares[0].Amount)
	requireAmount(t, "600.00", shares[1].Amount)
	require.Equal(t, "5", shares[0].Detail.TotalBase.String())
}

func TestResidualGoesToLargestShare(t *testing.T) {
	computer, err := ShareComputerFor(BaseWeight)
	require.NoError(t, err)

	t.Run("tie keeps first target", func(t *testing.T) {
		shares, err := computer.ComputeShares(dec("100"), []ShareInput{
			{TargetCostCenterID: 2, Weight: decPtr("1")},
			{TargetCostCenterID: 3, Weight: decPtr("1")},
			{TargetCostCenterID: 4, Weight: decPtr("1")},
		})
		require.NoError(t, err)
		requireAmount(t, "33.34", shares[0].Amount)
		requireAmount(t, "33.33", shares[1].Amount)
		requireAmount(t, "33.33", shares[2].Amount)
		requireAmount(t, "0.01", shares[0].Detail.Residual)
		requireAmount(t, "100.00", sumShares(shares))
	})

	t.Run("largest absorbs", func(t *testing.T) {
		shares, err := computer.ComputeShares(dec("10"), []ShareInput{
			{TargetCostCenterID: 2, Weight: decPtr("1")},
			{TargetCostCenterID: 3, Weight: decPtr("2")},
			{TargetCostCenterID: 4, Weight: decPtr("3")},
		})
		require.NoError(t, err)
		// 1.67 + 3.33 + 5.00 = 10.00, no residual
		requireAmount(t, "10.00", sumShares(shares))

		shares, err = computer.ComputeShares(dec("0.05"), []ShareInput{
			{TargetCostCenterID: 2, Weight: decPtr("1")},
			{TargetCostCenterID: 3, Weight: decPtr("1")},
			{TargetCostCenterID: 4, Weight: decPtr("4")},
		})
		require.NoError(t, err)
		requireAmount(t, "0.05", sumShares(shares))
		require.True(t, shares[2].Amount.GreaterThanOrEqual(shares[0].Amount))
	})
}

func TestPercentageSharesRejectBadSum(t *testing.T) {
	computer, err := ShareComputerFor(BasePercentage)
	require.NoError(t, err)

	_, err = computer.ComputeShares(dec("100"), []ShareInput{
		{TargetCostCenterID: 2, Percentage: decPtr("60")},
		{TargetCostCenterID: 3, Percentage: decPtr("30")},
	})
	require.ErrorIs(t, err, ErrPercentageSum)

	shares, err := computer.ComputeShares(dec("100"), []ShareInput{
		{TargetCostCenterID: 2, Percentage: decPtr("33.3333")},
		{TargetCostCenterID: 3, Percentage: decPtr("33.3333")},
		{TargetCostCenterID: 4, Percentage: decPtr("33.3334")},
	})
	require.NoError(t, err)
	requireAmount(t, "100.00", sumShares(shares))
}

func TestDriverSharesZeroBase(t *testing.T) {
	computer, err := ShareComputerFor(BaseHeadcount)
	require.NoError(t, err)
	require.Equal(t, BaseHeadcount, computer.Base())

	_, err = computer.ComputeShares(dec("100"), []ShareInput{
		{TargetCostCenterID: 2, DriverValue: decimal.Zero},
		{TargetCostCenterID: 3, DriverValue: decimal.Zero},
	})
	require.ErrorIs(t, err, ErrZeroBase)

	shares, err := computer.ComputeShares(dec("900"), []ShareInput{
		{TargetCostCenterID: 2, DriverValue: dec("10")},
		{TargetCostCenterID: 3, DriverValue: dec("20")},
	})
	require.NoError(t, err)
	requireAmount(t, "300.00", shares[0].Amount)
	requireAmount(t, "600.00", shares[1].Amount)
	require.Equal(t, "10", shares[0].BaseValue.String())
}

func TestShareComputerForUnknownBase(t *testing.T) {
	_, err := ShareComputerFor(Base("step_down"))
	require.ErrorIs(t, err, ErrUnknownBase)
}

func TestTargetValidation(t *testing.T) {
	require.ErrorIs(t, checkTargetsComplete(BasePercentage, 1, nil), ErrNoTargets)
	require.ErrorIs(t, checkTargetShape(BasePercentage, 1, []TargetInput{{TargetCostCenterID: 1, Percentage: decPtr("100")}}), ErrSelfAllocation)
	require.ErrorIs(t, checkTargetShape(BaseWeight, 1, []TargetInput{
		{TargetCostCenterID: 2, Weight: decPtr("1")},
		{TargetCostCenterID: 2, Weight: decPtr("1")},
	}), ErrDuplicateTarget)
	require.ErrorIs(t, checkTargetShape(BasePercentage, 1, []TargetInput{{TargetCostCenterID: 2, Percentage: decPtr("120")}}), ErrInvalidRule)
	require.ErrorIs(t, checkTargetsComplete(BaseWeight, 1, []TargetInput{{TargetCostCenterID: 2, Weight: decPtr("0")}}), ErrInvalidWeight)
	require.NoError(t, checkTargetsComplete(BaseHeadcount, 1, []TargetInput{{TargetCostCenterID: 2}, {TargetCostCenterID: 3}}))
}
