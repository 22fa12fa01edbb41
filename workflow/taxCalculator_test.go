package workflow

import (
	"testing"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/ledger_backend/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputeTax_IntraStateSplitsRateInHalf(t *testing.T) {
	got := ComputeTax(dec("10000"), dec("18"), decimal.Zero, "27", "27")

	if !got.Cgst.Equal(dec("900")) || !got.Sgst.Equal(dec("900")) {
		t.Fatalf("expected cgst=sgst=900, got cgst=%s sgst=%s", got.Cgst, got.Sgst)
	}
	if !got.Igst.IsZero() {
		t.Fatalf("expected no igst on an intra-state supply, got %s", got.Igst)
	}
	if !got.Cess.IsZero() {
		t.Fatalf("expected no cess without a cess rate, got %s", got.Cess)
	}
}

func TestComputeTax_InterStatePostsFullRateAsIgst(t *testing.T) {
	got := ComputeTax(dec("10000"), dec("18"), decimal.Zero, "27", "29")

	if !got.Igst.Equal(dec("1800")) {
		t.Fatalf("expected igst=1800, got %s", got.Igst)
	}
	if !got.Cgst.IsZero() || !got.Sgst.IsZero() {
		t.Fatalf("expected no cgst/sgst on an inter-state supply, got cgst=%s sgst=%s", got.Cgst, got.Sgst)
	}
}

func TestComputeTax_HalvesRoundIndependently(t *testing.T) {
	// 105 at 3%: the full tax is 3.15 but each half is 1.575, which rounds
	// to 1.58 on its own. The split legitimately differs from igst by a
	// paisa; the round-off line absorbs it.
	intra := ComputeTax(dec("105"), dec("3"), decimal.Zero, "27", "27")
	if !intra.Cgst.Equal(dec("1.58")) || !intra.Sgst.Equal(dec("1.58")) {
		t.Fatalf("expected cgst=sgst=1.58, got cgst=%s sgst=%s", intra.Cgst, intra.Sgst)
	}

	inter := ComputeTax(dec("105"), dec("3"), decimal.Zero, "27", "29")
	if !inter.Igst.Equal(dec("3.15")) {
		t.Fatalf("expected igst=3.15, got %s", inter.Igst)
	}
}

func TestComputeTax_CessRidesOnTopAndNeverSplits(t *testing.T) {
	intra := ComputeTax(dec("10000"), dec("28"), dec("12"), "27", "27")
	if !intra.Cess.Equal(dec("1200")) {
		t.Fatalf("expected cess=1200 intra-state, got %s", intra.Cess)
	}

	inter := ComputeTax(dec("10000"), dec("28"), dec("12"), "27", "29")
	if !inter.Cess.Equal(dec("1200")) {
		t.Fatalf("expected cess=1200 inter-state, got %s", inter.Cess)
	}
	if !inter.Total().Equal(dec("4000")) {
		t.Fatalf("expected total tax 4000, got %s", inter.Total())
	}
}

func TestComputeRoundOff_NearestUnit(t *testing.T) {
	cases := []struct {
		gross    string
		roundOff string
		total    string
	}{
		{"11799.64", "0.36", "11800"},
		{"100.49", "-0.49", "100"},
		{"250.50", "0.50", "251"},
		{"75", "0", "75"},
	}
	for _, tc := range cases {
		roundOff, total := ComputeRoundOff(dec(tc.gross), models.RoundingPolicyNearestUnit)
		if !roundOff.Equal(dec(tc.roundOff)) || !total.Equal(dec(tc.total)) {
			t.Errorf("gross %s: expected round_off=%s total=%s, got round_off=%s total=%s",
				tc.gross, tc.roundOff, tc.total, roundOff, total)
		}
	}
}

func TestComputeRoundOff_NearestTwoDecimal(t *testing.T) {
	roundOff, total := ComputeRoundOff(dec("100.456"), models.RoundingPolicyNearestTwoDecimal)
	if !total.Equal(dec("100.46")) {
		t.Fatalf("expected total=100.46, got %s", total)
	}
	if !roundOff.Equal(dec("0.004")) {
		t.Fatalf("expected round_off=0.004, got %s", roundOff)
	}
}

func TestCurrentRoundingPolicy_FollowsEnv(t *testing.T) {
	t.Setenv("ROUNDING_POLICY", "")
	if got := CurrentRoundingPolicy(); got != models.RoundingPolicyNearestUnit {
		t.Fatalf("expected default NearestUnit, got %s", got)
	}

	t.Setenv("ROUNDING_POLICY", "NEAREST_PAISA")
	if got := CurrentRoundingPolicy(); got != models.RoundingPolicyNearestTwoDecimal {
		t.Fatalf("expected NearestTwoDecimal for NEAREST_PAISA, got %s", got)
	}
}

func TestRoundingTolerance_BoundsTheRoundOffLine(t *testing.T) {
	unit := roundingTolerance(models.RoundingPolicyNearestUnit)
	if !unit.Equal(dec("0.5")) {
		t.Fatalf("expected 0.5 tolerance for nearest-unit, got %s", unit)
	}
	paisa := roundingTolerance(models.RoundingPolicyNearestTwoDecimal)
	if !paisa.Equal(dec("0.005")) {
		t.Fatalf("expected 0.005 tolerance for nearest-paisa, got %s", paisa)
	}
}
