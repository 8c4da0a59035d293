package drift

import (
	"math"
	"testing"

	"copyflow/internal/model"
)

func pos(coin string, side model.Side, size, entry, mark float64) model.Position {
	return model.Position{
		Coin:          coin,
		Side:          side,
		Size:          size,
		EntryPrice:    entry,
		MarkPrice:     mark,
		NotionalValue: size * mark,
	}
}

func TestDetect_MissingScaledTarget(t *testing.T) {
	// trackedBalance=10000 userBalance=5000，BTC名义2000（20%），mark=100
	// 期望 missing，scaledTargetSize = 0.2*5000/100 = 10
	tracked := []model.Position{pos("BTC", model.SideLong, 20, 105, 100)}
	trackedBal := model.Balance{AccountValue: 10000}
	userBal := model.Balance{AccountValue: 5000}

	report := Detect(tracked, nil, trackedBal, userBal, 2)
	if !report.HasDrift || len(report.Drifts) != 1 {
		t.Fatalf("期望1个drift，实际 %d", len(report.Drifts))
	}
	d := report.Drifts[0]
	if d.Type != model.DriftMissing || d.Coin != "BTC" {
		t.Fatalf("期望 BTC missing，实际 %+v", d)
	}
	if math.Abs(d.ScaledTargetSize-10) > 1e-9 {
		t.Errorf("scaledTargetSize 期望10，实际 %v", d.ScaledTargetSize)
	}
	// mark(100) <= entry(105)，做多方向有利
	if !d.IsFavorable {
		t.Errorf("mark<=entry 的多头missing应为favorable")
	}
}

func TestDetect_MissingFavorability(t *testing.T) {
	trackedBal := model.Balance{AccountValue: 10000}
	userBal := model.Balance{AccountValue: 10000}

	// 多头 mark>entry：不利
	tracked := []model.Position{pos("ETH", model.SideLong, 10, 100, 110)}
	report := Detect(tracked, nil, trackedBal, userBal, 2)
	if report.Drifts[0].IsFavorable {
		t.Errorf("多头 mark>entry 应为不利")
	}

	// 空头 mark>=entry：有利
	tracked = []model.Position{pos("SOL", model.SideShort, 10, 100, 110)}
	report = Detect(tracked, nil, trackedBal, userBal, 2)
	if !report.Drifts[0].IsFavorable {
		t.Errorf("空头 mark>=entry 应为有利")
	}
}

func TestDetect_DustSkipped(t *testing.T) {
	// 名义价值 9 < 10，忽略
	tracked := []model.Position{pos("DOGE", model.SideLong, 90, 0.1, 0.1)}
	report := Detect(tracked, nil, model.Balance{AccountValue: 1000}, model.Balance{AccountValue: 1000}, 2)
	if report.HasDrift {
		t.Errorf("灰尘仓位不应产生drift: %+v", report.Drifts)
	}
}

func TestDetect_SameSideWithinThreshold(t *testing.T) {
	// tracked 20%，user 19%，阈值2% → 无drift
	tracked := []model.Position{pos("BTC", model.SideLong, 20, 100, 100)} // 2000/10000=20%
	user := []model.Position{pos("BTC", model.SideLong, 19, 100, 100)}   // 1900/10000=19%
	bal := model.Balance{AccountValue: 10000}

	report := Detect(tracked, user, bal, bal, 2)
	if report.HasDrift {
		t.Fatalf("阈值内不应产生drift: %+v", report.Drifts)
	}
}

func TestDetect_SizeMismatchOverAllocated(t *testing.T) {
	bal := model.Balance{AccountValue: 10000}
	tracked := []model.Position{pos("BTC", model.SideLong, 10, 100, 100)} // 10%
	over := pos("BTC", model.SideLong, 30, 100, 100)                      // 30%

	// 用户仓位亏损时减仓不利
	over.UnrealizedPnl = -50
	report := Detect(tracked, []model.Position{over}, bal, bal, 2)
	if len(report.Drifts) != 1 || report.Drifts[0].Type != model.DriftSizeMismatch {
		t.Fatalf("期望 size_mismatch，实际 %+v", report.Drifts)
	}
	if report.Drifts[0].IsFavorable {
		t.Errorf("亏损中减仓应为不利")
	}

	// 盈利时减仓有利
	over.UnrealizedPnl = 50
	report = Detect(tracked, []model.Position{over}, bal, bal, 2)
	if !report.Drifts[0].IsFavorable {
		t.Errorf("盈利中减仓应为有利")
	}
}

func TestDetect_SideMismatch(t *testing.T) {
	bal := model.Balance{AccountValue: 10000}
	tracked := []model.Position{pos("ETH", model.SideShort, 10, 100, 90)} // 空头 mark<entry 不利
	user := []model.Position{pos("ETH", model.SideLong, 5, 100, 90)}

	report := Detect(tracked, user, bal, bal, 2)
	if len(report.Drifts) != 1 || report.Drifts[0].Type != model.DriftSideMismatch {
		t.Fatalf("期望 side_mismatch，实际 %+v", report.Drifts)
	}
	if report.Drifts[0].IsFavorable {
		t.Errorf("空头 mark<entry 的side_mismatch应为不利")
	}
}

func TestDetect_ExtraAlwaysFavorable(t *testing.T) {
	user := []model.Position{pos("XRP", model.SideLong, 100, 1, 1)}
	report := Detect(nil, user, model.Balance{AccountValue: 1000}, model.Balance{AccountValue: 1000}, 2)
	if len(report.Drifts) != 1 || report.Drifts[0].Type != model.DriftExtra {
		t.Fatalf("期望 extra，实际 %+v", report.Drifts)
	}
	if !report.Drifts[0].IsFavorable {
		t.Errorf("孤儿仓位应恒为favorable")
	}
}

func TestDetect_Idempotent(t *testing.T) {
	tracked := []model.Position{
		pos("BTC", model.SideLong, 20, 105, 100),
		pos("ETH", model.SideShort, 10, 100, 110),
	}
	user := []model.Position{pos("XRP", model.SideLong, 100, 1, 1)}
	trackedBal := model.Balance{AccountValue: 10000}
	userBal := model.Balance{AccountValue: 5000}

	a := Detect(tracked, user, trackedBal, userBal, 2)
	b := Detect(tracked, user, trackedBal, userBal, 2)

	if len(a.Drifts) != len(b.Drifts) {
		t.Fatalf("重复调用结果数量不一致: %d vs %d", len(a.Drifts), len(b.Drifts))
	}
	for i := range a.Drifts {
		x, y := a.Drifts[i], b.Drifts[i]
		if x.Coin != y.Coin || x.Type != y.Type || x.IsFavorable != y.IsFavorable ||
			x.ScaledTargetSize != y.ScaledTargetSize || x.SizeDiffPercent != y.SizeDiffPercent {
			t.Errorf("第%d个drift不一致: %+v vs %+v", i, x, y)
		}
	}
}
