package schedule

import (
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"bottling-oee-sim/internal/config"
	"bottling-oee-sim/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCatalog = []types.Product{
	{SKU: "SKU-A", Name: "A", TargetRate: 450},
	{SKU: "SKU-B", Name: "B", TargetRate: 520},
	{SKU: "SKU-C", Name: "C", TargetRate: 300},
}

func testBuilder(cfg config.ScheduleConfig) *Builder {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewBuilder(cfg, NewRandomNoRepeatPicker(testCatalog), logger)
}

func defaultScheduleConfig() config.ScheduleConfig {
	return config.ScheduleConfig{
		RunDurationHours:     types.Range{Min: 8, Max: 24},
		ChangeoverGapMinutes: types.Range{Min: 20, Max: 60},
	}
}

func TestBuild_OrdersCoverWindowWithoutOverlap(t *testing.T) {
	b := testBuilder(defaultScheduleConfig())
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 14)

	orders, err := b.Build("LINE1", start, end, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	require.NotEmpty(t, orders)

	for i, o := range orders {
		assert.Equal(t, i, o.Seq)
		assert.Equal(t, types.LineID("LINE1"), o.Line)
		assert.True(t, o.End.After(o.Start), "订单 %d 区间为空", i)
		assert.False(t, o.Start.Before(start))
		assert.False(t, o.End.After(end))

		if i == 0 {
			assert.True(t, o.Start.Equal(start), "首张订单必须从窗口起点开始")
			continue
		}
		prev := orders[i-1]
		gap := o.Start.Sub(prev.End)
		// 换型间隙必须落在配置区间内（时长按分钟取整）
		assert.GreaterOrEqual(t, gap, 20*time.Minute, "订单 %d 与前序间隙过短", i)
		assert.LessOrEqual(t, gap, 60*time.Minute, "订单 %d 与前序间隙过长", i)
		// 相邻订单产品必须不同，否则边界上没有真实换型
		assert.NotEqual(t, prev.SKU, o.SKU, "订单 %d 与前序产品重复", i)
	}

	// 最后一张订单截断到窗口边界之内
	last := orders[len(orders)-1]
	assert.False(t, last.End.After(end))
}

func TestBuild_Deterministic(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)

	a, err := testBuilder(defaultScheduleConfig()).Build("LINE1", start, end, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	b, err := testBuilder(defaultScheduleConfig()).Build("LINE1", start, end, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	// 相同种子必须产出完全一致的订单序列，包括订单 ID
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i], b[i])
	}

	c, err := testBuilder(defaultScheduleConfig()).Build("LINE1", start, end, rand.New(rand.NewSource(8)))
	require.NoError(t, err)
	assert.NotEqual(t, a[0].ID, c[0].ID, "不同种子不应产出相同的订单 ID")
}

func TestBuild_RejectsDegenerateRanges(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	cfg := defaultScheduleConfig()
	cfg.RunDurationHours = types.Range{Min: 16, Max: 8}
	_, err := testBuilder(cfg).Build("LINE1", start, end, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run_duration_hours")

	cfg = defaultScheduleConfig()
	cfg.ChangeoverGapMinutes = types.Range{Min: 0, Max: 30}
	_, err = testBuilder(cfg).Build("LINE1", start, end, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "changeover_gap_minutes")
}

func TestBuild_ShortWindowYieldsSingleTruncatedOrder(t *testing.T) {
	b := testBuilder(defaultScheduleConfig())
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Hour) // 比最短订单时长还短

	orders, err := b.Build("LINE1", start, end, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Start.Equal(start))
	assert.True(t, orders[0].End.Equal(end))
}

func TestRandomNoRepeatPicker_NeverRepeats(t *testing.T) {
	p := NewRandomNoRepeatPicker(testCatalog)
	rng := rand.New(rand.NewSource(1))

	prev := p.Pick(nil, rng)
	for i := 0; i < 200; i++ {
		next := p.Pick(prev, rng)
		require.NotEqual(t, prev.SKU, next.SKU)
		prev = next
	}
}

func TestRandomNoRepeatPicker_SingleProductDegenerates(t *testing.T) {
	p := NewRandomNoRepeatPicker(testCatalog[:1])
	rng := rand.New(rand.NewSource(1))

	prev := p.Pick(nil, rng)
	assert.Equal(t, types.SKU("SKU-A"), prev.SKU)
	// 单产品目录允许重复，否则排程器会死循环
	assert.Equal(t, prev.SKU, p.Pick(prev, rng).SKU)
}

func TestCyclicPicker_FollowsCatalogOrder(t *testing.T) {
	p := NewCyclicPicker(testCatalog)
	assert.Equal(t, types.SKU("SKU-A"), p.Pick(nil, nil).SKU)
	assert.Equal(t, types.SKU("SKU-B"), p.Pick(nil, nil).SKU)
	assert.Equal(t, types.SKU("SKU-C"), p.Pick(nil, nil).SKU)
	assert.Equal(t, types.SKU("SKU-A"), p.Pick(nil, nil).SKU)
}
