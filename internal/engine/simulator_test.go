package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"bottling-oee-sim/internal/anomaly"
	"bottling-oee-sim/internal/config"
	"bottling-oee-sim/internal/event"
	"bottling-oee-sim/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simConfig 构造一份单产线、单日、无异常注入的内存配置
func simConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Simulation: config.SimulationConfig{
			StartDate:       "2025-06-01 00:00:00",
			DurationDays:    1,
			IntervalMinutes: 5,
			Seed:            42,
		},
		Equipment: config.EquipmentSection{Lines: []types.ProductionLine{
			{ID: "LINE1", Equipment: []types.Equipment{
				{ID: "LINE1-FIL", Type: types.EquipmentFiller, Position: 1},
				{ID: "LINE1-PAK", Type: types.EquipmentPacker, Position: 2},
				{ID: "LINE1-PAL", Type: types.EquipmentPalletizer, Position: 3},
			}},
		}},
		Products: []types.Product{
			{SKU: "SKU-A", Name: "可乐 500ml", TargetRate: 450, StandardCost: 1.2, SalePrice: 3.0, NormalScrapRate: 0.02},
			{SKU: "SKU-B", Name: "矿泉水 550ml", TargetRate: 600, StandardCost: 0.4, SalePrice: 1.5, NormalScrapRate: 0.01},
		},
		Reasons: map[string]types.DowntimeReason{
			"PLN-CHG":  {Class: "Changeover", Category: types.CategoryPlanned},
			"UNP-MAT":  {Class: "MaterialStarvation", Category: types.CategoryUnplanned},
			"UNP-MECH": {Class: "MechanicalFailure", Category: types.CategoryUnplanned},
		},
		Anomalies: map[string]map[string]any{},
		Schedule: config.ScheduleConfig{
			RunDurationHours:     types.Range{Min: 4, Max: 8},
			ChangeoverGapMinutes: types.Range{Min: 20, Max: 40},
		},
		Specs: config.SpecsConfig{
			DefaultScrapRate: 0.02,
			ShiftPerformance: []float64{1.0, 1.0, 1.0},
		},
	}
	require.NoError(t, cfg.Normalize())
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestSimulator(t *testing.T, cfg *config.Config) (*Simulator, *event.Bus) {
	t.Helper()
	rules, err := anomaly.DecodeRuleSet(cfg.Anomalies, cfg.EquipmentIDs(), cfg.LineIDs(), cfg.Reasons)
	require.NoError(t, err)
	bus := event.NewBus()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewSimulator(cfg, rules, bus, nil, logger), bus
}

func TestRun_RowCountAndShape(t *testing.T) {
	cfg := simConfig(t)
	sim, _ := newTestSimulator(t, cfg)

	rows, err := sim.Run(context.Background())
	require.NoError(t, err)
	// 1 天 x 288 片 x 3 台设备
	require.Len(t, rows, 288*3)

	start, _, _, err := cfg.Simulation.Window()
	require.NoError(t, err)
	for i, row := range rows {
		tick := i / 3
		assert.True(t, row.Timestamp.Equal(start.Add(time.Duration(tick)*5*time.Minute)),
			"第 %d 行时间戳错位", i)
		assert.Equal(t, types.LineID("LINE1"), row.LineID)
		// 每个时间片内设备按上游优先顺序出现
		assert.Equal(t, types.ChainOrder[i%3], row.EquipmentType)
	}
}

func TestRun_Reproducible(t *testing.T) {
	simA, _ := newTestSimulator(t, simConfig(t))
	rowsA, err := simA.Run(context.Background())
	require.NoError(t, err)

	simB, _ := newTestSimulator(t, simConfig(t))
	rowsB, err := simB.Run(context.Background())
	require.NoError(t, err)

	// 相同配置和种子必须产出完全一致的数据集
	require.Equal(t, rowsA, rowsB)

	cfgC := simConfig(t)
	cfgC.Simulation.Seed = 43
	simC, _ := newTestSimulator(t, cfgC)
	rowsC, err := simC.Run(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, rowsA, rowsC, "不同种子不应产出相同数据集")
}

func TestRun_StoppedIffReason(t *testing.T) {
	sim, _ := newTestSimulator(t, simConfig(t))
	rows, err := sim.Run(context.Background())
	require.NoError(t, err)

	for _, row := range rows {
		if row.MachineStatus == types.StatusStopped {
			assert.NotEmpty(t, row.DowntimeReason, "Stopped 行必须带停机原因")
			assert.Zero(t, row.GoodUnits, "停机片不得有产出")
			assert.Zero(t, row.ScrapUnits)
			assert.Zero(t, row.Availability)
			assert.Zero(t, row.OEE)
		} else {
			assert.Empty(t, row.DowntimeReason, "Running 行不得带停机原因")
			assert.NotEmpty(t, row.ProductionOrderID, "Running 只在订单覆盖时发生")
			assert.Equal(t, 100.0, row.Availability)
		}
	}
}

func TestRun_ChangeoverGapsEmitStoppedRows(t *testing.T) {
	sim, _ := newTestSimulator(t, simConfig(t))
	rows, err := sim.Run(context.Background())
	require.NoError(t, err)

	gapRows := 0
	for _, row := range rows {
		if row.ProductionOrderID != "" {
			continue
		}
		gapRows++
		// 无异常注入时，订单间隙行统一记为换型停机，订单字段留空
		assert.Equal(t, types.StatusStopped, row.MachineStatus)
		assert.Equal(t, types.ReasonChangeover, row.DowntimeReason)
		assert.Empty(t, row.ProductID)
		assert.Zero(t, row.TargetRate)
	}
	assert.Positive(t, gapRows, "单日窗口内必然出现换型间隙")
}

func TestRun_ExplicitWindowForcesStop(t *testing.T) {
	cfg := simConfig(t)
	cfg.Anomalies = map[string]map[string]any{
		"filler_outage": {
			"kind":      "explicit_window",
			"equipment": "LINE1-FIL",
			"start":     "2025-06-01 02:00:00",
			"end":       "2025-06-01 07:30:00",
			"reason":    "UNP-MECH",
		},
	}
	sim, _ := newTestSimulator(t, cfg)
	rows, err := sim.Run(context.Background())
	require.NoError(t, err)

	windowStart := time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2025, 6, 1, 7, 30, 0, 0, time.UTC)
	inWindow := 0
	for _, row := range rows {
		if row.EquipmentID != "LINE1-FIL" {
			continue
		}
		if row.Timestamp.Before(windowStart) || !row.Timestamp.Before(windowEnd) {
			continue
		}
		inWindow++
		assert.Equal(t, types.StatusStopped, row.MachineStatus)
		assert.Equal(t, "UNP-MECH", row.DowntimeReason)
	}
	// 5.5 小时 x 每小时 12 片
	assert.Equal(t, 66, inWindow)
}

func TestRun_LinesConcatenatedInConfigOrder(t *testing.T) {
	cfg := simConfig(t)
	cfg.Equipment.Lines = append(cfg.Equipment.Lines, types.ProductionLine{
		ID: "LINE2", Equipment: []types.Equipment{
			{ID: "LINE2-FIL", Type: types.EquipmentFiller, Position: 1},
			{ID: "LINE2-PAK", Type: types.EquipmentPacker, Position: 2},
			{ID: "LINE2-PAL", Type: types.EquipmentPalletizer, Position: 3},
		},
	})
	require.NoError(t, cfg.Normalize())
	require.NoError(t, cfg.Validate())

	sim, _ := newTestSimulator(t, cfg)
	rows, err := sim.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 288*3*2)

	// 行序与并行调度无关：先整段 LINE1，再整段 LINE2
	for i, row := range rows {
		want := types.LineID("LINE1")
		if i >= 288*3 {
			want = "LINE2"
		}
		require.Equal(t, want, row.LineID, "第 %d 行产线错位", i)
	}
}

func TestRun_PublishesLifecycleEvents(t *testing.T) {
	cfg := simConfig(t)
	sim, bus := newTestSimulator(t, cfg)

	var scheduled, completed int
	var totalRows int
	bus.Subscribe(event.LineScheduled, func(e event.Event) { scheduled++ })
	bus.Subscribe(event.LineCompleted, func(e event.Event) { completed++ })
	bus.Subscribe(event.RunCompleted, func(e event.Event) { totalRows = e.Rows })

	rows, err := sim.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, scheduled)
	assert.Equal(t, 1, completed)
	assert.Equal(t, len(rows), totalRows)
}

func TestRun_ContextCancellationAborts(t *testing.T) {
	sim, _ := newTestSimulator(t, simConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
