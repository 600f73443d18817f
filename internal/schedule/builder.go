package schedule

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"bottling-oee-sim/internal/config"
	"bottling-oee-sim/internal/types"

	"github.com/google/uuid"
)

// Builder 负责为单条产线生成订单时间轴
// 仿真开始前运行一次，产出的订单序列随后并入只读仿真上下文
type Builder struct {
	cfg    config.ScheduleConfig
	picker ProductPicker
	logger *slog.Logger
}

// NewBuilder 创建排程器
func NewBuilder(cfg config.ScheduleConfig, picker ProductPicker, logger *slog.Logger) *Builder {
	return &Builder{
		cfg:    cfg,
		picker: picker,
		logger: logger.With("component", "schedule_builder"),
	}
}

// Build 生成覆盖 [start, end) 仿真窗口的有序、不重叠订单序列
// 算法：从窗口起点出发，采样订单时长 -> 分配产品 -> 采样换型间隙 -> 前进，
// 直到游标越过窗口终点；最后一张订单截断到窗口边界
// 订单 ID 从产线随机源抽取，相同种子产出相同 ID 序列
func (b *Builder) Build(line types.LineID, start, end time.Time, rng *rand.Rand) ([]types.ProductionOrder, error) {
	if !b.cfg.RunDurationHours.Valid() || b.cfg.RunDurationHours.Min <= 0 {
		return nil, fmt.Errorf("产线 %s 排程失败: run_duration_hours 区间非法 [%v, %v]",
			line, b.cfg.RunDurationHours.Min, b.cfg.RunDurationHours.Max)
	}
	if !b.cfg.ChangeoverGapMinutes.Valid() || b.cfg.ChangeoverGapMinutes.Min <= 0 {
		return nil, fmt.Errorf("产线 %s 排程失败: changeover_gap_minutes 区间非法 [%v, %v]",
			line, b.cfg.ChangeoverGapMinutes.Min, b.cfg.ChangeoverGapMinutes.Max)
	}

	var orders []types.ProductionOrder
	var prev *types.Product
	cursor := start
	for cursor.Before(end) {
		hours := uniform(rng, b.cfg.RunDurationHours)
		orderEnd := cursor.Add(time.Duration(hours * float64(time.Hour)).Round(time.Minute))
		if orderEnd.After(end) {
			orderEnd = end // 截断到仿真窗口边界
		}

		product := b.picker.Pick(prev, rng)
		id, err := uuid.NewRandomFromReader(rng)
		if err != nil {
			return nil, fmt.Errorf("产线 %s 生成订单 ID 失败: %w", line, err)
		}

		orders = append(orders, types.ProductionOrder{
			ID:    "ORD-" + id.String(),
			Line:  line,
			SKU:   product.SKU,
			Start: cursor,
			End:   orderEnd,
			Seq:   len(orders),
		})
		prev = product

		gap := uniform(rng, b.cfg.ChangeoverGapMinutes)
		cursor = orderEnd.Add(time.Duration(gap * float64(time.Minute)).Round(time.Minute))
	}

	b.logger.Info("产线排程完成",
		"line", line,
		"orders", len(orders),
		"window_start", start.Format(config.TimeLayout),
		"window_end", end.Format(config.TimeLayout),
	)
	return orders, nil
}

// uniform 从闭区间均匀采样
func uniform(rng *rand.Rand, r types.Range) float64 {
	return r.Min + rng.Float64()*(r.Max-r.Min)
}
