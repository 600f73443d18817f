package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bottling-oee-sim/internal/anomaly"
	"bottling-oee-sim/internal/config"
	"bottling-oee-sim/internal/event"
	"bottling-oee-sim/internal/metrics"
	"bottling-oee-sim/internal/schedule"
	"bottling-oee-sim/internal/types"
	"bottling-oee-sim/internal/util"
	"bottling-oee-sim/internal/web"
)

// PickerFactory 为每条产线创建一个产品分配策略实例
// 策略可能带内部状态（如循环指针），因此不能跨产线共享
type PickerFactory func(catalog []types.Product) schedule.ProductPicker

// Simulator 负责把只读配置变换为完整事件日志数据集
// 产线之间相互独立，各自持有专属随机源并行推进；
// 产线内部按上游优先顺序逐设备评估，保证级联与缺料判定可用同片上游结果
type Simulator struct {
	cfg       *config.Config
	rules     *anomaly.RuleSet
	bus       *event.Bus
	tracker   *web.ProgressTracker // 可为 nil，表示不追踪进度
	logger    *slog.Logger
	newPicker PickerFactory
}

// NewSimulator 创建仿真器，默认使用随机不重复的产品分配策略
func NewSimulator(
	cfg *config.Config,
	rules *anomaly.RuleSet,
	bus *event.Bus,
	tracker *web.ProgressTracker,
	logger *slog.Logger,
) *Simulator {
	return &Simulator{
		cfg:     cfg,
		rules:   rules,
		bus:     bus,
		tracker: tracker,
		logger:  logger.With("component", "simulator"),
		newPicker: func(catalog []types.Product) schedule.ProductPicker {
			return schedule.NewRandomNoRepeatPicker(catalog)
		},
	}
}

// SetPickerFactory 替换产品分配策略（测试或特殊排程需要确定顺序时使用）
func (s *Simulator) SetPickerFactory(f PickerFactory) {
	s.newPicker = f
}

// Run 生成完整数据集
// 每条产线一个 worker 并行计算；任何一条产线失败都会中止整次生成，
// 绝不输出只覆盖部分产线的数据集。行序固定为配置中的产线顺序，
// 因此相同配置和种子产出逐字节一致的结果，与并行调度无关
func (s *Simulator) Run(ctx context.Context) ([]types.EventRow, error) {
	start, end, interval, err := s.cfg.Simulation.Window()
	if err != nil {
		return nil, err
	}

	s.bus.Publish(event.Event{Type: event.RunStarted, SimTime: start})
	s.logger.Info("开始生成数据集",
		"lines", len(s.cfg.Equipment.Lines),
		"window_start", start.Format(config.TimeLayout),
		"window_end", end.Format(config.TimeLayout),
		"seed", s.cfg.Simulation.Seed,
	)

	lines := s.cfg.Equipment.Lines
	results := make([][]types.EventRow, len(lines))
	errs := make([]error, len(lines))

	var wg sync.WaitGroup
	for i := range lines {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx], errs[idx] = s.runLine(ctx, &lines[idx], start, end, interval)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			failure := fmt.Errorf("产线 %s 生成失败: %w", lines[i].ID, err)
			s.bus.Publish(event.Event{Type: event.RunFailed, Line: lines[i].ID, Error: failure})
			return nil, failure
		}
	}

	var rows []types.EventRow
	for _, lineRows := range results {
		rows = append(rows, lineRows...)
	}
	s.bus.Publish(event.Event{Type: event.RunCompleted, Rows: len(rows)})
	return rows, nil
}

// runLine 计算单条产线的全部时间片
func (s *Simulator) runLine(
	ctx context.Context,
	line *types.ProductionLine,
	start, end time.Time,
	interval time.Duration,
) ([]types.EventRow, error) {
	logger := s.logger.With("line", line.ID)
	rng := util.NewLineRand(s.cfg.Simulation.Seed, string(line.ID))

	builder := schedule.NewBuilder(s.cfg.Schedule, s.newPicker(s.cfg.Products), logger)
	orders, err := builder.Build(line.ID, start, end, rng)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(event.Event{Type: event.LineScheduled, Line: line.ID, Orders: len(orders)})

	ae := anomaly.NewEngine(s.rules, start)
	casc := newCascadeController(ae)
	calc := newCalculator(&s.cfg.Specs, line, ae, rng)

	units := make(map[types.EquipmentID]*unitState, len(line.Equipment))
	for i := range line.Equipment {
		units[line.Equipment[i].ID] = newUnitState(&line.Equipment[i])
	}

	catalog := make(map[types.SKU]*types.Product, len(s.cfg.Products))
	for i := range s.cfg.Products {
		catalog[s.cfg.Products[i].SKU] = &s.cfg.Products[i]
	}

	ticksTotal := int(end.Sub(start) / interval)
	if s.tracker != nil {
		s.tracker.StartLine(line.ID, ticksTotal)
	}
	s.bus.Publish(event.Event{Type: event.LineStarted, Line: line.ID, SimTime: start})

	rows := make([]types.EventRow, 0, ticksTotal*len(line.Equipment))
	orderIdx := 0
	tickNo := 0
	const progressEvery = 288 // 每个仿真日上报一次进度

	for t := start; t.Before(end); t = t.Add(interval) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tickStart := time.Now()
		casc.beginTick(t)

		// 推进到覆盖当前时间片的订单（订单序列有序且不重叠）
		for orderIdx < len(orders) && !t.Before(orders[orderIdx].End) {
			orderIdx++
		}
		var order *types.ProductionOrder
		if orderIdx < len(orders) && orders[orderIdx].Covers(t) {
			order = &orders[orderIdx]
		}
		var product *types.Product
		if order != nil {
			product = catalog[order.SKU]
		}

		// 上游优先：级联与缺料判定依赖同片的上游结果
		for i := range line.Equipment {
			eq := &line.Equipment[i]
			u := units[eq.ID]

			d, err := u.resolve(ae, casc, t, order != nil, rng)
			if err != nil {
				return nil, err
			}
			wasStopped := u.fsm.Stopped()
			if err := u.apply(d); err != nil {
				return nil, err
			}
			if d.status == types.StatusStopped && !wasStopped && d.reason != types.ReasonChangeover {
				s.bus.Publish(event.Event{
					Type: event.AnomalyTriggered, Line: line.ID, Equipment: eq.ID,
					Reason: d.reason, RuleKey: d.ruleKey, SimTime: t,
				})
			}
			if casc.observe(eq, t, d, rng) {
				s.bus.Publish(event.Event{
					Type: event.CascadeRealized, Line: line.ID, Equipment: eq.ID,
					Reason: types.ReasonStarvation, RuleKey: d.ruleKey, SimTime: t,
				})
			}

			var good, scrap int
			if d.status == types.StatusRunning {
				good, scrap = calc.units(eq, product, order, t, interval, rng)
			}
			rows = append(rows, buildRow(t, line.ID, eq, order, product, d, good, scrap))
		}

		casc.endTick()
		metrics.LineTickDuration.WithLabelValues(string(line.ID)).Observe(time.Since(tickStart).Seconds())
		tickNo++
		if s.tracker != nil && tickNo%progressEvery == 0 {
			s.tracker.UpdateLine(line.ID, tickNo, len(rows), t)
		}
	}

	if s.tracker != nil {
		s.tracker.CompleteLine(line.ID, len(rows))
	}
	s.bus.Publish(event.Event{Type: event.LineCompleted, Line: line.ID, Rows: len(rows)})
	return rows, nil
}

// buildRow 组装一行输出记录并计算四项 KPI
func buildRow(
	t time.Time,
	line types.LineID,
	eq *types.Equipment,
	order *types.ProductionOrder,
	product *types.Product,
	d decision,
	good, scrap int,
) types.EventRow {
	row := types.EventRow{
		Timestamp:      t,
		LineID:         line,
		EquipmentID:    eq.ID,
		EquipmentType:  eq.Type,
		MachineStatus:  d.status,
		DowntimeReason: d.reason,
		GoodUnits:      good,
		ScrapUnits:     scrap,
	}
	if order != nil && product != nil {
		row.ProductionOrderID = order.ID
		row.ProductID = string(product.SKU)
		row.ProductName = product.Name
		row.TargetRate = product.TargetRate
		row.StandardCost = product.StandardCost
		row.SalePrice = product.SalePrice
	}
	row.Availability, row.Performance, row.Quality, row.OEE =
		kpiScores(d.status, good, scrap, row.TargetRate)
	return row
}
