package handlers

import (
	"log/slog"

	"bottling-oee-sim/internal/event"
	"bottling-oee-sim/internal/metrics"
)

// RegisterEventHandlers 将所有事件处理器注册到事件总线
// 这是事件驱动架构的核心，将不同的业务关注点（监控、日志）与仿真主路径解耦
func RegisterEventHandlers(bus *event.Bus, logger *slog.Logger) {
	// --- 指标处理器 (Metrics Handler) ---
	// 订阅停机事件，按原因代码计数，用于核对注入规则的统计特性
	bus.Subscribe(event.AnomalyTriggered, func(e event.Event) {
		metrics.AnomaliesTriggeredTotal.WithLabelValues(e.Reason).Inc()
	})
	// 订阅级联事件，统计试验通过的次数
	bus.Subscribe(event.CascadeRealized, func(e event.Event) {
		metrics.CascadeStopsTotal.Inc()
	})
	// 订阅产线完成事件，更新完成产线数和行数
	bus.Subscribe(event.LineCompleted, func(e event.Event) {
		metrics.LinesCompleted.Inc()
		metrics.RowsEmittedTotal.WithLabelValues(string(e.Line)).Add(float64(e.Rows))
	})

	// --- 日志处理器 (Logging Handler) ---
	// 订阅关键业务事件，记录审计日志
	bus.Subscribe(event.LineScheduled, func(e event.Event) {
		logger.Info("产线排程完毕", "line", e.Line, "orders", e.Orders)
	})
	bus.Subscribe(event.CascadeRealized, func(e event.Event) {
		logger.Debug("级联停机已排期",
			"line", e.Line, "upstream", e.Equipment,
			"rule", e.RuleKey, "sim_time", e.SimTime)
	})
	bus.Subscribe(event.LineCompleted, func(e event.Event) {
		logger.Info("产线生成完成", "line", e.Line, "rows", e.Rows)
	})
	bus.Subscribe(event.RunCompleted, func(e event.Event) {
		logger.Info("数据集生成成功", "rows", e.Rows)
	})
	bus.Subscribe(event.RunFailed, func(e event.Event) {
		logger.Error("数据集生成失败", "error", e.Error)
	})
}
