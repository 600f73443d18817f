package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 定义 Prometheus 监控指标
var (
	// RowsEmittedTotal 计数器：已生成的事件行总数，按产线分类
	RowsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "generator_rows_emitted_total",
		Help: "The total number of event rows emitted",
	}, []string{"line"})

	// AnomaliesTriggeredTotal 计数器：已触发的停机异常总数
	// 按停机原因代码分类，用于核对注入规则的统计特性
	AnomaliesTriggeredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "generator_anomalies_triggered_total",
		Help: "The total number of downtime anomalies triggered",
	}, []string{"reason"})

	// CascadeStopsTotal 计数器：级联试验通过并排期的下游停机总数
	CascadeStopsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "generator_cascade_stops_total",
		Help: "The total number of realized cascade stops",
	})

	// LinesCompleted 仪表盘：已完成全部时间片计算的产线数量
	LinesCompleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "generator_lines_completed",
		Help: "The number of lines that finished simulation",
	})

	// LineTickDuration 直方图：单条产线一个时间片的计算耗时分布
	// 用于分析生成吞吐的瓶颈
	LineTickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "generator_line_tick_duration_seconds",
		Help:    "Wall time spent computing one simulation tick for a line",
		Buckets: prometheus.DefBuckets,
	}, []string{"line"})
)
