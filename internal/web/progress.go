package web

import (
	"sync"
	"time"

	"bottling-oee-sim/internal/types"
)

// LineProgress 定义用于监控展示的单条产线进度
type LineProgress struct {
	Line       types.LineID `json:"line"`
	TicksDone  int          `json:"ticks_done"`
	TicksTotal int          `json:"ticks_total"`
	Rows       int          `json:"rows"`
	SimClock   string       `json:"sim_clock"` // 产线当前推进到的仿真时刻
	Done       bool         `json:"done"`
}

// RunProgress 代表整个生成任务的实时进度快照
type RunProgress struct {
	RunID string                         `json:"run_id"`
	Lines map[types.LineID]*LineProgress `json:"lines"`
}

// ProgressTracker 负责追踪各产线的生成进度，并通知监控端更新
// 产线 worker 并行写入，用读写锁保护
type ProgressTracker struct {
	mu    sync.RWMutex
	state RunProgress
	hub   *Hub // 可为 nil，表示未开启监控
}

// NewProgressTracker 创建一个新的 ProgressTracker 实例
func NewProgressTracker(runID string) *ProgressTracker {
	return &ProgressTracker{
		state: RunProgress{
			RunID: runID,
			Lines: make(map[types.LineID]*LineProgress),
		},
	}
}

// AttachHub 绑定 WebSocket Hub，之后每次更新都会广播
func (pt *ProgressTracker) AttachHub(hub *Hub) {
	pt.hub = hub
}

// StartLine 登记一条产线的总时间片数
func (pt *ProgressTracker) StartLine(line types.LineID, ticksTotal int) {
	pt.mu.Lock()
	pt.state.Lines[line] = &LineProgress{Line: line, TicksTotal: ticksTotal}
	pt.mu.Unlock()
	pt.publish()
}

// UpdateLine 更新产线进度并广播
func (pt *ProgressTracker) UpdateLine(line types.LineID, ticksDone, rows int, simClock time.Time) {
	pt.mu.Lock()
	if lp, ok := pt.state.Lines[line]; ok {
		lp.TicksDone = ticksDone
		lp.Rows = rows
		lp.SimClock = simClock.Format("2006-01-02 15:04:05")
	}
	pt.mu.Unlock()
	pt.publish()
}

// CompleteLine 标记产线完成
func (pt *ProgressTracker) CompleteLine(line types.LineID, rows int) {
	pt.mu.Lock()
	if lp, ok := pt.state.Lines[line]; ok {
		lp.TicksDone = lp.TicksTotal
		lp.Rows = rows
		lp.Done = true
	}
	pt.mu.Unlock()
	pt.publish()
}

// Snapshot 返回当前全局进度的一个深拷贝副本
// 用于新客户端连接时获取一次全量数据
func (pt *ProgressTracker) Snapshot() RunProgress {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	// 创建深拷贝以避免并发问题
	snap := RunProgress{RunID: pt.state.RunID, Lines: make(map[types.LineID]*LineProgress)}
	for id, lp := range pt.state.Lines {
		cp := *lp
		snap.Lines[id] = &cp
	}
	return snap
}

func (pt *ProgressTracker) publish() {
	if pt.hub != nil {
		pt.hub.Broadcast(pt.Snapshot())
	}
}
