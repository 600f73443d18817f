package engine

import (
	"container/heap"
	"math/rand"
	"time"

	"bottling-oee-sim/internal/anomaly"
	"bottling-oee-sim/internal/types"
)

// cascadeController 负责把上游停机沿产线向下游传播
// 每条产线持有一个实例。传播是显式的有界遍历：
// 延迟通过最小堆排队，激活表以下游设备为键，链长受产线长度（3）限制
type cascadeController struct {
	engine  *anomaly.Engine
	pending delayQueue
	// active 以下游设备为键：已过延迟、只要上游仍停机就持续生效的级联
	active map[types.EquipmentID]*pendingCascade
	// stoppedNow / prevStopped 记录本片与上一片各设备的停机判定
	// 设备按上游优先顺序评估，因此下游查询时上游的本片结果已就绪
	stoppedNow  map[types.EquipmentID]bool
	prevStopped map[types.EquipmentID]bool
}

func newCascadeController(ae *anomaly.Engine) *cascadeController {
	return &cascadeController{
		engine:      ae,
		pending:     make(delayQueue, 0),
		active:      make(map[types.EquipmentID]*pendingCascade),
		stoppedNow:  make(map[types.EquipmentID]bool),
		prevStopped: make(map[types.EquipmentID]bool),
	}
}

// beginTick 把延迟已到期的级联从队列搬进激活表
func (c *cascadeController) beginTick(t time.Time) {
	for c.pending.Len() > 0 && !c.pending[0].effectiveAt.After(t) {
		item := heap.Pop(&c.pending).(*pendingCascade)
		c.active[item.downstream] = item
	}
}

// forced 报告设备 eq 在时间片 t 是否被级联强制停机
// 条件：存在已到期的激活级联，且其上游在本片仍被判定为停机
// 上游恢复后激活项立即清除（有界生命周期）
func (c *cascadeController) forced(eq types.EquipmentID, t time.Time) bool {
	item, ok := c.active[eq]
	if !ok {
		return false
	}
	if t.Before(item.effectiveAt) {
		return false
	}
	if !c.stoppedNow[item.upstream] {
		delete(c.active, eq)
		return false
	}
	return true
}

// ruleKey 返回强制停机来源的级联规则名
func (c *cascadeController) ruleKey(eq types.EquipmentID) string {
	if item, ok := c.active[eq]; ok {
		return item.ruleKey
	}
	return ""
}

// observe 在设备状态判定后登记结果
// 若设备在本片发生 Running -> Stopped 转变且存在以它为上游的级联规则，
// 则在此刻做一次伯努利试验（只掷一次，之后不重掷）；
// 试验通过时把下游停机排入延迟队列。返回是否排入了新级联
// 换型间隙不触发级联：上下游同为排程性空闲，不构成物料流中断
func (c *cascadeController) observe(eq *types.Equipment, t time.Time, d decision, rng *rand.Rand) bool {
	stopped := d.status == types.StatusStopped
	wasStopped := c.prevStopped[eq.ID]
	c.stoppedNow[eq.ID] = stopped

	if !stopped || wasStopped || d.reason == types.ReasonChangeover {
		return false
	}
	trig := c.engine.Cascade(eq.ID)
	if trig == nil || eq.Downstream == nil {
		return false
	}
	if rng.Float64() >= trig.Probability {
		return false
	}
	heap.Push(&c.pending, &pendingCascade{
		downstream:  *eq.Downstream,
		upstream:    eq.ID,
		ruleKey:     trig.Name(),
		effectiveAt: t.Add(trig.Delay),
	})
	return true
}

// endTick 把本片判定滚动为上一片判定
func (c *cascadeController) endTick() {
	for id, v := range c.stoppedNow {
		c.prevStopped[id] = v
	}
}
