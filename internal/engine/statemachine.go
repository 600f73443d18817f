package engine

import (
	"math/rand"
	"time"

	"bottling-oee-sim/internal/anomaly"
	"bottling-oee-sim/internal/fsm"
	"bottling-oee-sim/internal/types"
)

// heldStop 记录一次已触发、仍在持续的停机
// 触发时采样一次时长，后续时间片不再重掷，到期后恢复 Running 评估
type heldStop struct {
	reason   string
	until    time.Time
	priority int
	key      string // 来源规则名
}

// unitState 是单台设备的逐片运行状态
// 仅被所属产线的 tick 循环访问，不跨产线共享
type unitState struct {
	eq   *types.Equipment
	fsm  *fsm.Machine
	hold *heldStop
}

func newUnitState(eq *types.Equipment) *unitState {
	return &unitState{eq: eq, fsm: fsm.New(eq.ID)}
}

// decision 是一次状态判定的结果
type decision struct {
	status  types.MachineStatus
	reason  string // 仅 Stopped 时非空
	ruleKey string // 触发停机的规则名，换型间隙为空
}

// resolve 在时间片 t 上判定设备状态，按严格优先级评估，首个命中者生效：
//  1. 覆盖该时间戳的显式故障窗口
//  2. 恰好落在该时间戳的保养/清洗计划（或其持续中的占位）
//  3. 级联控制器的强制缺料停机
//  4. 概率性异常（持续中的占位，或本片新触发，同片多规则按字典序决胜）
//  5. 有订单覆盖则 Running，否则按换型间隙计停机
func (u *unitState) resolve(
	ae *anomaly.Engine,
	casc *cascadeController,
	t time.Time,
	orderActive bool,
	rng *rand.Rand,
) (decision, error) {
	// 到期的停机占位先行清除，设备回到正常评估
	if u.hold != nil && !t.Before(u.hold.until) {
		u.hold = nil
	}

	if w, err := ae.Window(u.eq, t); err != nil {
		return decision{}, err
	} else if w != nil {
		return decision{status: types.StatusStopped, reason: w.Reason, ruleKey: w.Key}, nil
	}

	if s, err := ae.Scheduled(u.eq, t); err != nil {
		return decision{}, err
	} else if s != nil {
		// 新的保养/清洗触发，替换任何低优先级占位
		u.hold = &heldStop{reason: s.Reason, until: t.Add(s.Duration), priority: s.Priority, key: s.Key}
	}
	if u.hold != nil && u.hold.priority == anomaly.PrioScheduled {
		return decision{status: types.StatusStopped, reason: u.hold.reason, ruleKey: u.hold.key}, nil
	}

	if casc.forced(u.eq.ID, t) {
		return decision{status: types.StatusStopped, reason: types.ReasonStarvation, ruleKey: casc.ruleKey(u.eq.ID)}, nil
	}

	if u.hold != nil && u.hold.priority == anomaly.PrioProbabilistic {
		return decision{status: types.StatusStopped, reason: u.hold.reason, ruleKey: u.hold.key}, nil
	}
	if p, err := ae.ProbabilisticFire(u.eq, t, rng); err != nil {
		return decision{}, err
	} else if p != nil {
		u.hold = &heldStop{reason: p.Reason, until: t.Add(p.Duration), priority: p.Priority, key: p.Key}
		return decision{status: types.StatusStopped, reason: p.Reason, ruleKey: p.Key}, nil
	}

	if orderActive {
		return decision{status: types.StatusRunning}, nil
	}
	// 无订单覆盖：按换型间隙计停机，保证 Stopped ⇔ 原因非空 的输出不变式
	return decision{status: types.StatusStopped, reason: types.ReasonChangeover}, nil
}

// apply 将判定结果写入状态机，只有真实转移才触发 Fire
func (u *unitState) apply(d decision) error {
	switch {
	case d.status == types.StatusStopped && !u.fsm.Stopped():
		return u.fsm.Fire(fsm.EventTrip)
	case d.status == types.StatusRunning && u.fsm.Stopped():
		return u.fsm.Fire(fsm.EventRecover)
	}
	return nil
}
