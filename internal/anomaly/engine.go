package anomaly

import (
	"fmt"
	"math/rand"
	"time"

	"bottling-oee-sim/internal/types"

	"github.com/antonmedv/expr"
)

// 停机候选的优先级，数值越小越优先
// 级联强制停机（优先级 3）由 engine 包的级联控制器产生，不经过本引擎
const (
	PrioExplicit      = 1 // 显式日期窗口
	PrioScheduled     = 2 // 周期保养与清洗
	PrioCascade       = 3 // 级联缺料
	PrioProbabilistic = 4 // 概率性故障
)

// StopCandidate 是异常引擎给状态机的一个候选停机信号
type StopCandidate struct {
	Priority int
	Key      string // 来源规则名，同优先级多规则触发时按字典序决胜
	Reason   string
	Duration time.Duration // 0 表示由规则自身边界决定（显式窗口）
}

// Engine 在每个时间片上评估所有异常规则
// 每条产线持有一个实例，lineStart 用于周期清洗的相位计算
type Engine struct {
	rules     *RuleSet
	lineStart time.Time
}

// NewEngine 创建异常评估引擎
func NewEngine(rules *RuleSet, lineStart time.Time) *Engine {
	return &Engine{rules: rules, lineStart: lineStart}
}

// evalGuard 评估规则的 when 守卫
// 守卫求值失败是配置缺陷，按错误上抛而不是静默跳过规则
func evalGuard(r Rule, b *base, eq *types.Equipment, t time.Time) (bool, error) {
	if b.guard == nil {
		return true, nil
	}
	env := map[string]any{
		"hour":           t.Hour(),
		"weekday":        t.Weekday().String(),
		"equipment_type": string(eq.Type),
		"line":           string(eq.Line),
	}
	out, err := expr.Run(b.guard, env)
	if err != nil {
		return false, fmt.Errorf("规则 %s 的 when 守卫求值失败: %w", r.Name(), err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("规则 %s 的 when 守卫结果不是布尔值", r.Name())
	}
	return ok, nil
}

// Window 返回覆盖时间戳 t 的显式窗口候选（优先级最高），无则返回 nil
func (e *Engine) Window(eq *types.Equipment, t time.Time) (*StopCandidate, error) {
	for _, w := range e.rules.Windows[eq.ID] {
		if t.Before(w.Start) || !t.Before(w.End) {
			continue
		}
		ok, err := evalGuard(w, &w.base, eq, t)
		if err != nil {
			return nil, err
		}
		if ok {
			return &StopCandidate{Priority: PrioExplicit, Key: w.Name(), Reason: w.Reason}, nil
		}
	}
	return nil, nil
}

// Scheduled 返回恰好在时间戳 t 触发的保养或清洗候选，无则返回 nil
// 周期保养在匹配的星期/整点触发一次；周期清洗自产线开工起每 Frequency 触发一次
func (e *Engine) Scheduled(eq *types.Equipment, t time.Time) (*StopCandidate, error) {
	for _, r := range e.rules.Recurring[eq.ID] {
		if t.Weekday() != r.Weekday || t.Hour() != r.Hour || t.Minute() != 0 {
			continue
		}
		ok, err := evalGuard(r, &r.base, eq, t)
		if err != nil {
			return nil, err
		}
		if ok {
			return &StopCandidate{Priority: PrioScheduled, Key: r.Name(), Reason: r.Reason, Duration: r.Duration}, nil
		}
	}
	for _, c := range e.rules.Cleaning[eq.ID] {
		elapsed := t.Sub(e.lineStart)
		if elapsed <= 0 || elapsed%c.Frequency != 0 {
			continue
		}
		ok, err := evalGuard(c, &c.base, eq, t)
		if err != nil {
			return nil, err
		}
		if ok {
			return &StopCandidate{Priority: PrioScheduled, Key: c.Name(), Reason: c.Reason, Duration: c.Duration}, nil
		}
	}
	return nil, nil
}

// ProbabilisticFire 对绑定到该设备的每条概率规则独立做一次伯努利试验
// 多条规则同时触发时，按规则名字典序最小者胜出（显式且可复现的决胜）
// 试验和时长采样全部走产线随机源，保证种子可复现
func (e *Engine) ProbabilisticFire(eq *types.Equipment, t time.Time, rng *rand.Rand) (*StopCandidate, error) {
	var winner *StopCandidate
	for _, p := range e.rules.Probabilistic[eq.ID] {
		if p.Hours != nil && !p.Hours.Contains(t.Hour()) {
			continue
		}
		ok, err := evalGuard(p, &p.base, eq, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if rng.Float64() >= p.Probability {
			continue
		}
		// 触发即采样时长，使随机流的消耗与决胜结果无关
		dur := sampleMinutes(rng, p.DurationMinutes)
		if winner == nil || p.Name() < winner.Key {
			winner = &StopCandidate{Priority: PrioProbabilistic, Key: p.Name(), Reason: p.Reason, Duration: dur}
		}
	}
	return winner, nil
}

// Cascade 返回以设备 eq 为上游的级联规则，无则返回 nil
func (e *Engine) Cascade(eq types.EquipmentID) *CascadeTrigger {
	return e.rules.Cascades[eq]
}

// QualityModifier 返回作用于指定产线的质量修饰规则
// 产线专属规则优先于全局规则，都不存在时返回 nil（回落到全局配置默认值）
func (e *Engine) QualityModifier(line types.LineID) *QualityVariation {
	var global *QualityVariation
	for _, q := range e.rules.Quality {
		if q.Line == line {
			return q
		}
		if q.Line == "" && global == nil {
			global = q
		}
	}
	return global
}

// PerformanceModifier 返回作用于指定产线的性能修饰规则，语义同 QualityModifier
func (e *Engine) PerformanceModifier(line types.LineID) *PerformanceDrop {
	var global *PerformanceDrop
	for _, p := range e.rules.Performance {
		if p.Line == line {
			return p
		}
		if p.Line == "" && global == nil {
			global = p
		}
	}
	return global
}

// sampleMinutes 从分钟区间均匀采样一个停机时长
// 区间在加载期已校验，运行到这里出现退化区间属于编程错误
func sampleMinutes(rng *rand.Rand, r types.Range) time.Duration {
	if !r.Valid() || r.Min <= 0 {
		panic(fmt.Sprintf("非法的时长采样区间: [%v, %v]", r.Min, r.Max))
	}
	minutes := r.Min + rng.Float64()*(r.Max-r.Min)
	return time.Duration(minutes * float64(time.Minute)).Round(time.Minute)
}
