package anomaly

import (
	"fmt"
	"sort"
	"time"

	"bottling-oee-sim/internal/types"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/mitchellh/mapstructure"
)

// timeLayout 与配置文件中的时间格式保持一致
const timeLayout = "2006-01-02 15:04:05"

// 规则种类标签，配置中通过 kind 字段区分
const (
	KindExplicitWindow    = "explicit_window"    // 操作员录入的单次故障窗口
	KindRecurringSchedule = "recurring_schedule" // 按星期/整点重复的保养计划
	KindPeriodicCleaning  = "periodic_cleaning"  // 自产线开工起按固定周期的清洗
	KindProbabilistic     = "probabilistic"      // 概率性故障，可带小时过滤
	KindCascadeTrigger    = "cascade_trigger"    // 上游停机向下游传播的级联规则
	KindQualityVariation  = "quality_variation"  // 质量修饰规则，仅作用于产量计算
	KindPerformanceDrop   = "performance_drop"   // 性能修饰规则，仅作用于产量计算
)

// HourRange 定义一天内的小时过滤窗口 [Start, End)
// End <= Start 表示跨越午夜，例如 {22, 6} 覆盖夜班
type HourRange struct {
	Start int `mapstructure:"start"`
	End   int `mapstructure:"end"`
}

// Contains 报告小时 h 是否落在窗口内
func (r HourRange) Contains(h int) bool {
	if r.Start < r.End {
		return h >= r.Start && h < r.End
	}
	return h >= r.Start || h < r.End
}

// Rule 是所有异常规则的公共接口
// 具体行为通过类型断言分发，新增种类时编译器会提醒所有 switch 补全
type Rule interface {
	Name() string
	Kind() string
}

// base 持有所有规则共享的字段：规则名和可选的 expr 守卫
type base struct {
	name  string
	guard *vm.Program // 可选的 when 表达式，nil 表示无条件生效
}

func (b base) Name() string { return b.name }

// ExplicitWindow 显式日期窗口规则：在 [Start, End) 内强制停机
type ExplicitWindow struct {
	base
	Equipment types.EquipmentID
	Start     time.Time
	End       time.Time
	Reason    string
}

func (*ExplicitWindow) Kind() string { return KindExplicitWindow }

// RecurringSchedule 周期性保养规则：星期与整点匹配时触发一次，固定时长
type RecurringSchedule struct {
	base
	Equipment types.EquipmentID
	Weekday   time.Weekday
	Hour      int
	Duration  time.Duration
	Reason    string
}

func (*RecurringSchedule) Kind() string { return KindRecurringSchedule }

// PeriodicCleaning 周期清洗规则：自产线开工起每 Frequency 触发一次，固定时长
type PeriodicCleaning struct {
	base
	Equipment types.EquipmentID
	Frequency time.Duration
	Duration  time.Duration
	Reason    string
}

func (*PeriodicCleaning) Kind() string { return KindPeriodicCleaning }

// Probabilistic 概率性故障规则：每个时间片独立做一次伯努利试验
// 触发后从 DurationMinutes 区间均匀采样停机时长
type Probabilistic struct {
	base
	Equipment       types.EquipmentID
	Probability     float64
	DurationMinutes types.Range
	Reason          string
	Hours           *HourRange // 可选的小时过滤，可跨午夜
}

func (*Probabilistic) Kind() string { return KindProbabilistic }

// CascadeTrigger 级联规则：上游设备停机后，
// 延迟 Delay 并以 Probability 的概率迫使其直接下游因缺料停机
type CascadeTrigger struct {
	base
	Upstream    types.EquipmentID
	Delay       time.Duration
	Probability float64
}

func (*CascadeTrigger) Kind() string { return KindCascadeTrigger }

// QualityVariation 质量修饰规则：不产生停机，由产量计算器消费
// Line 为空表示作用于所有产线
type QualityVariation struct {
	base
	Line            types.LineID
	Probability     float64
	ScrapMultiplier float64
}

func (*QualityVariation) Kind() string { return KindQualityVariation }

// PerformanceDrop 性能修饰规则：不产生停机，由产量计算器消费
type PerformanceDrop struct {
	base
	Line              types.LineID
	Probability       float64
	Degradation       types.Range
	DurationIntervals types.Range
}

func (*PerformanceDrop) Kind() string { return KindPerformanceDrop }

// RuleSet 是按消费方式分组、已校验的规则集合，仿真期间只读
type RuleSet struct {
	Windows       map[types.EquipmentID][]*ExplicitWindow
	Recurring     map[types.EquipmentID][]*RecurringSchedule
	Cleaning      map[types.EquipmentID][]*PeriodicCleaning
	Probabilistic map[types.EquipmentID][]*Probabilistic // 按规则名字典序排列
	Cascades      map[types.EquipmentID]*CascadeTrigger  // 以上游设备为键
	Quality       []*QualityVariation
	Performance   []*PerformanceDrop
}

// rawRule 是配置中一条规则的通用字段集合，先按 kind 分发再做精细解码
type rawRule struct {
	Kind        string  `mapstructure:"kind"`
	Equipment   string  `mapstructure:"equipment"`
	Line        string  `mapstructure:"line"`
	Start       string  `mapstructure:"start"`
	End         string  `mapstructure:"end"`
	Reason      string  `mapstructure:"reason"`
	Weekday     string  `mapstructure:"weekday"`
	Hour        int     `mapstructure:"hour"`
	Probability float64 `mapstructure:"probability"`

	DurationMinutes   types.Range `mapstructure:"duration_minutes"`
	FixedMinutes      int         `mapstructure:"fixed_minutes"`
	FrequencyHours    float64     `mapstructure:"frequency_hours"`
	HourRange         *HourRange  `mapstructure:"hour_range"`
	CascadeDelayMin   int         `mapstructure:"cascade_delay_minutes"`
	DownstreamStopPr  float64     `mapstructure:"downstream_stop_probability"`
	ScrapMultiplier   float64     `mapstructure:"scrap_multiplier"`
	Degradation       types.Range `mapstructure:"degradation"`
	DurationIntervals types.Range `mapstructure:"duration_intervals"`
	When              string      `mapstructure:"when"`
}

// guardEnv 是 when 守卫表达式可见的环境，编译期即校验字段引用
func guardEnv() map[string]any {
	return map[string]any{
		"hour":           0,
		"weekday":        "",
		"equipment_type": "",
		"line":           "",
	}
}

// DecodeRuleSet 将 anomaly_injection 配置段解码为类型化的规则集合
// 所有引用（设备、产线、停机原因）在此处校验，未知 kind 是致命错误
func DecodeRuleSet(
	raw map[string]map[string]any,
	equipment map[types.EquipmentID]bool,
	lines map[types.LineID]bool,
	reasons map[string]types.DowntimeReason,
) (*RuleSet, error) {
	rs := &RuleSet{
		Windows:       make(map[types.EquipmentID][]*ExplicitWindow),
		Recurring:     make(map[types.EquipmentID][]*RecurringSchedule),
		Cleaning:      make(map[types.EquipmentID][]*PeriodicCleaning),
		Probabilistic: make(map[types.EquipmentID][]*Probabilistic),
		Cascades:      make(map[types.EquipmentID]*CascadeTrigger),
	}

	// 规则名排序保证解码顺序稳定，便于错误信息复现
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var r rawRule
		if err := mapstructure.Decode(raw[name], &r); err != nil {
			return nil, fmt.Errorf("解码异常规则 %s 失败: %w", name, err)
		}
		rule, err := buildRule(name, &r, equipment, lines, reasons)
		if err != nil {
			return nil, err
		}
		switch v := rule.(type) {
		case *ExplicitWindow:
			rs.Windows[v.Equipment] = append(rs.Windows[v.Equipment], v)
		case *RecurringSchedule:
			rs.Recurring[v.Equipment] = append(rs.Recurring[v.Equipment], v)
		case *PeriodicCleaning:
			rs.Cleaning[v.Equipment] = append(rs.Cleaning[v.Equipment], v)
		case *Probabilistic:
			rs.Probabilistic[v.Equipment] = append(rs.Probabilistic[v.Equipment], v)
		case *CascadeTrigger:
			if _, dup := rs.Cascades[v.Upstream]; dup {
				return nil, fmt.Errorf("设备 %s 存在多条级联规则", v.Upstream)
			}
			rs.Cascades[v.Upstream] = v
		case *QualityVariation:
			rs.Quality = append(rs.Quality, v)
		case *PerformanceDrop:
			rs.Performance = append(rs.Performance, v)
		default:
			return nil, fmt.Errorf("未处理的规则类型: %T", rule)
		}
	}

	// 概率性规则按名字排序，保证同片多规则触发时的决胜结果可复现
	for eq := range rs.Probabilistic {
		list := rs.Probabilistic[eq]
		sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	}
	return rs, nil
}

// buildRule 按 kind 构造一条类型化规则，穷举分发
func buildRule(
	name string,
	r *rawRule,
	equipment map[types.EquipmentID]bool,
	lines map[types.LineID]bool,
	reasons map[string]types.DowntimeReason,
) (Rule, error) {
	b := base{name: name}
	if r.When != "" {
		prog, err := expr.Compile(r.When, expr.Env(guardEnv()), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("规则 %s 的 when 守卫编译失败: %w", name, err)
		}
		b.guard = prog
	}

	needEquipment := func() (types.EquipmentID, error) {
		id := types.EquipmentID(r.Equipment)
		if !equipment[id] {
			return "", fmt.Errorf("规则 %s 引用了未知设备 %q", name, r.Equipment)
		}
		return id, nil
	}
	needReason := func() (string, error) {
		if _, ok := reasons[r.Reason]; !ok {
			return "", fmt.Errorf("规则 %s 引用了未知停机原因代码 %q", name, r.Reason)
		}
		return r.Reason, nil
	}
	needLine := func() (types.LineID, error) {
		if r.Line == "" {
			return "", nil // 空产线表示作用于全部产线
		}
		id := types.LineID(r.Line)
		if !lines[id] {
			return "", fmt.Errorf("规则 %s 引用了未知产线 %q", name, r.Line)
		}
		return id, nil
	}

	switch r.Kind {
	case KindExplicitWindow:
		eq, err := needEquipment()
		if err != nil {
			return nil, err
		}
		reason, err := needReason()
		if err != nil {
			return nil, err
		}
		start, err := time.Parse(timeLayout, r.Start)
		if err != nil {
			return nil, fmt.Errorf("规则 %s 的 start 非法: %w", name, err)
		}
		end, err := time.Parse(timeLayout, r.End)
		if err != nil {
			return nil, fmt.Errorf("规则 %s 的 end 非法: %w", name, err)
		}
		if !end.After(start) {
			return nil, fmt.Errorf("规则 %s 的窗口为空: end 必须晚于 start", name)
		}
		return &ExplicitWindow{base: b, Equipment: eq, Start: start, End: end, Reason: reason}, nil

	case KindRecurringSchedule:
		eq, err := needEquipment()
		if err != nil {
			return nil, err
		}
		reason, err := needReason()
		if err != nil {
			return nil, err
		}
		wd, err := parseWeekday(r.Weekday)
		if err != nil {
			return nil, fmt.Errorf("规则 %s: %w", name, err)
		}
		if r.Hour < 0 || r.Hour > 23 {
			return nil, fmt.Errorf("规则 %s 的 hour 必须落在 [0,23]", name)
		}
		if r.FixedMinutes <= 0 {
			return nil, fmt.Errorf("规则 %s 的 fixed_minutes 必须为正数", name)
		}
		return &RecurringSchedule{
			base: b, Equipment: eq, Weekday: wd, Hour: r.Hour,
			Duration: time.Duration(r.FixedMinutes) * time.Minute, Reason: reason,
		}, nil

	case KindPeriodicCleaning:
		eq, err := needEquipment()
		if err != nil {
			return nil, err
		}
		reason, err := needReason()
		if err != nil {
			return nil, err
		}
		if r.FrequencyHours <= 0 || r.FixedMinutes <= 0 {
			return nil, fmt.Errorf("规则 %s 的 frequency_hours/fixed_minutes 必须为正数", name)
		}
		return &PeriodicCleaning{
			base: b, Equipment: eq,
			Frequency: time.Duration(r.FrequencyHours * float64(time.Hour)),
			Duration:  time.Duration(r.FixedMinutes) * time.Minute,
			Reason:    reason,
		}, nil

	case KindProbabilistic:
		eq, err := needEquipment()
		if err != nil {
			return nil, err
		}
		reason, err := needReason()
		if err != nil {
			return nil, err
		}
		if r.Probability <= 0 || r.Probability > 1 {
			return nil, fmt.Errorf("规则 %s 的 probability 必须落在 (0,1]", name)
		}
		if !r.DurationMinutes.Valid() || r.DurationMinutes.Min <= 0 {
			return nil, fmt.Errorf("规则 %s 的 duration_minutes 区间非法", name)
		}
		if r.HourRange != nil {
			if r.HourRange.Start < 0 || r.HourRange.Start > 23 || r.HourRange.End < 0 || r.HourRange.End > 24 {
				return nil, fmt.Errorf("规则 %s 的 hour_range 非法", name)
			}
		}
		return &Probabilistic{
			base: b, Equipment: eq, Probability: r.Probability,
			DurationMinutes: r.DurationMinutes, Reason: reason, Hours: r.HourRange,
		}, nil

	case KindCascadeTrigger:
		eq, err := needEquipment()
		if err != nil {
			return nil, err
		}
		if r.CascadeDelayMin <= 0 {
			return nil, fmt.Errorf("规则 %s 的 cascade_delay_minutes 必须为正数", name)
		}
		if r.DownstreamStopPr <= 0 || r.DownstreamStopPr > 1 {
			return nil, fmt.Errorf("规则 %s 的 downstream_stop_probability 必须落在 (0,1]", name)
		}
		return &CascadeTrigger{
			base: b, Upstream: eq,
			Delay:       time.Duration(r.CascadeDelayMin) * time.Minute,
			Probability: r.DownstreamStopPr,
		}, nil

	case KindQualityVariation:
		line, err := needLine()
		if err != nil {
			return nil, err
		}
		if r.Probability < 0 || r.Probability > 1 || r.ScrapMultiplier <= 0 {
			return nil, fmt.Errorf("规则 %s 的质量波动参数非法", name)
		}
		return &QualityVariation{base: b, Line: line, Probability: r.Probability, ScrapMultiplier: r.ScrapMultiplier}, nil

	case KindPerformanceDrop:
		line, err := needLine()
		if err != nil {
			return nil, err
		}
		if r.Probability < 0 || r.Probability > 1 {
			return nil, fmt.Errorf("规则 %s 的 probability 必须落在 [0,1]", name)
		}
		if !r.Degradation.Valid() || !r.DurationIntervals.Valid() {
			return nil, fmt.Errorf("规则 %s 的性能下降区间非法", name)
		}
		return &PerformanceDrop{
			base: b, Line: line, Probability: r.Probability,
			Degradation: r.Degradation, DurationIntervals: r.DurationIntervals,
		}, nil

	default:
		return nil, fmt.Errorf("规则 %s 的 kind 未知: %q", name, r.Kind)
	}
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s == d.String() {
			return d, nil
		}
	}
	return 0, fmt.Errorf("weekday 非法: %q", s)
}
