package config

import (
	"fmt"
	"sort"
	"time"

	"bottling-oee-sim/internal/types"

	"github.com/spf13/viper"
)

// TimeLayout 是配置和输出统一使用的时间格式
const TimeLayout = "2006-01-02 15:04:05"

// SimulationConfig 定义仿真窗口和随机种子
type SimulationConfig struct {
	StartDate       string `mapstructure:"start_date"`       // 格式见 TimeLayout
	DurationDays    int    `mapstructure:"duration_days"`    // 仿真天数
	IntervalMinutes int    `mapstructure:"interval_minutes"` // 时间片长度，默认 5 分钟
	Seed            int64  `mapstructure:"seed"`             // 主随机种子，相同种子产出逐字节一致的数据集
}

// ScheduleConfig 定义排程器的采样区间
type ScheduleConfig struct {
	RunDurationHours     types.Range `mapstructure:"run_duration_hours"`     // 单张订单时长（小时）
	ChangeoverGapMinutes types.Range `mapstructure:"changeover_gap_minutes"` // 订单之间的换型间隙（分钟）
}

// PerformanceDropConfig 定义随机性能下降异常的参数
type PerformanceDropConfig struct {
	Probability       float64     `mapstructure:"probability"`        // 每个时间片的触发概率
	Degradation       types.Range `mapstructure:"degradation"`        // 降额比例区间，0.10 表示产出降低 10%
	DurationIntervals types.Range `mapstructure:"duration_intervals"` // 持续的连续时间片数
}

// QualityVariationConfig 定义随机质量波动异常的参数
type QualityVariationConfig struct {
	Probability     float64 `mapstructure:"probability"`      // 每个时间片的触发概率
	ScrapMultiplier float64 `mapstructure:"scrap_multiplier"` // 触发时施加在报废率上的乘数
}

// ChangeoverScrapConfig 定义换型后报废率尖峰
type ChangeoverScrapConfig struct {
	WindowMinutes int     `mapstructure:"window_minutes"` // 订单开始后的生效窗口
	Multiplier    float64 `mapstructure:"multiplier"`
}

// EndOfRunConfig 定义订单尾段的质量衰退
type EndOfRunConfig struct {
	WindowHours int     `mapstructure:"window_hours"` // 订单结束前的生效窗口
	Multiplier  float64 `mapstructure:"multiplier"`
}

// SpecsConfig 对应 product_specifications 配置段：
// 全局报废默认值、设备效率区间、班次性能系数和随机扰动参数
type SpecsConfig struct {
	DefaultScrapRate float64 `mapstructure:"default_scrap_rate"`
	// 三个 8 小时班次的性能系数，按 [0:00-8:00, 8:00-16:00, 16:00-24:00] 排列
	ShiftPerformance []float64 `mapstructure:"shift_performance_variation"`
	// 每类设备的机械效率区间，启动时每台设备采样一次
	EquipmentEfficiency map[string]types.Range `mapstructure:"equipment_efficiency"`
	PerformanceDrop     PerformanceDropConfig  `mapstructure:"random_performance_drop"`
	QualityVariation    QualityVariationConfig `mapstructure:"random_quality_variation"`
	ChangeoverScrap     ChangeoverScrapConfig  `mapstructure:"changeover_scrap"`
	EndOfRun            EndOfRunConfig         `mapstructure:"end_of_run_quality"`
}

// EquipmentSection 对应 equipment_configuration 配置段
type EquipmentSection struct {
	Lines []types.ProductionLine `mapstructure:"lines"`
}

// Config 定义生成器的完整配置结构
// 使用 mapstructure 标签来映射配置文件中的字段
type Config struct {
	Simulation SimulationConfig                `mapstructure:"simulation"`
	Equipment  EquipmentSection                `mapstructure:"equipment_configuration"`
	Products   []types.Product                 `mapstructure:"product_master"`
	Reasons    map[string]types.DowntimeReason `mapstructure:"downtime_reason_mapping"`
	Anomalies  map[string]map[string]any       `mapstructure:"anomaly_injection"`
	Schedule   ScheduleConfig                  `mapstructure:"production_schedule"`
	Specs      SpecsConfig                     `mapstructure:"product_specifications"`
}

// Load 从指定路径加载配置文件
// 使用 Viper 库来读取和解析配置文件，加载后立即做结构校验：
// 任何畸形配置都是致命错误，宁可拒绝运行也不能静默跳过规则
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// 设置默认值
	v.SetDefault("simulation.interval_minutes", 5)
	v.SetDefault("simulation.duration_days", 14)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Window 返回仿真窗口 [start, end) 和时间片长度
func (s *SimulationConfig) Window() (start, end time.Time, interval time.Duration, err error) {
	start, err = time.Parse(TimeLayout, s.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("simulation.start_date 格式非法: %w", err)
	}
	end = start.AddDate(0, 0, s.DurationDays)
	interval = time.Duration(s.IntervalMinutes) * time.Minute
	return start, end, interval, nil
}

// Normalize 建立配置中的派生引用：按 position 排序设备并连接上下游链
func (c *Config) Normalize() error {
	for li := range c.Equipment.Lines {
		line := &c.Equipment.Lines[li]
		sort.SliceStable(line.Equipment, func(i, j int) bool {
			return line.Equipment[i].Position < line.Equipment[j].Position
		})
		for ei := range line.Equipment {
			eq := &line.Equipment[ei]
			eq.Line = line.ID
			eq.Upstream, eq.Downstream = nil, nil
			if ei > 0 {
				id := line.Equipment[ei-1].ID
				eq.Upstream = &id
			}
			if ei < len(line.Equipment)-1 {
				id := line.Equipment[ei+1].ID
				eq.Downstream = &id
			}
		}
	}
	return nil
}

// Validate 校验配置的结构完整性
// 校验失败视为致命错误：静默跳过会破坏下游数据集的统计特性
func (c *Config) Validate() error {
	if _, _, _, err := c.Simulation.Window(); err != nil {
		return err
	}
	if c.Simulation.DurationDays <= 0 {
		return fmt.Errorf("simulation.duration_days 必须为正数, 实际为 %d", c.Simulation.DurationDays)
	}
	if c.Simulation.IntervalMinutes <= 0 {
		return fmt.Errorf("simulation.interval_minutes 必须为正数, 实际为 %d", c.Simulation.IntervalMinutes)
	}

	if len(c.Products) == 0 {
		return fmt.Errorf("product_master 不能为空")
	}
	lineIDs := make(map[types.LineID]bool)
	for _, line := range c.Equipment.Lines {
		lineIDs[line.ID] = true
	}
	seenSKU := make(map[types.SKU]bool)
	for i := range c.Products {
		p := &c.Products[i]
		if seenSKU[p.SKU] {
			return fmt.Errorf("product_master 中 SKU %s 重复", p.SKU)
		}
		seenSKU[p.SKU] = true
		if p.TargetRate <= 0 {
			return fmt.Errorf("产品 %s 的 target_rate 必须为正数", p.SKU)
		}
		if p.NormalScrapRate < 0 || p.NormalScrapRate >= 1 {
			return fmt.Errorf("产品 %s 的 normal_scrap_rate 必须落在 [0,1) 区间", p.SKU)
		}
		if p.PerformanceDegradation != nil && !p.PerformanceDegradation.Valid() {
			return fmt.Errorf("产品 %s 的 performance_degradation 区间非法", p.SKU)
		}
		for _, l := range p.PerformanceIssueLines {
			if !lineIDs[l] {
				return fmt.Errorf("产品 %s 引用了未知产线 %s", p.SKU, l)
			}
		}
	}

	if err := c.validateLines(); err != nil {
		return err
	}
	if err := c.validateReasons(); err != nil {
		return err
	}
	if err := c.validateRanges(); err != nil {
		return err
	}
	return nil
}

// validateLines 校验每条产线都是 [Filler, Packer, Palletizer] 的简单链
func (c *Config) validateLines() error {
	if len(c.Equipment.Lines) == 0 {
		return fmt.Errorf("equipment_configuration.lines 不能为空")
	}
	seenEq := make(map[types.EquipmentID]bool)
	for _, line := range c.Equipment.Lines {
		if len(line.Equipment) != len(types.ChainOrder) {
			return fmt.Errorf("产线 %s 必须恰好包含 %d 台设备, 实际为 %d", line.ID, len(types.ChainOrder), len(line.Equipment))
		}
		prevPos := 0
		for i, eq := range line.Equipment {
			if eq.Type != types.ChainOrder[i] {
				return fmt.Errorf("产线 %s 第 %d 台设备类型应为 %s, 实际为 %s", line.ID, i+1, types.ChainOrder[i], eq.Type)
			}
			if i > 0 && eq.Position <= prevPos {
				return fmt.Errorf("产线 %s 的设备 position 必须严格递增", line.ID)
			}
			prevPos = eq.Position
			if seenEq[eq.ID] {
				return fmt.Errorf("设备 ID %s 重复", eq.ID)
			}
			seenEq[eq.ID] = true
		}
		// 链的两端：入口无上游，出口无下游
		if line.Equipment[0].Upstream != nil || line.Equipment[len(line.Equipment)-1].Downstream != nil {
			return fmt.Errorf("产线 %s 的上下游链被破坏", line.ID)
		}
	}
	return nil
}

// validateReasons 校验停机原因分类表，引擎内置代码必须存在
func (c *Config) validateReasons() error {
	if len(c.Reasons) == 0 {
		return fmt.Errorf("downtime_reason_mapping 不能为空")
	}
	for code, r := range c.Reasons {
		if r.Category != types.CategoryPlanned && r.Category != types.CategoryUnplanned {
			return fmt.Errorf("停机原因 %s 的 category 非法: %s", code, r.Category)
		}
	}
	for _, builtin := range []string{types.ReasonChangeover, types.ReasonStarvation} {
		if _, ok := c.Reasons[builtin]; !ok {
			return fmt.Errorf("downtime_reason_mapping 缺少引擎内置代码 %s", builtin)
		}
	}
	return nil
}

// validateRanges 校验所有采样区间，退化区间在运行期会变成编程错误，必须在加载期拦截
func (c *Config) validateRanges() error {
	if !c.Schedule.RunDurationHours.Valid() || c.Schedule.RunDurationHours.Min <= 0 {
		return fmt.Errorf("production_schedule.run_duration_hours 区间非法")
	}
	if !c.Schedule.ChangeoverGapMinutes.Valid() || c.Schedule.ChangeoverGapMinutes.Min <= 0 {
		return fmt.Errorf("production_schedule.changeover_gap_minutes 区间非法")
	}
	if len(c.Specs.ShiftPerformance) != 3 {
		return fmt.Errorf("product_specifications.shift_performance_variation 必须包含 3 个班次系数, 实际为 %d", len(c.Specs.ShiftPerformance))
	}
	for i, f := range c.Specs.ShiftPerformance {
		if f <= 0 {
			return fmt.Errorf("班次 %d 的性能系数必须为正数", i)
		}
	}
	for _, et := range types.ChainOrder {
		r, ok := c.Specs.EquipmentEfficiency[string(et)]
		if !ok {
			continue // 缺省视为效率 1.0
		}
		if !r.Valid() || r.Min <= 0 {
			return fmt.Errorf("设备类型 %s 的 equipment_efficiency 区间非法", et)
		}
	}
	if p := c.Specs.PerformanceDrop.Probability; p < 0 || p > 1 {
		return fmt.Errorf("random_performance_drop.probability 必须落在 [0,1]")
	}
	if c.Specs.PerformanceDrop.Probability > 0 {
		if !c.Specs.PerformanceDrop.Degradation.Valid() || !c.Specs.PerformanceDrop.DurationIntervals.Valid() {
			return fmt.Errorf("random_performance_drop 的采样区间非法")
		}
	}
	if p := c.Specs.QualityVariation.Probability; p < 0 || p > 1 {
		return fmt.Errorf("random_quality_variation.probability 必须落在 [0,1]")
	}
	return nil
}

// Line 按 ID 查找产线
func (c *Config) Line(id types.LineID) (*types.ProductionLine, bool) {
	for i := range c.Equipment.Lines {
		if c.Equipment.Lines[i].ID == id {
			return &c.Equipment.Lines[i], true
		}
	}
	return nil, false
}

// Product 按 SKU 查找产品
func (c *Config) Product(sku types.SKU) (*types.Product, bool) {
	for i := range c.Products {
		if c.Products[i].SKU == sku {
			return &c.Products[i], true
		}
	}
	return nil, false
}

// LineIDs 返回全部产线 ID 集合，供异常规则校验引用
func (c *Config) LineIDs() map[types.LineID]bool {
	ids := make(map[types.LineID]bool)
	for _, line := range c.Equipment.Lines {
		ids[line.ID] = true
	}
	return ids
}

// EquipmentIDs 返回全部设备 ID 集合，供异常规则校验引用
func (c *Config) EquipmentIDs() map[types.EquipmentID]bool {
	ids := make(map[types.EquipmentID]bool)
	for _, line := range c.Equipment.Lines {
		for _, eq := range line.Equipment {
			ids[eq.ID] = true
		}
	}
	return ids
}
