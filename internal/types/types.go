package types

import "time"

// LineID 定义产线 ID
// 使用字符串类型，方便在日志和配置中直接使用
type LineID string

// EquipmentID 定义设备 ID，例如 "LINE1-FIL"
type EquipmentID string

// SKU 定义产品编号
type SKU string

// EquipmentType 定义设备类型
// 一条灌装产线固定由三类设备按顺序组成
type EquipmentType string

const (
	EquipmentFiller     EquipmentType = "Filler"     // 灌装机（产线入口）
	EquipmentPacker     EquipmentType = "Packer"     // 包装机（中间工位）
	EquipmentPalletizer EquipmentType = "Palletizer" // 码垛机（产线出口）
)

// ChainOrder 定义产线上设备的固定顺序：上游在前，下游在后
var ChainOrder = []EquipmentType{EquipmentFiller, EquipmentPacker, EquipmentPalletizer}

// MachineStatus 定义设备在一个时间片内的运行状态
type MachineStatus string

const (
	StatusRunning MachineStatus = "Running"
	StatusStopped MachineStatus = "Stopped"
)

// DowntimeCategory 停机原因的大类
type DowntimeCategory string

const (
	CategoryPlanned   DowntimeCategory = "PlannedDowntime"   // 计划停机（保养、清洗、换型）
	CategoryUnplanned DowntimeCategory = "UnplannedDowntime" // 非计划停机（故障、缺料）
)

// 引擎自身会产生的停机原因代码，必须存在于原因映射表中
const (
	ReasonChangeover = "PLN-CHG" // 换型间隙
	ReasonStarvation = "UNP-MAT" // 上游级联导致的缺料
)

// DowntimeReason 描述一个停机原因代码的分类信息
type DowntimeReason struct {
	Class    string           `mapstructure:"class"`
	Category DowntimeCategory `mapstructure:"category"`
}

// Equipment 表示产线上的一台设备
// 由配置一次性创建，仿真期间不可变
type Equipment struct {
	ID       EquipmentID   `mapstructure:"id"`
	Type     EquipmentType `mapstructure:"type"`
	Line     LineID        `mapstructure:"-"`
	Position int           `mapstructure:"position"`
	// 上下游引用构成一条简单链（无分支、无环），由加载器根据 position 建立
	Upstream   *EquipmentID `mapstructure:"-"`
	Downstream *EquipmentID `mapstructure:"-"`
}

// ProductionLine 表示一条灌装产线
// 设备序列固定为 [Filler, Packer, Palletizer]，position 严格递增
type ProductionLine struct {
	ID        LineID      `mapstructure:"id"`
	Equipment []Equipment `mapstructure:"equipment"`
}

// Range 定义一个闭区间 [Min, Max]，用于均匀采样
type Range struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

// Valid 报告区间是否可用于采样（非退化且下界非负）
func (r Range) Valid() bool {
	return r.Min >= 0 && r.Max >= r.Min
}

// Product 表示产品主数据中的一个 SKU 条目，仿真期间只读
type Product struct {
	SKU          SKU     `mapstructure:"sku"`
	Name         string  `mapstructure:"name"`
	TargetRate   float64 `mapstructure:"target_rate"`   // 理论产能，单位：件/5分钟
	StandardCost float64 `mapstructure:"standard_cost"` // 标准成本，单位：元/件
	SalePrice    float64 `mapstructure:"sale_price"`    // 售价，单位：元/件

	NormalScrapRate float64 `mapstructure:"normal_scrap_rate"` // 正常报废率
	// 可选：质量异常触发时替换基础报废率
	QualityIssueScrapRate *float64 `mapstructure:"quality_issue_scrap_rate"`
	// 可选：订单首个时间片使用的开机报废率
	StartupScrapRate *float64 `mapstructure:"startup_scrap_rate"`
	// 可选：该产品在指定产线上存在性能问题时的降额区间
	PerformanceIssueLines  []LineID `mapstructure:"performance_issue_lines"`
	PerformanceDegradation *Range   `mapstructure:"performance_degradation"`
}

// DegradesOn 报告产品在指定产线上是否被标记为性能问题产品
func (p *Product) DegradesOn(line LineID) bool {
	if p.PerformanceDegradation == nil {
		return false
	}
	for _, l := range p.PerformanceIssueLines {
		if l == line {
			return true
		}
	}
	return false
}

// ProductionOrder 表示排程器生成的一张生产订单
// 仿真开始前生成，之后只读。同一产线任意时刻最多一张订单生效
type ProductionOrder struct {
	ID    string
	Line  LineID
	SKU   SKU
	Start time.Time
	End   time.Time // 右开区间：订单覆盖 [Start, End)
	Seq   int       // 订单在产线时间轴中的序号
}

// Covers 报告订单是否覆盖时间戳 t
func (o *ProductionOrder) Covers(t time.Time) bool {
	return !t.Before(o.Start) && t.Before(o.End)
}

// EventRow 是输出事件日志中的一行，对应一台设备的一个 5 分钟时间片
// 字段顺序即输出 CSV 的列顺序
type EventRow struct {
	Timestamp         time.Time     `json:"timestamp"`
	ProductionOrderID string        `json:"production_order_id,omitempty"` // 无订单覆盖时为空
	LineID            LineID        `json:"line_id"`
	EquipmentID       EquipmentID   `json:"equipment_id"`
	EquipmentType     EquipmentType `json:"equipment_type"`
	ProductID         string        `json:"product_id,omitempty"` // 无订单覆盖时为空
	ProductName       string        `json:"product_name,omitempty"`
	MachineStatus     MachineStatus `json:"machine_status"`
	DowntimeReason    string        `json:"downtime_reason,omitempty"` // 仅 Stopped 时非空，一个时间片只有一个原因
	GoodUnits         int           `json:"good_units_produced"`
	ScrapUnits        int           `json:"scrap_units_produced"`
	TargetRate        float64       `json:"target_rate_units_per_5min"`
	StandardCost      float64       `json:"standard_cost_per_unit"`
	SalePrice         float64       `json:"sale_price_per_unit"`
	Availability      float64       `json:"availability_score"`
	Performance       float64       `json:"performance_score"`
	Quality           float64       `json:"quality_score"`
	OEE               float64       `json:"oee_score"`
}

// CSVHeader 是输出事件日志的固定表头，下游本体填充器依赖这些列名
var CSVHeader = []string{
	"Timestamp",
	"ProductionOrderID",
	"LineID",
	"EquipmentID",
	"EquipmentType",
	"ProductID",
	"ProductName",
	"MachineStatus",
	"DowntimeReason",
	"GoodUnitsProduced",
	"ScrapUnitsProduced",
	"TargetRate_units_per_5min",
	"StandardCost_per_unit",
	"SalePrice_per_unit",
	"Availability_Score",
	"Performance_Score",
	"Quality_Score",
	"OEE_Score",
}
