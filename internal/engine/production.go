package engine

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"bottling-oee-sim/internal/anomaly"
	"bottling-oee-sim/internal/config"
	"bottling-oee-sim/internal/types"
)

// perfDropState 记录一次持续中的随机性能下降
type perfDropState struct {
	factor    float64 // 降额比例，0.10 表示产出降低 10%
	remaining int     // 剩余生效的时间片数
}

// calculator 为处于 Running 状态的设备计算良品/报废数量
// 每条产线持有一个实例；设备机械效率在构造时采样一次，之后固定
type calculator struct {
	specs *config.SpecsConfig
	line  types.LineID

	// 来自 anomaly_injection 的产线级修饰规则，nil 时回落到全局配置
	qualityMod *anomaly.QualityVariation
	perfMod    *anomaly.PerformanceDrop

	unitEff map[types.EquipmentID]float64 // 每台设备的机械效率，启动时采样
	drops   map[types.EquipmentID]*perfDropState
}

// newCalculator 创建产量计算器并为每台设备采样机械效率
// 采样顺序按产线设备顺序固定，保证随机流可复现
func newCalculator(
	specs *config.SpecsConfig,
	line *types.ProductionLine,
	ae *anomaly.Engine,
	rng *rand.Rand,
) *calculator {
	c := &calculator{
		specs:      specs,
		line:       line.ID,
		qualityMod: ae.QualityModifier(line.ID),
		perfMod:    ae.PerformanceModifier(line.ID),
		unitEff:    make(map[types.EquipmentID]float64),
		drops:      make(map[types.EquipmentID]*perfDropState),
	}
	for _, eq := range line.Equipment {
		eff := 1.0
		if r, ok := specs.EquipmentEfficiency[string(eq.Type)]; ok {
			eff = uniformSample(rng, r)
		}
		c.unitEff[eq.ID] = eff
	}
	return c
}

// units 计算设备在时间片 t 的良品和报废数量
// 理论产出 = 目标产能 x 性能系数；随后按有效报废率拆分良品/报废
// 报废率叠加规则：
//   - 开机报废率、质量异常报废率是"替换"语义，直接取代基础报废率
//   - 换型尖峰、尾段衰退、随机质量波动是乘数语义，彼此相乘叠加
func (c *calculator) units(
	eq *types.Equipment,
	p *types.Product,
	order *types.ProductionOrder,
	t time.Time,
	interval time.Duration,
	rng *rand.Rand,
) (good, scrap int) {
	perf := c.performanceFactor(eq, p, t, rng)
	output := p.TargetRate * perf

	rate := c.effectiveScrapRate(p, order, t, interval, rng)

	good = int(math.Round(output * (1 - rate)))
	scrap = int(math.Round(output)) - good
	if good < 0 {
		good = 0
	}
	if scrap < 0 {
		scrap = 0
	}
	return good, scrap
}

// performanceFactor 计算当前时间片的综合性能系数：
// 班次系数 x 设备机械效率 x 产品降额（若该产品在本线被标记）x 随机性能下降
func (c *calculator) performanceFactor(eq *types.Equipment, p *types.Product, t time.Time, rng *rand.Rand) float64 {
	perf := c.shiftFactor(t) * c.unitEff[eq.ID]

	if p.DegradesOn(c.line) {
		perf *= 1 - uniformSample(rng, *p.PerformanceDegradation)
	}

	// 随机性能下降：触发后对连续若干时间片生效，期间不重掷
	ds := c.drops[eq.ID]
	if ds != nil && ds.remaining > 0 {
		perf *= 1 - ds.factor
		ds.remaining--
		return perf
	}
	prob, degradation, duration := c.perfDropParams()
	if prob > 0 && rng.Float64() < prob {
		factor := uniformSample(rng, degradation)
		n := int(math.Round(uniformSample(rng, duration)))
		if n < 1 {
			n = 1
		}
		c.drops[eq.ID] = &perfDropState{factor: factor, remaining: n - 1}
		perf *= 1 - factor
	}
	return perf
}

// effectiveScrapRate 计算当前时间片的有效报废率
func (c *calculator) effectiveScrapRate(
	p *types.Product,
	order *types.ProductionOrder,
	t time.Time,
	interval time.Duration,
	rng *rand.Rand,
) float64 {
	base := p.NormalScrapRate
	if base == 0 {
		base = c.specs.DefaultScrapRate
	}

	// 开机报废：订单首个时间片替换基础报废率
	if p.StartupScrapRate != nil && t.Before(order.Start.Add(interval)) {
		base = *p.StartupScrapRate
	}

	// 随机质量波动试验。每个时间片都要掷，保证随机流消耗稳定
	qProb, qMult := c.qualityParams()
	qualityFired := qProb > 0 && rng.Float64() < qProb

	// 产品自带质量异常报废率：波动触发时替换基础报废率（而非乘算）
	if qualityFired && p.QualityIssueScrapRate != nil {
		base = *p.QualityIssueScrapRate
	}

	mult := 1.0
	if w := c.specs.ChangeoverScrap.WindowMinutes; w > 0 {
		if t.Before(order.Start.Add(time.Duration(w) * time.Minute)) {
			mult *= c.specs.ChangeoverScrap.Multiplier
		}
	}
	if w := c.specs.EndOfRun.WindowHours; w > 0 {
		if !t.Before(order.End.Add(-time.Duration(w) * time.Hour)) {
			mult *= c.specs.EndOfRun.Multiplier
		}
	}
	if qualityFired && p.QualityIssueScrapRate == nil {
		mult *= qMult
	}

	rate := base * mult
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return rate
}

// shiftFactor 返回时间戳所属 8 小时班次的性能系数
func (c *calculator) shiftFactor(t time.Time) float64 {
	return c.specs.ShiftPerformance[t.Hour()/8]
}

// perfDropParams 返回随机性能下降的生效参数，产线级规则优先于全局配置
func (c *calculator) perfDropParams() (prob float64, degradation, duration types.Range) {
	if c.perfMod != nil {
		return c.perfMod.Probability, c.perfMod.Degradation, c.perfMod.DurationIntervals
	}
	d := c.specs.PerformanceDrop
	return d.Probability, d.Degradation, d.DurationIntervals
}

// qualityParams 返回随机质量波动的生效参数，产线级规则优先于全局配置
func (c *calculator) qualityParams() (prob, mult float64) {
	if c.qualityMod != nil {
		return c.qualityMod.Probability, c.qualityMod.ScrapMultiplier
	}
	q := c.specs.QualityVariation
	return q.Probability, q.ScrapMultiplier
}

// uniformSample 从闭区间均匀采样
// 区间在加载期已校验，运行到这里出现退化区间属于编程错误
func uniformSample(rng *rand.Rand, r types.Range) float64 {
	if !r.Valid() {
		panic(fmt.Sprintf("非法的采样区间: [%v, %v]", r.Min, r.Max))
	}
	return r.Min + rng.Float64()*(r.Max-r.Min)
}
