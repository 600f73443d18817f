package schedule

import (
	"math/rand"

	"bottling-oee-sim/internal/types"
)

// ProductPicker 定义产品分配策略
// 排程器每开一张新订单调用一次；策略必须保证不立即重复上一产品，
// 否则订单边界上不会发生真实换型
type ProductPicker interface {
	Pick(prev *types.Product, rng *rand.Rand) *types.Product
}

// RandomNoRepeatPicker 在目录中均匀随机选择，但排除上一产品
// 这是默认策略
type RandomNoRepeatPicker struct {
	catalog []types.Product
}

// NewRandomNoRepeatPicker 创建默认的随机分配策略
func NewRandomNoRepeatPicker(catalog []types.Product) *RandomNoRepeatPicker {
	return &RandomNoRepeatPicker{catalog: catalog}
}

// Pick 随机选择一个与 prev 不同的产品
// 目录只有一个产品时退化为固定选择（加载期已保证目录非空）
func (p *RandomNoRepeatPicker) Pick(prev *types.Product, rng *rand.Rand) *types.Product {
	if len(p.catalog) == 1 {
		return &p.catalog[0]
	}
	for {
		c := &p.catalog[rng.Intn(len(p.catalog))]
		if prev == nil || c.SKU != prev.SKU {
			return c
		}
	}
}

// CyclicPicker 按目录顺序循环分配，主要用于需要确定顺序的测试场景
type CyclicPicker struct {
	catalog []types.Product
	next    int
}

// NewCyclicPicker 创建循环分配策略
func NewCyclicPicker(catalog []types.Product) *CyclicPicker {
	return &CyclicPicker{catalog: catalog}
}

// Pick 返回目录中的下一个产品，不消耗随机源
func (p *CyclicPicker) Pick(prev *types.Product, rng *rand.Rand) *types.Product {
	c := &p.catalog[p.next%len(p.catalog)]
	p.next++
	return c
}
