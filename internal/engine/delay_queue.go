package engine

import (
	"time"

	"bottling-oee-sim/internal/types"
)

// pendingCascade 是延迟队列中的元素：一次已通过伯努利试验、
// 等待延迟到期的级联停机
type pendingCascade struct {
	downstream  types.EquipmentID // 将被迫停的下游设备
	upstream    types.EquipmentID // 引发级联的上游设备
	ruleKey     string            // 来源级联规则名
	effectiveAt time.Time         // 延迟到期时间
	index       int               // 元素在堆中的索引
}

// delayQueue 实现了 heap.Interface 接口，是一个按生效时间排序的最小堆
type delayQueue []*pendingCascade

func (dq delayQueue) Len() int { return len(dq) }

// Less 定义了元素的排序规则：最早生效的级联先出队
func (dq delayQueue) Less(i, j int) bool {
	return dq[i].effectiveAt.Before(dq[j].effectiveAt)
}

// Swap 交换两个元素的位置
func (dq delayQueue) Swap(i, j int) {
	dq[i], dq[j] = dq[j], dq[i]
	dq[i].index = i
	dq[j].index = j
}

// Push 向队列中添加元素
func (dq *delayQueue) Push(x interface{}) {
	n := len(*dq)
	item := x.(*pendingCascade)
	item.index = n
	*dq = append(*dq, item)
}

// Pop 从队列中移除并返回最早生效的元素
func (dq *delayQueue) Pop() interface{} {
	old := *dq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // 避免内存泄漏
	item.index = -1
	*dq = old[0 : n-1]
	return item
}
