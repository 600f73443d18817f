package event

import (
	"sync"
	"time"

	"bottling-oee-sim/internal/types"
)

// EventType 定义事件的类型
type EventType string

// 定义仿真生命周期中的所有业务事件类型
const (
	RunStarted       EventType = "RunStarted"       // 本次数据集生成开始
	LineScheduled    EventType = "LineScheduled"    // 产线订单时间轴生成完毕
	LineStarted      EventType = "LineStarted"      // 产线 tick 循环开始
	AnomalyTriggered EventType = "AnomalyTriggered" // 某台设备进入停机
	CascadeRealized  EventType = "CascadeRealized"  // 级联试验通过，下游停机已排期
	LineCompleted    EventType = "LineCompleted"    // 产线全部时间片计算完毕
	RunCompleted     EventType = "RunCompleted"     // 数据集生成成功结束
	RunFailed        EventType = "RunFailed"        // 数据集生成失败（整体中止）
)

// Event 结构体定义了事件的数据负载
type Event struct {
	Type      EventType
	Line      types.LineID
	Equipment types.EquipmentID // 仅设备相关事件
	Reason    string            // 停机原因代码（仅停机/级联事件）
	RuleKey   string            // 触发规则名（仅异常事件）
	SimTime   time.Time         // 仿真时钟，而非墙上时钟
	Orders    int               // 订单数量（仅 LineScheduled）
	Rows      int               // 产出行数（仅 LineCompleted / RunCompleted）
	Error     error             // 错误信息（仅 RunFailed）
}

// Handler 是事件处理函数的签名
type Handler func(e Event)

// Bus 是一个简单的内存事件总线
// 仿真主路径只负责发布，监控、日志、进度推送作为订阅方解耦
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus 创建一个新的事件总线实例
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe 订阅一个特定类型的事件
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish 发布一个事件，所有订阅了该事件类型的处理器都将被调用
// 处理器同步执行：发布点都在仿真热路径之外的转移时刻，
// 且订阅方只做计数与广播，不会阻塞产线循环
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, handler := range b.handlers[e.Type] {
		handler(e)
	}
}
