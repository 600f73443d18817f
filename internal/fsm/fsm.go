package fsm

import (
	"fmt"

	"bottling-oee-sim/internal/types"
)

// State 定义设备状态类型
type State string

// Event 定义状态转移事件类型
type Event string

const (
	StateRunning State = "RUNNING"
	StateStopped State = "STOPPED"
)

const (
	EventTrip    Event = "TRIP"    // 进入停机（异常、保养、级联或换型）
	EventRecover Event = "RECOVER" // 恢复运行
)

// Machine 是设备状态机
// 状态空间只有 Running/Stopped 两态，但转移表保证
// 非法转移（例如对已停机设备重复 Trip）会被显式拒绝
type Machine struct {
	Current State
	// transitions 定义状态转移表: CurrentState -> Event -> NextState
	transitions map[State]map[Event]State
	// callbacks 定义状态变更后的回调: State -> func()
	callbacks map[State]func(eq types.EquipmentID)
	Equipment types.EquipmentID // 关联的设备 ID
}

// New 创建一台设备的状态机，初始状态为 Running
func New(eq types.EquipmentID) *Machine {
	m := &Machine{
		Current:     StateRunning,
		Equipment:   eq,
		transitions: make(map[State]map[Event]State),
		callbacks:   make(map[State]func(types.EquipmentID)),
	}
	m.addTransition(StateRunning, EventTrip, StateStopped)
	m.addTransition(StateStopped, EventRecover, StateRunning)
	return m
}

func (m *Machine) addTransition(from State, event Event, to State) {
	if _, ok := m.transitions[from]; !ok {
		m.transitions[from] = make(map[Event]State)
	}
	m.transitions[from][event] = to
}

// RegisterCallback 注册进入某状态时的回调
func (m *Machine) RegisterCallback(state State, callback func(eq types.EquipmentID)) {
	m.callbacks[state] = callback
}

// Fire 触发事件
func (m *Machine) Fire(event Event) error {
	nextState, ok := m.transitions[m.Current][event]
	if !ok {
		return fmt.Errorf("invalid transition: cannot fire event %s from state %s", event, m.Current)
	}
	m.Current = nextState

	// 同步执行回调，回调中不要再调用 Fire
	if cb, exists := m.callbacks[nextState]; exists {
		cb(m.Equipment)
	}
	return nil
}

// Stopped 报告设备当前是否处于停机状态
func (m *Machine) Stopped() bool {
	return m.Current == StateStopped
}
