package network

import (
	"context"
	"log"
	"sync"
	"time"
)

// EventType はネットワークイベントの種類
type EventType string

const (
	EventStationStart        EventType = "sta_start"
	EventStationConnected    EventType = "sta_connected"
	EventStationGotIP        EventType = "sta_got_ip"
	EventStationLostIP       EventType = "sta_lost_ip"
	EventStationDisconnected EventType = "sta_disconnected"
	EventStationStop         EventType = "sta_stop"
	EventAPStart             EventType = "ap_start"
	EventAPStop              EventType = "ap_stop"
)

// DefaultMonitorInterval はステーション状態のポーリング間隔
const DefaultMonitorInterval = 2 * time.Second

// Event はネットワークイベント
type Event struct {
	Type  EventType
	State StationState
	Time  time.Time
}

// StateSource はステーションの状態を返す
type StateSource interface {
	State(ctx context.Context) (StationState, error)
}

// Monitor はステーションの状態変化をイベントとして通知する
type Monitor struct {
	source   StateSource
	interval time.Duration

	mu       sync.Mutex
	handlers []func(Event)
	last     StationState
}

// NewMonitor は新しいMonitorを作成する
func NewMonitor(source StateSource, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Monitor{source: source, interval: interval}
}

// Subscribe はイベントハンドラを登録する
func (m *Monitor) Subscribe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// Emit はイベントを全ハンドラに通知する
func (m *Monitor) Emit(t EventType, state StationState) {
	m.mu.Lock()
	handlers := make([]func(Event), len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	log.Printf("ネットワークイベント: %s", t)
	e := Event{Type: t, State: state, Time: time.Now()}
	for _, h := range handlers {
		h(e)
	}
}

// Last は最後に観測した状態を返す
func (m *Monitor) Last() StationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Run は ctx が終了するまで状態をポーリングする
func (m *Monitor) Run(ctx context.Context) error {
	m.Emit(EventStationStart, m.Last())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Poll(ctx)

		select {
		case <-ctx.Done():
			m.Emit(EventStationStop, m.Last())
			return nil
		case <-ticker.C:
		}
	}
}

// Poll は状態を1回取得し、変化に応じたイベントを発行する
func (m *Monitor) Poll(ctx context.Context) []EventType {
	cur, err := m.source.State(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("ネットワーク状態の取得に失敗: %v", err)
		}
		return nil
	}

	m.mu.Lock()
	prev := m.last
	m.last = cur
	m.mu.Unlock()

	events := transitions(prev, cur)
	for _, t := range events {
		m.Emit(t, cur)
	}
	return events
}

// transitions は状態の変化から発行すべきイベントを求める
func transitions(prev, cur StationState) []EventType {
	var events []EventType

	if !prev.Connected && cur.Connected {
		events = append(events, EventStationConnected)
	}

	switch {
	case cur.IP != "" && cur.IP != prev.IP:
		events = append(events, EventStationGotIP)
	case prev.IP != "" && cur.IP == "":
		events = append(events, EventStationLostIP)
	}

	if prev.Connected && !cur.Connected {
		events = append(events, EventStationDisconnected)
	}
	return events
}
