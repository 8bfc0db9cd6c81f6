package router

import "sync/atomic"

type MetricsSnapshot struct {
	Sessions        int64
	Routed          int64
	Inputs          int64
	Outputs         int64
	Displays        int64
	ChannelMessages int64
	Dropped         int64
}

type Metrics struct {
	sessions        atomic.Int64
	routed          atomic.Int64
	inputs          atomic.Int64
	outputs         atomic.Int64
	displays        atomic.Int64
	channelMessages atomic.Int64
	dropped         atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordSession(delta int) {
	m.sessions.Add(int64(delta))
}

func (m *Metrics) RecordRouted() {
	m.routed.Add(1)
}

func (m *Metrics) RecordInput() {
	m.inputs.Add(1)
}

func (m *Metrics) RecordOutput() {
	m.outputs.Add(1)
}

func (m *Metrics) RecordDisplay() {
	m.displays.Add(1)
}

func (m *Metrics) RecordChannelMessage() {
	m.channelMessages.Add(1)
}

func (m *Metrics) RecordDropped() {
	m.dropped.Add(1)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Sessions:        m.sessions.Load(),
		Routed:          m.routed.Load(),
		Inputs:          m.inputs.Load(),
		Outputs:         m.outputs.Load(),
		Displays:        m.displays.Load(),
		ChannelMessages: m.channelMessages.Load(),
		Dropped:         m.dropped.Load(),
	}
}
