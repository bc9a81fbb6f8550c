package service

import (
	"sync/atomic"
	"time"

	"signal_executor/internal/broker"
)

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	brokerState    atomic.Int32
	monitoringOnly atomic.Bool
	lastSignalUnix atomic.Int64 // unix seconds
	signals        atomic.Int64
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

// SetBroker mirrors the queue session; the service is ready only while consuming.
func (s *State) SetBroker(st broker.ConnState) {
	s.brokerState.Store(int32(st))
	s.ready.Store(st == broker.Connected)
}
func (s *State) Broker() broker.ConnState { return broker.ConnState(s.brokerState.Load()) }

func (s *State) SetMonitoringOnly(v bool) { s.monitoringOnly.Store(v) }
func (s *State) MonitoringOnly() bool     { return s.monitoringOnly.Load() }

func (s *State) TouchSignal(t time.Time) {
	s.lastSignalUnix.Store(t.Unix())
	s.signals.Add(1)
}
func (s *State) LastSignal() time.Time {
	u := s.lastSignalUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}
func (s *State) Signals() int64 { return s.signals.Load() }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
