package producer

import "sync/atomic"

// State is the lifecycle position of a Session.
type State int32

const (
	StateUninitialized State = iota
	StateConfigured
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type atomicState struct {
	v atomic.Int32
}

func (a *atomicState) Load() State {
	return State(a.v.Load())
}

func (a *atomicState) Store(s State) {
	a.v.Store(int32(s))
}

func (a *atomicState) Swap(s State) State {
	return State(a.v.Swap(int32(s)))
}

func (a *atomicState) CompareAndSwap(old, new State) bool {
	return a.v.CompareAndSwap(int32(old), int32(new))
}
