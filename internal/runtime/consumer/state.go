package consumer

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/drblury/cekafka/internal/runtime/config"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateUninitialized State = iota
	StateSubscribed
	StatePolling
	StateStopping
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSubscribed:
		return "subscribed"
	case StatePolling:
		return "polling"
	case StateStopping:
		return "stopping"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type atomicState struct {
	v atomic.Int32
}

func (a *atomicState) Load() State                    { return State(a.v.Load()) }
func (a *atomicState) Store(s State)                  { a.v.Store(int32(s)) }
func (a *atomicState) CompareAndSwap(o, n State) bool { return a.v.CompareAndSwap(int32(o), int32(n)) }

// RecordPolicy decides what happens to a record that cannot be decoded or
// whose handler fails.
type RecordPolicy int

const (
	// PolicySkip logs the failure with the record key, acknowledges the
	// record and continues.
	PolicySkip RecordPolicy = iota
	// PolicyDeadLetter publishes the raw record with the failure reason to
	// the dead-letter topic, acknowledges it and continues.
	PolicyDeadLetter
	// PolicyHalt leaves the record unacknowledged and stops the session.
	PolicyHalt
)

func (p RecordPolicy) String() string {
	switch p {
	case PolicySkip:
		return config.PolicySkip
	case PolicyDeadLetter:
		return config.PolicyDeadLetter
	case PolicyHalt:
		return config.PolicyHalt
	default:
		return "unknown"
	}
}

// ParsePolicy maps a record.policy setting to a RecordPolicy. The empty
// string selects PolicySkip.
func ParsePolicy(s string) (RecordPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", config.PolicySkip:
		return PolicySkip, nil
	case config.PolicyDeadLetter:
		return PolicyDeadLetter, nil
	case config.PolicyHalt:
		return PolicyHalt, nil
	default:
		return PolicySkip, fmt.Errorf("unknown record policy %q", s)
	}
}
