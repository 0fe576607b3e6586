// Package keys builds the composite record key used for partition affinity.
package keys

import (
	"strconv"
	"sync"
)

// DefaultModulus is the counter window used when none is configured.
const DefaultModulus = 9

// Key is the structured record key. It is a value type and is never mutated
// after being attached to a record.
type Key struct {
	Client   string `json:"client"`
	ClientID int64  `json:"clientID"`
}

// String renders the key for logs and errors.
func (k Key) String() string {
	return k.Client + "/" + strconv.FormatInt(k.ClientID, 10)
}

// Counter is a rotating offset shared by every key one producer session
// composes. It yields 0, 1, ..., modulus-1 and then starts over, no matter
// which customer asked for the value. Two different customers sent back to
// back therefore receive consecutive offsets.
type Counter struct {
	mu      sync.Mutex
	next    int64
	modulus int64
}

// NewCounter returns a counter starting at 0. A non-positive modulus selects
// DefaultModulus.
func NewCounter(modulus int) *Counter {
	if modulus <= 0 {
		modulus = DefaultModulus
	}
	return &Counter{modulus: int64(modulus)}
}

// Next returns the current value and advances the counter.
func (c *Counter) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.next
	c.next = (c.next + 1) % c.modulus
	return v
}

// Peek returns the value the next call to Next will yield.
func (c *Counter) Peek() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Modulus returns the counter window.
func (c *Counter) Modulus() int {
	return int(c.modulus)
}

// Compose builds a key for baseID, perturbed by the next counter value.
func Compose(clientTag string, baseID int64, counter *Counter) Key {
	return Key{Client: clientTag, ClientID: baseID + counter.Next()}
}

// Composer binds a client tag to a counter.
type Composer struct {
	clientTag string
	counter   *Counter
}

// NewComposer returns a composer for clientTag using counter. A nil counter
// gets a fresh one with DefaultModulus.
func NewComposer(clientTag string, counter *Counter) *Composer {
	if counter == nil {
		counter = NewCounter(DefaultModulus)
	}
	return &Composer{clientTag: clientTag, counter: counter}
}

// Compose returns the next key for baseID.
func (c *Composer) Compose(baseID int64) Key {
	return Compose(c.clientTag, baseID, c.counter)
}

// ClientTag returns the bound client tag.
func (c *Composer) ClientTag() string {
	return c.clientTag
}

// Counter returns the shared counter.
func (c *Composer) Counter() *Counter {
	return c.counter
}
