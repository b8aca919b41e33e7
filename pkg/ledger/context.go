package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperlend/pkg/events"
)

// Context carries the block environment of one instruction and collects the
// events it emits. Engines never read wall-clock time; Time is the block
// timestamp in seconds.
type Context struct {
	State  *State
	Height int64
	Time   int64
	Sender common.Address // relayer that submitted the instruction

	events []events.Event
}

func NewContext(st *State, height, time int64, sender common.Address) *Context {
	return &Context{State: st, Height: height, Time: time, Sender: sender}
}

func (c *Context) Emit(e events.Event) { c.events = append(c.events, e) }

func (c *Context) Events() []events.Event { return c.events }

// ResetEvents drops everything emitted so far.
func (c *Context) ResetEvents() { c.events = nil }
