//go:build giouring
// +build giouring

package uring

import (
	"github.com/pawelgaczynski/giouring"
	"github.com/ringway/go-uring/internal/constants"
	"github.com/ringway/go-uring/internal/logging"
	"github.com/ringway/go-uring/internal/uapi"
)

// giouringRing is an alternate Driver backed by the giouring port of
// liburing rather than our raw syscall layer. Built with -tags giouring;
// useful for differential testing against an independent SQ/CQ
// implementation.
type giouringRing struct {
	ring    *giouring.Ring
	entries uint32
	nextID  uint64
	log     *logging.Logger
}

// OpenGiouring opens a ring through the giouring library. The returned
// Driver honors the same single-goroutine contract as Ring.
func OpenGiouring(cfg Config) (Driver, error) {
	c := cfg
	if c.Entries == 0 {
		c.Entries = constants.DefaultEntries
	}
	ring, err := giouring.CreateRing(c.Entries)
	if err != nil {
		return nil, &Error{Op: "SETUP", Code: ErrCodeSetupFailed, Msg: err.Error(), Inner: err}
	}
	return &giouringRing{
		ring:    ring,
		entries: c.Entries,
		nextID:  constants.CorrelationBase,
		log:     logging.Default(),
	}, nil
}

func (g *giouringRing) Submit(d *Descriptor) (uint64, error) {
	if g.ring == nil {
		return 0, NewError("SUBMIT", ErrCodeRingClosed, "ring is closed")
	}
	if err := d.validate(); err != nil {
		return 0, err
	}
	sqe := g.ring.GetSQE()
	if sqe == nil {
		return 0, ErrQueueFull
	}

	id := g.nextID
	g.nextID++

	// Serialize through the shared encoder, then transcribe into the
	// library's entry layout.
	var raw uapi.SQEntry
	d.encode(&raw, id)
	sqe.OpcodeFlags = raw.OpFlags
	sqe.OpCode = raw.Opcode
	sqe.Flags = raw.Flags
	sqe.IoPrio = raw.IoPrio
	sqe.Fd = raw.Fd
	sqe.Off = raw.Off
	sqe.Addr = raw.Addr
	sqe.Len = raw.Len
	sqe.UserData = raw.UserData
	sqe.BufIG = raw.BufIndex
	sqe.Personality = raw.Personality
	sqe.SpliceFdIn = raw.SpliceFdIn
	return id, nil
}

func (g *giouringRing) Enter(toSubmit, minComplete uint32, flags uint32) (uint32, error) {
	if g.ring == nil {
		return 0, NewError("ENTER", ErrCodeRingClosed, "ring is closed")
	}
	var n uint
	var err error
	if minComplete > 0 {
		n, err = g.ring.SubmitAndWait(minComplete)
	} else {
		n, err = g.ring.Submit()
	}
	if err != nil {
		return 0, WrapError("ENTER", err)
	}
	return uint32(n), nil
}

func (g *giouringRing) PollCompletion() (Completion, bool) {
	if g.ring == nil {
		return Completion{}, false
	}
	cqe, err := g.ring.PeekCQE()
	if err != nil || cqe == nil {
		return Completion{}, false
	}
	c := Completion{UserData: cqe.UserData, Res: cqe.Res, Flags: cqe.Flags}
	g.ring.CQESeen(cqe)
	return c, true
}

func (g *giouringRing) SQCapacity() uint32 { return g.entries }

func (g *giouringRing) SQFree() uint32 {
	if g.ring == nil {
		return 0
	}
	return uint32(g.ring.SQSpaceLeft())
}

func (g *giouringRing) Close() error {
	if g.ring == nil {
		return nil
	}
	g.ring.QueueExit()
	g.ring = nil
	return nil
}

