package pipeline

import (
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/gatekeeper/internal/clock"
)

// Chain runs its before-stages in order, stopping at the first that halts,
// then the handler if nothing halted. After-stages always run, including
// when the handler panics.
type Chain struct {
	before     []Stage
	after      []Stage
	writeError ErrorWriter
	clock      clock.Clock
}

func NewChain(clk clock.Clock, writeError ErrorWriter, before []Stage, after ...Stage) *Chain {
	if writeError == nil {
		writeError = WriteAPIError
	}
	return &Chain{
		before:     before,
		after:      after,
		writeError: writeError,
		clock:      clk,
	}
}

// Stages lists stage names in execution order, the handler shown as "handler".
func (ch *Chain) Stages() []string {
	names := make([]string, 0, len(ch.before)+len(ch.after)+1)
	for _, s := range ch.before {
		names = append(names, s.Name())
	}
	names = append(names, "handler")
	for _, s := range ch.after {
		names = append(names, s.Name())
	}
	return names
}

// Handle wraps a gin handler. action names the operation in audit records.
func (ch *Chain) Handle(action string, h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := &State{
			Context:    c,
			Action:     action,
			StartedAt:  ch.clock.Now(),
			writeError: ch.writeError,
		}
		c.Set(stateKey, st)

		defer func() {
			if r := recover(); r != nil {
				st.Panicked = true
				ch.runAfter(st)
				panic(r)
			}
			ch.runAfter(st)
		}()

		for _, stage := range ch.before {
			if stage.Handle(st) == Halt {
				return
			}
		}
		h(c)
	}
}

func (ch *Chain) runAfter(st *State) {
	for _, stage := range ch.after {
		stage.Handle(st)
	}
}
