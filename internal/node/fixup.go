package node

import (
	"imgdht/internal/identifier"
	"imgdht/internal/logger"
	"imgdht/internal/wire"
)

// fingerAt returns the descriptor at finger slot j, treating j == F as
// the sentinel for the predecessor slot (spec.md §3, "treat as
// fingers[F]").
func (e *Engine) fingerAt(j int) wire.Descriptor {
	if j == F {
		return e.pred
	}
	return e.fingers[j]
}

// fixup tightens later, weaker finger entries using the descriptor just
// learned at slot j: while fID[k] still falls within (self.ID,
// fingers[j].ID], fingers[j] is a better answer for slot k than whatever
// was there before (spec.md §4.3.9).
func (e *Engine) fixup(j int) {
	for k := j + 1; k < F; k++ {
		if !identifier.InRange(e.fID[k], e.self.ID, e.fingers[j].ID) {
			break
		}
		e.fingers[k] = e.fingers[j]
	}
}

// fixdn propagates a newly learned descriptor at slot j backward into
// earlier slots whose responsibility window it now falls into. j == F
// means the predecessor just changed, which also triggers an index
// reload for the new arc (spec.md §4.3.9).
func (e *Engine) fixdn(j int) {
	target := e.fingerAt(j)
	for k := j - 1; k >= 0; k-- {
		if identifier.InRange(target.ID, e.fID[k], e.fingers[k].ID) {
			e.fingers[k] = target
		}
	}
	if j == F {
		if err := e.index.Reload(e.pred.ID, e.self.ID); err != nil {
			e.lgr.Error("reload after predecessor change failed", logger.F("err", err.Error()))
		}
	}
}
