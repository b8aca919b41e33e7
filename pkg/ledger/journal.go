package ledger

// journal is an undo log of state mutations.
type journal struct {
	undo []func()
}

func (j *journal) append(fn func()) { j.undo = append(j.undo, fn) }

func (j *journal) length() int { return len(j.undo) }

// revertTo undoes every entry recorded after snapshot id.
func (j *journal) revertTo(id int) {
	for i := len(j.undo) - 1; i >= id; i-- {
		j.undo[i]()
	}
	j.undo = j.undo[:id]
}

func (j *journal) reset() { j.undo = j.undo[:0] }

// Snapshot returns an identifier for the current state revision.
func (s *State) Snapshot() int { return s.journal.length() }

// RevertToSnapshot discards every mutation made since Snapshot returned id.
func (s *State) RevertToSnapshot(id int) { s.journal.revertTo(id) }

// Finalize drops the undo log. Earlier snapshots become invalid.
func (s *State) Finalize() { s.journal.reset() }
