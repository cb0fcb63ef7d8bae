package conversation

import (
	"github.com/moely/inbox/internal/bus"
	"github.com/moely/inbox/internal/model"
	"github.com/moely/inbox/internal/status"
)

// Pane states.
const (
	Empty   status.State = "EMPTY"
	Loading status.State = "LOADING"
	Ready   status.State = "READY"
	Failed  status.State = "FAILED"
)

// PaneTransitions defines allowed pane transitions. LOADING -> LOADING happens
// when the user switches conversations before the first load finished.
var PaneTransitions = status.Table{
	Empty:   {Loading},
	Loading: {Loading, Ready, Failed, Empty},
	Ready:   {Loading, Empty},
	Failed:  {Loading, Empty},
}

func newPane(b *bus.Bus) *status.Machine {
	return status.NewMachine(Empty, PaneTransitions, bus.KindPaneState, b)
}

// TranscriptEvent is the payload of transcript.appended. Reset means Entries
// replace the whole transcript.
type TranscriptEvent struct {
	Contact model.ContactID
	Entries []model.Entry
	Reset   bool
}

// EntryEvent is the payload of transcript.updated.
type EntryEvent struct {
	Entry   model.Entry
	Removed bool
}
