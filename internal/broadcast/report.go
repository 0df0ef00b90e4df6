package broadcast

// Status is the fate of one command for one viewer.
type Status int

const (
	// StatusQueued means the frame entered the viewer's send queue.
	StatusQueued Status = iota
	// StatusDropped means the viewer was removed instead.
	StatusDropped
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Outcome is the per-viewer result of a broadcast.
type Outcome struct {
	ViewerID string
	Status   Status
	Err      error
}

// Report collects the outcomes of one broadcast.
type Report struct {
	Type     string
	Outcomes []Outcome
}

// Queued counts viewers that accepted the frame.
func (r Report) Queued() int {
	return r.count(StatusQueued)
}

// Dropped counts viewers removed during the broadcast.
func (r Report) Dropped() int {
	return r.count(StatusDropped)
}

func (r Report) count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}
