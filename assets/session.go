package assets

// Session is the state of the batch in flight.
type Session struct {
	Active bool
	// Progress runs from 0 to 100 and never decreases while Active.
	Progress float64
	// Current is the name of the file being processed.
	Current string
	// Errors accumulates the messages of failed files. They stay readable
	// after the batch finished, until the next batch begins.
	Errors []string
}

// ProgressFunc is called with a snapshot of the session on every change.
type ProgressFunc func(Session)

const (
	compressionShare = 30.0
	uploadShare      = 70.0
)

func (s *Session) advance(progress float64) {
	if progress > 100 {
		progress = 100
	}
	if progress > s.Progress {
		s.Progress = progress
	}
}

func (s Session) snapshot() Session {
	s.Errors = append([]string(nil), s.Errors...)
	return s
}
