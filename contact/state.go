package contact

// Phase is the engine state machine position, persisted for display and
// resume decisions.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseLocating  Phase = "locating"
	PhaseScanning  Phase = "scanning"
	PhasePaused    Phase = "paused"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Active reports whether a loop is (or is about to be) running.
func (p Phase) Active() bool {
	return p == PhaseLocating || p == PhaseScanning
}

// StatusReady is the scan status of a fresh or cleared state.
const StatusReady = "Ready"

// State is the persisted extraction document.
type State struct {
	ScrapedData        []Record `json:"scrapedData"`
	IsScanning         bool     `json:"isScanning"`
	ScanStatus         string   `json:"scanStatus"`
	LastScrollPosition float64  `json:"lastScrollPosition"`
	ScanCycles         int      `json:"scanCycles"`
	TotalContacts      int      `json:"totalContacts"`
	ExtractionCount    int      `json:"extractionCount"`
	Phase              Phase    `json:"phase"`
	RunID              string   `json:"runId,omitempty"`
}

// DefaultState is the state on first install.
func DefaultState() State {
	return State{
		ScrapedData: []Record{},
		ScanStatus:  StatusReady,
		Phase:       PhaseIdle,
	}
}

// Cleared resets s the way an explicit clear does: data, progress and
// status go back to defaults, the completed-extraction counter survives.
func (s State) Cleared() State {
	c := DefaultState()
	c.ExtractionCount = s.ExtractionCount
	return c
}

// Normalize fills derived fields.
func (s *State) Normalize() {
	if s.ScrapedData == nil {
		s.ScrapedData = []Record{}
	}
	s.TotalContacts = len(s.ScrapedData)
	if s.ScanStatus == "" {
		s.ScanStatus = StatusReady
	}
	if s.Phase == "" {
		s.Phase = PhaseIdle
	}
}
