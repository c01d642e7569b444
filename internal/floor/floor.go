package floor

// Decision represents the action the floor manager wants taken on barge-in.
type Decision struct {
    ShouldStop bool
    StopItemID string // empty when the backend never named the speech unit
    ElapsedMs  int64
    Reason     string // e.g., "barge_in"
}

// Manager tracks the assistant's in-flight utterance against the telephony
// media clock. It is not safe for concurrent use; the bridge loop owns it.
type Manager struct {
    speaking        bool
    activeItemID    string
    latestMediaMs   int64
    responseStartMs int64
}

func New() *Manager { return &Manager{} }

// ObserveMedia advances the media clock. Regressing timestamps are ignored.
func (m *Manager) ObserveMedia(tsMs int64) {
    if tsMs > m.latestMediaMs {
        m.latestMediaMs = tsMs
    }
}

func (m *Manager) LatestMediaMs() int64 { return m.latestMediaMs }

// OnAudio is called for every relayed assistant chunk. It reports whether the
// chunk started a new utterance.
func (m *Manager) OnAudio(itemID string) (started bool) {
    if !m.speaking {
        m.speaking = true
        m.responseStartMs = m.latestMediaMs
        m.activeItemID = itemID
        return true
    }
    if itemID != "" {
        m.activeItemID = itemID
    }
    return false
}

// OnSpeechStarted handles the caller talking over the assistant.
func (m *Manager) OnSpeechStarted() Decision {
    if !m.speaking {
        return Decision{}
    }
    d := Decision{
        ShouldStop: true,
        StopItemID: m.activeItemID,
        ElapsedMs:  ElapsedMs(m.latestMediaMs, m.responseStartMs),
        Reason:     "barge_in",
    }
    m.clearUtterance()
    return d
}

// OnPlaybackDone ends the utterance without a stop decision.
func (m *Manager) OnPlaybackDone() {
    m.clearUtterance()
}

// Reset clears everything including the media clock, for a new call.
func (m *Manager) Reset() {
    m.clearUtterance()
    m.latestMediaMs = 0
}

func (m *Manager) Speaking() bool { return m.speaking }

func (m *Manager) ActiveItemID() string { return m.activeItemID }

func (m *Manager) ResponseStartMs() (int64, bool) {
    return m.responseStartMs, m.speaking
}

func (m *Manager) clearUtterance() {
    m.speaking = false
    m.activeItemID = ""
    m.responseStartMs = 0
}

// ElapsedMs is how much of an utterance was heard, never negative.
func ElapsedMs(latestMs, startMs int64) int64 {
    if d := latestMs - startMs; d > 0 {
        return d
    }
    return 0
}
