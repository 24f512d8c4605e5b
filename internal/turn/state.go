package turn

// State is a stage of the turn cycle.
type State int

const (
	// StateAwaitingCapture waits for the trigger that starts the next
	// recording.
	StateAwaitingCapture State = iota
	StateRecording
	StateTranscribing
	StateConversing
	StateSynthesizing
	// StatePlaying holds until the player reports the end of the reply.
	StatePlaying
	// StateFaulted is absorbing. The session has to be restarted.
	StateFaulted
	// StateSessionEnd follows an explicit end of the call.
	StateSessionEnd
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateAwaitingCapture:
		return "awaiting_capture"
	case StateRecording:
		return "recording"
	case StateTranscribing:
		return "transcribing"
	case StateConversing:
		return "conversing"
	case StateSynthesizing:
		return "synthesizing"
	case StatePlaying:
		return "playing"
	case StateFaulted:
		return "faulted"
	case StateSessionEnd:
		return "session_end"
	default:
		return "unknown"
	}
}

// Terminal reports whether the controller stops after entering s.
func (s State) Terminal() bool { return s == StateFaulted || s == StateSessionEnd }

// Event is an input to the [Controller].
type Event int

const (
	// EventStart begins the first recording.
	EventStart Event = iota
	// EventStopEarly ends the current recording before its deadline.
	EventStopEarly
	// EventTimerExpired ends the current recording at its deadline.
	EventTimerExpired
	// EventPlaybackEnded reports that the reply finished playing.
	EventPlaybackEnded
	// EventEnd terminates the session.
	EventEnd
	// EventDeviceLost reports that the microphone was revoked or
	// disconnected. The session faults.
	EventDeviceLost
)

// String returns the name of the event.
func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventStopEarly:
		return "stop_early"
	case EventTimerExpired:
		return "timer_expired"
	case EventPlaybackEnded:
		return "playback_ended"
	case EventEnd:
		return "end"
	case EventDeviceLost:
		return "device_lost"
	default:
		return "unknown"
	}
}
