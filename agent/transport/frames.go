package transport

const (
	frameTranscript = "transcript"
	frameEnd        = "end"
	frameSpeak      = "speak"
	frameError      = "error"
)

// clientFrame is what the speech front end sends: recognized transcripts and
// an explicit end of call.
type clientFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"is_final,omitempty"`
}

type serverFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	VoiceID   string `json:"voice_id,omitempty"`
	Persona   string `json:"persona,omitempty"`
	Error     string `json:"error,omitempty"`
}
