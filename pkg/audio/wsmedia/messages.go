package wsmedia

// Control messages are JSON text frames with a "type" discriminator. Audio
// travels as binary frames: microphone PCM from the browser, and the body of a
// "play" message from the server.
const (
	// Browser to server.
	msgHello            = "hello"
	msgRecognition      = "recognition"
	msgRecognitionError = "recognition_error"
	msgPlaybackEnded    = "playback_ended"
	msgPlaybackError    = "playback_error"

	// Server to browser.
	msgPlay             = "play"
	msgStopPlayback     = "stop_playback"
	msgRecognitionStart = "recognition_start"
	msgRecognitionStop  = "recognition_stop"
	msgReleaseTracks    = "release_tracks"
	msgEvent            = "event"
)

// envelope is decoded first to find the message type.
type envelope struct {
	Type string `json:"type"`
}

// Hello is the first message a browser sends. It describes the tracks the
// candidate granted and the PCM format of the binary frames that follow.
type Hello struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Audio      bool   `json:"audio"`
	Video      bool   `json:"video"`
	// Speech reports that the browser can run speech recognition itself and
	// relay its results.
	Speech bool `json:"speech"`
}

type recognitionMsg struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
}

type recognitionErrorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type playbackMsg struct {
	Type       string `json:"type"`
	ID         string `json:"id"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Bytes      int    `json:"bytes,omitempty"`
	Error      string `json:"error,omitempty"`
}

type recognitionControlMsg struct {
	Type     string   `json:"type"`
	Language string   `json:"language,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

type eventMsg struct {
	Type  string `json:"type"`
	Event any    `json:"event"`
}
