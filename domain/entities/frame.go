package entities

// Audio formats agreed with the telephony provider. Inbound media frames
// arrive as 16-bit linear PCM at 8 kHz; playback frames are wrapped as wav
// at the same rate.
const (
	TelephonyContentType = "audio/x-l16"
	TelephonySampleRate  = 8000

	PlaybackContentType = "wav"
	PlaybackSampleRate  = 8000
)

// AudioFrame is one discrete unit of audio payload exchanged over either leg.
// The relay never inspects the bytes; it only re-wraps them for the
// destination leg. Immutable once constructed.
type AudioFrame struct {
	Data        []byte
	ContentType string
	SampleRate  int
}

// NewTelephonyFrame wraps raw bytes decoded from a telephony media message.
func NewTelephonyFrame(data []byte) AudioFrame {
	return AudioFrame{
		Data:        data,
		ContentType: TelephonyContentType,
		SampleRate:  TelephonySampleRate,
	}
}

// NewPlaybackFrame wraps synthesized speech produced by the AI backend.
func NewPlaybackFrame(data []byte) AudioFrame {
	return AudioFrame{
		Data:        data,
		ContentType: PlaybackContentType,
		SampleRate:  PlaybackSampleRate,
	}
}

// TurnDetection selects the backend-side voice activity detection mode.
type TurnDetection string

const (
	TurnDetectionServerVAD TurnDetection = "server_vad"
	TurnDetectionNone      TurnDetection = "none"
)

// ConversationConfig is the static session configuration supplied once at
// session start; it is not mutated during the call.
type ConversationConfig struct {
	Instructions  string
	TurnDetection TurnDetection
}

// CallState represents the lifecycle state of a relay session.
type CallState string

const (
	StateInitializing CallState = "initializing"
	StateConnecting   CallState = "connecting"
	StateActive       CallState = "active"
	StateClosing      CallState = "closing"
	StateClosed       CallState = "closed"
)
