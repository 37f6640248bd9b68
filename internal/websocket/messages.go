package websocket

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/soketai/callbridge/domain/entities"
)

// Telephony stream event names.
const (
	EventMedia      = "media"
	EventPlayAudio  = "playAudio"
	EventClearAudio = "clearAudio"
)

// ErrNotAudio marks a well-formed telephony message that carries no audio
// (checkpoint, DTMF, ...). Callers drop it silently.
var ErrNotAudio = errors.New("not a media event")

// DecodeError marks a malformed inbound message. Recovered locally by
// dropping the single message; never ends the session.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StreamMessage is the envelope for every message exchanged on the
// telephony stream socket.
type StreamMessage struct {
	Event string        `json:"event"`
	Media *MediaPayload `json:"media,omitempty"`
}

// MediaPayload carries transport-encoded audio. The provider expects
// sampleRate as a string on outbound playAudio messages.
type MediaPayload struct {
	ContentType string `json:"contentType,omitempty"`
	SampleRate  string `json:"sampleRate,omitempty"`
	Payload     string `json:"payload"`
}

// DecodeTelephonyMessage inspects one inbound wire message. Media events
// decode into an AudioFrame tagged with the telephony audio format;
// anything else returns ErrNotAudio. Malformed input returns a *DecodeError.
func DecodeTelephonyMessage(raw []byte) (entities.AudioFrame, error) {
	var msg StreamMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return entities.AudioFrame{}, &DecodeError{Reason: "stream message", Err: err}
	}
	if msg.Event != EventMedia {
		return entities.AudioFrame{}, ErrNotAudio
	}
	if msg.Media == nil {
		return entities.AudioFrame{}, &DecodeError{Reason: "media event without payload"}
	}
	data, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		return entities.AudioFrame{}, &DecodeError{Reason: "media payload", Err: err}
	}
	return entities.NewTelephonyFrame(data), nil
}

// EncodeTelephonyPlayAudio wraps an AI playback frame as a playAudio
// control message for the telephony leg.
func EncodeTelephonyPlayAudio(frame entities.AudioFrame) ([]byte, error) {
	msg := StreamMessage{
		Event: EventPlayAudio,
		Media: &MediaPayload{
			ContentType: frame.ContentType,
			SampleRate:  strconv.Itoa(frame.SampleRate),
			Payload:     base64.StdEncoding.EncodeToString(frame.Data),
		},
	}
	return json.Marshal(msg)
}

// EncodeTelephonyClearAudio produces the payload-less clearAudio message
// that preempts in-flight playback on the telephony side.
func EncodeTelephonyClearAudio() []byte {
	raw, _ := json.Marshal(StreamMessage{Event: EventClearAudio})
	return raw
}
