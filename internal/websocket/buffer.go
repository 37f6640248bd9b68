package websocket

import "github.com/soketai/callbridge/domain/entities"

// DefaultMaxBufferedFrames bounds the pending buffer when the config does
// not say otherwise. At the typical 20ms frame cadence this is about ten
// seconds of audio, comfortably covering the backend connect window.
const DefaultMaxBufferedFrames = 512

// PendingAudioBuffer holds inbound audio collected before the AI session
// leg is ready to accept it. Frames are drained in arrival order exactly
// once; afterwards the buffer stays permanently empty.
//
// The buffer is owned by exactly one session and only touched from its
// event loop, so it carries no locking of its own.
type PendingAudioBuffer struct {
	frames  []entities.AudioFrame
	max     int
	dropped int
	drained bool
}

// NewPendingAudioBuffer creates a buffer capped at max frames. A
// non-positive max falls back to DefaultMaxBufferedFrames.
func NewPendingAudioBuffer(max int) *PendingAudioBuffer {
	if max <= 0 {
		max = DefaultMaxBufferedFrames
	}
	return &PendingAudioBuffer{max: max}
}

// Append queues one frame. When the cap is reached the oldest frame is
// dropped so the freshest audio survives a slow backend connect. Appends
// after Drain are ignored.
func (b *PendingAudioBuffer) Append(frame entities.AudioFrame) {
	if b.drained {
		return
	}
	if len(b.frames) >= b.max {
		b.frames = b.frames[1:]
		b.dropped++
	}
	b.frames = append(b.frames, frame)
}

// Drain returns all buffered frames in arrival order and empties the
// buffer. Subsequent calls return nil.
func (b *PendingAudioBuffer) Drain() []entities.AudioFrame {
	if b.drained {
		return nil
	}
	b.drained = true
	frames := b.frames
	b.frames = nil
	return frames
}

// Len reports the number of frames currently buffered.
func (b *PendingAudioBuffer) Len() int { return len(b.frames) }

// Dropped reports how many frames were discarded due to the cap.
func (b *PendingAudioBuffer) Dropped() int { return b.dropped }
