package aisession

import "encoding/base64"

// The realtime wire protocol carries binary audio as standard base64 inside
// JSON events. These are the only transforms applied to audio payloads on
// the AI leg; the bytes themselves are opaque to the relay.

func encodeAudioPayload(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func decodeAudioPayload(payload string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(payload)
}
