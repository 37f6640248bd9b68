package api

import "encoding/xml"

// AnswerResponse is the call-setup directive returned to the telephony
// provider. It tells the provider to open a bidirectional media stream to
// the relay's websocket endpoint.
type AnswerResponse struct {
	XMLName xml.Name        `xml:"Response"`
	Stream  StreamDirective `xml:"Stream"`
}

// StreamDirective configures the provider's media stream leg.
type StreamDirective struct {
	AudioTrack    string `xml:"audioTrack,attr"`
	Bidirectional bool   `xml:"bidirectional,attr"`
	ContentType   string `xml:"contentType,attr"`
	KeepCallAlive bool   `xml:"keepCallAlive,attr"`
	StreamTimeout int    `xml:"streamTimeout,attr"`
	URL           string `xml:",chardata"`
}

// ErrorResponse is the JSON error shape for API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
