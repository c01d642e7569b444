// Package telephony parses and builds the JSON control envelopes exchanged with
// the call's media-stream socket.
package telephony

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformed is returned for frames that are not a JSON object with an event name.
var ErrMalformed = errors.New("telephony: malformed frame")

type Kind int

const (
	KindUnknown Kind = iota
	KindConnected
	KindStart
	KindMedia
	KindMark
	KindClose
)

func (k Kind) String() string {
	switch k {
	case KindConnected:
		return "connected"
	case KindStart:
		return "start"
	case KindMedia:
		return "media"
	case KindMark:
		return "mark"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}

// Frame is one decoded inbound envelope. Only the fields relevant to Kind are set.
type Frame struct {
	Kind  Kind
	Event string

	StreamID string
	CallID   string
	Encoding string
	Rate     int

	Timestamp int64
	Payload   string

	MarkName string
}

type inbound struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid"`
	Start     *startPayload `json:"start"`
	Media     *mediaPayload `json:"media"`
	Mark      *markPayload  `json:"mark"`
}

type startPayload struct {
	StreamID    string `json:"streamId"`
	StreamSid   string `json:"streamSid"`
	CallID      string `json:"callId"`
	CallSid     string `json:"callSid"`
	MediaFormat *struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
	} `json:"mediaFormat"`
}

type mediaPayload struct {
	Timestamp millis `json:"timestamp"`
	Payload   string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name"`
}

// millis accepts both a JSON number and a decimal string.
type millis int64

func (m *millis) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = 0
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		var err error
		if s, err = strconv.Unquote(s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*m = 0
			return nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*m = millis(n)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", s, err)
	}
	if math.IsNaN(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return fmt.Errorf("timestamp %q out of range", s)
	}
	*m = millis(int64(f))
	return nil
}

// Parse decodes one inbound text frame. Unknown event names decode to KindUnknown.
func Parse(data []byte) (Frame, error) {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if in.Event == "" {
		return Frame{}, ErrMalformed
	}
	f := Frame{Event: in.Event}
	switch in.Event {
	case "connected":
		f.Kind = KindConnected
	case "start":
		if in.Start == nil {
			return Frame{}, fmt.Errorf("%w: start without payload", ErrMalformed)
		}
		f.Kind = KindStart
		f.StreamID = firstNonEmpty(in.Start.StreamID, in.Start.StreamSid, in.StreamSid)
		f.CallID = firstNonEmpty(in.Start.CallID, in.Start.CallSid)
		if in.Start.MediaFormat != nil {
			f.Encoding = in.Start.MediaFormat.Encoding
			f.Rate = in.Start.MediaFormat.SampleRate
		}
		if f.StreamID == "" {
			return Frame{}, fmt.Errorf("%w: start without stream id", ErrMalformed)
		}
	case "media":
		if in.Media == nil {
			return Frame{}, fmt.Errorf("%w: media without payload", ErrMalformed)
		}
		f.Kind = KindMedia
		f.Timestamp = int64(in.Media.Timestamp)
		f.Payload = in.Media.Payload
	case "mark":
		f.Kind = KindMark
		if in.Mark != nil {
			f.MarkName = in.Mark.Name
		}
	case "close", "stop":
		f.Kind = KindClose
	default:
		f.Kind = KindUnknown
	}
	return f, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Outbound is an envelope sent to the telephony leg. StreamSid repeats
// StreamID for Twilio, which ignores frames without it.
type Outbound struct {
	Event     string    `json:"event"`
	StreamID  string    `json:"streamId"`
	StreamSid string    `json:"streamSid"`
	Media     *OutMedia `json:"media,omitempty"`
	Mark      *OutMark  `json:"mark,omitempty"`
}

type OutMedia struct {
	Payload string `json:"payload"`
}

type OutMark struct {
	Name string `json:"name"`
}

func Media(streamID, payload string) Outbound {
	return Outbound{Event: "media", StreamID: streamID, StreamSid: streamID, Media: &OutMedia{Payload: payload}}
}

func Mark(streamID, name string) Outbound {
	return Outbound{Event: "mark", StreamID: streamID, StreamSid: streamID, Mark: &OutMark{Name: name}}
}

// Clear asks the telephony leg to discard buffered, unplayed audio.
func Clear(streamID string) Outbound {
	return Outbound{Event: "clear", StreamID: streamID, StreamSid: streamID}
}
