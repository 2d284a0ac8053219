package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Frame type codes. Each wire frame is one line: <typeCode>:<json-payload>\n.
const (
	TypeText   = "0" // payload: JSON string with a text delta
	TypeData   = "2" // payload: JSON array of data objects
	TypeError  = "3" // payload: JSON string with an error message
	TypeFinish = "d" // payload: JSON object with the finish reason
)

// DataEvent is one element of a TypeData frame payload. The client treats
// these as pass-through events for the rendering layer; append-message is
// the only kind the server currently emits.
type DataEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

const AppendMessageEvent = "append-message"

func TextFrame(delta string) []byte {
	return encodeFrame(TypeText, delta)
}

func ErrorFrame(msg string) []byte {
	return encodeFrame(TypeError, msg)
}

func FinishFrame(reason string) []byte {
	return encodeFrame(TypeFinish, map[string]string{"finishReason": reason})
}

func DataFrame(events ...DataEvent) []byte {
	return encodeFrame(TypeData, events)
}

func encodeFrame(typeCode string, payload any) []byte {
	body, err := json.Marshal(payload)
	if err != nil {
		// All payload types above are marshalable; this is unreachable
		// short of a programming error.
		panic(fmt.Sprintf("unmarshalable frame payload: %v", err))
	}
	frame := make([]byte, 0, len(typeCode)+len(body)+2)
	frame = append(frame, typeCode...)
	frame = append(frame, ':')
	frame = append(frame, body...)
	frame = append(frame, '\n')
	return frame
}

// Frame is one parsed wire frame.
type Frame struct {
	Type    string
	Payload json.RawMessage
}

// ParseFrame parses a single complete line (without the trailing newline).
func ParseFrame(line []byte) (Frame, error) {
	sep := bytes.IndexByte(line, ':')
	if sep < 1 {
		return Frame{}, fmt.Errorf("malformed frame %q: missing type code", line)
	}
	return Frame{Type: string(line[:sep]), Payload: json.RawMessage(line[sep+1:])}, nil
}

// TextDelta decodes the payload of a TypeText frame.
func (f Frame) TextDelta() (string, error) {
	if f.Type != TypeText {
		return "", fmt.Errorf("frame type %q is not a text delta", f.Type)
	}
	var delta string
	if err := json.Unmarshal(f.Payload, &delta); err != nil {
		return "", fmt.Errorf("invalid text delta payload: %w", err)
	}
	return delta, nil
}

// DataEvents decodes the payload of a TypeData frame.
func (f Frame) DataEvents() ([]DataEvent, error) {
	if f.Type != TypeData {
		return nil, fmt.Errorf("frame type %q is not a data frame", f.Type)
	}
	var events []DataEvent
	if err := json.Unmarshal(f.Payload, &events); err != nil {
		return nil, fmt.Errorf("invalid data frame payload: %w", err)
	}
	return events, nil
}

// LineBuffer assembles complete lines from arbitrarily fragmented reads. A
// line is only surfaced once its trailing newline has arrived; incomplete
// tails are buffered across calls.
type LineBuffer struct {
	buf []byte
}

// Feed appends p to the buffer and returns all newly completed lines,
// without their trailing newlines.
func (b *LineBuffer) Feed(p []byte) [][]byte {
	b.buf = append(b.buf, p...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			return lines
		}
		line := make([]byte, i)
		copy(line, b.buf[:i])
		lines = append(lines, line)
		b.buf = b.buf[i+1:]
	}
}

// Pending reports whether an incomplete line is buffered.
func (b *LineBuffer) Pending() bool {
	return len(b.buf) > 0
}
