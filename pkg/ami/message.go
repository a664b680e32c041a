// Package ami implements the Asterisk Manager Interface client: a single
// long-lived TCP session multiplexing action/response correlation and
// asynchronous event delivery over one socket.
package ami

import "strings"

// Wire framing: "Key: Value" lines terminated by CRLF, messages terminated
// by a blank line (CRLF CRLF).
const (
	crlf       = "\r\n"
	terminator = "\r\n\r\n"
)

// Well-known message keys.
const (
	keyAction   = "Action"
	keyActionID = "ActionID"
	keyEvent    = "Event"
	keyResponse = "Response"
)

// EventSessionClosed is the synthetic event delivered to all subscribers
// when the session transitions to disconnected. It never originates from
// the switch.
const EventSessionClosed = "session_closed"

// Message is one parsed AMI message: a key→value bag. Duplicate keys keep
// the last value (the switch does not duplicate keys on events the engine
// consumes).
type Message map[string]string

// Get returns the value for key, or "".
func (m Message) Get(key string) string {
	return m[key]
}

// Event returns the event name, or "" for non-event messages.
func (m Message) Event() string {
	return m[keyEvent]
}

// ActionID returns the correlation id, or "".
func (m Message) ActionID() string {
	return m[keyActionID]
}

// Success reports whether this is a "Response: Success" message.
func (m Message) Success() bool {
	return m[keyResponse] == "Success"
}

// Header is one serialized "Key: Value" line. Actions are built from header
// slices rather than maps so repeated keys (Originate's Variable lines)
// survive serialization.
type Header struct {
	Key   string
	Value string
}

// parseMessage parses one complete message body (without the trailing blank
// line) into a Message. Lines without a colon are ignored.
func parseMessage(text string) Message {
	msg := make(Message)
	for _, line := range strings.Split(text, crlf) {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		msg[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return msg
}

// serializeAction renders an action message. The ActionID header is placed
// right after Action so responses are greppable in packet captures.
func serializeAction(name, actionID string, headers []Header) []byte {
	var b strings.Builder
	b.WriteString(keyAction + ": " + name + crlf)
	b.WriteString(keyActionID + ": " + actionID + crlf)
	for _, h := range headers {
		b.WriteString(h.Key + ": " + h.Value + crlf)
	}
	b.WriteString(crlf)
	return []byte(b.String())
}
