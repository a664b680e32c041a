package ami

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMessage(t *testing.T) {
	body := "Event: DialEnd\r\nChannel: SIP/trunk/5551234\r\nDialStatus: ANSWER\r\nNote: a:b:c"
	msg := parseMessage(body)

	assert.Equal(t, "DialEnd", msg.Event())
	assert.Equal(t, "SIP/trunk/5551234", msg.Get("Channel"))
	assert.Equal(t, "ANSWER", msg.Get("DialStatus"))
	// Split on the first colon only.
	assert.Equal(t, "a:b:c", msg.Get("Note"))
}

func TestParseMessageTrimsSpaces(t *testing.T) {
	msg := parseMessage("Response:   Success  \r\nActionID:  7-abc ")
	assert.True(t, msg.Success())
	assert.Equal(t, "7-abc", msg.ActionID())
}

func TestSerializeAction(t *testing.T) {
	data := string(serializeAction("Login", "1-deadbeef", []Header{
		{"Username", "dialer"},
		{"Secret", "hunter2"},
	}))

	assert.True(t, strings.HasPrefix(data, "Action: Login\r\nActionID: 1-deadbeef\r\n"))
	assert.Contains(t, data, "Username: dialer\r\n")
	assert.Contains(t, data, "Secret: hunter2\r\n")
	assert.True(t, strings.HasSuffix(data, "\r\n\r\n"))
}

func TestOriginateHeadersRepeatVariables(t *testing.T) {
	req := OriginateRequest{
		Channel:   "SIP/trunk/5551234",
		Context:   "default",
		Extension: "5551234",
		CallerID:  "<5551234>",
		Variables: map[string]string{
			"CALL_ID":       "42",
			"AGENT_CHANNEL": "Agent/7",
			"PHONE_NUMBER":  "5551234",
		},
	}

	data := string(serializeAction("Originate", "1-x", req.headers()))

	// Every variable must survive as its own header line.
	assert.Equal(t, 3, strings.Count(data, "Variable: "))
	assert.Contains(t, data, "Variable: AGENT_CHANNEL=Agent/7\r\n")
	assert.Contains(t, data, "Variable: CALL_ID=42\r\n")
	assert.Contains(t, data, "Variable: PHONE_NUMBER=5551234\r\n")
	assert.Contains(t, data, "Priority: 1\r\n")
}

func TestParseRoundTrip(t *testing.T) {
	data := serializeAction("Status", "3-cafe", []Header{{"Channel", "SIP/trunk/100"}})
	msg := parseMessage(strings.TrimSuffix(string(data), terminator))

	assert.Equal(t, "Status", msg.Get("Action"))
	assert.Equal(t, "3-cafe", msg.ActionID())
	assert.Equal(t, "SIP/trunk/100", msg.Get("Channel"))
}
