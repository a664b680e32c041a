package ami

import (
	"context"
	"fmt"
	"sort"
)

// OriginateRequest describes one outbound call placement.
type OriginateRequest struct {
	Channel   string
	Context   string
	Extension string
	Priority  int
	CallerID  string

	// Variables become one "Variable: KEY=value" header each, so every
	// variable reaches the switch.
	Variables map[string]string
}

// headers renders the request in the order Asterisk documents. Variables
// are emitted in sorted key order for deterministic wire output.
func (r OriginateRequest) headers() []Header {
	priority := r.Priority
	if priority == 0 {
		priority = 1
	}
	hs := []Header{
		{"Channel", r.Channel},
		{"Context", r.Context},
		{"Exten", r.Extension},
		{"Priority", fmt.Sprint(priority)},
	}
	if r.CallerID != "" {
		hs = append(hs, Header{"CallerID", r.CallerID})
	}

	keys := make([]string, 0, len(r.Variables))
	for k := range r.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		hs = append(hs, Header{"Variable", k + "=" + r.Variables[k]})
	}
	return hs
}

// Originate submits an Originate action and returns the correlated response.
func (s *Session) Originate(ctx context.Context, req OriginateRequest) (Message, error) {
	return s.SendAction(ctx, "Originate", req.headers())
}

// Hangup asks the switch to hang up a channel.
func (s *Session) Hangup(ctx context.Context, channel string) (Message, error) {
	return s.SendAction(ctx, "Hangup", []Header{{"Channel", channel}})
}

// Status queries the state of a channel.
func (s *Session) Status(ctx context.Context, channel string) (Message, error) {
	return s.SendAction(ctx, "Status", []Header{{"Channel", channel}})
}
