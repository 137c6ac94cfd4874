// Package channel implements the ChannelUri value type (component H,
// OptionsAndUri): parsing and building
// "aeron:udp?endpoint=H:P|control=H:P|control-mode=dynamic|session-id=N"
// style addresses, plus immutable mutators like WithSessionID.
package channel

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const scheme = "aeron"

// URI is an immutable structured representation of a channel address.
// Mutators (WithSessionID, WithControlEndpoint, ...) return a new value;
// the zero value is never valid on its own, use Parse or Build.
type URI struct {
	media  string // "udp"
	params map[string]string
}

// Build constructs a URI for the given media (only "udp" is meaningful to
// the shipped drivers, but the type does not enforce that).
func Build(media string, params map[string]string) URI {
	cp := make(map[string]string, len(params))
	for k, v := range params {
		cp[k] = v
	}
	return URI{media: media, params: cp}
}

// Parse decodes "aeron:<media>?k=v|k=v|...".
func Parse(s string) (URI, error) {
	rest, ok := strings.CutPrefix(s, scheme+":")
	if !ok {
		return URI{}, fmt.Errorf("channel: missing %q scheme in %q", scheme, s)
	}

	media, query, ok := strings.Cut(rest, "?")
	if !ok {
		media = rest
	}
	if media == "" {
		return URI{}, fmt.Errorf("channel: missing media in %q", s)
	}

	params := make(map[string]string)
	if query != "" {
		for _, kv := range strings.Split(query, "|") {
			if kv == "" {
				continue
			}
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return URI{}, fmt.Errorf("channel: malformed parameter %q in %q", kv, s)
			}
			params[k] = v
		}
	}
	return URI{media: media, params: params}, nil
}

// MustParse panics on malformed input; intended for package-level constants
// and tests, never for input coming from a remote peer.
func MustParse(s string) URI {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

func (u URI) Media() string { return u.media }

func (u URI) Param(key string) (string, bool) {
	v, ok := u.params[key]
	return v, ok
}

func (u URI) Endpoint() string { v, _ := u.Param("endpoint"); return v }
func (u URI) Control() string  { v, _ := u.Param("control"); return v }

func (u URI) ControlMode() string { v, _ := u.Param("control-mode"); return v }

// IsMDC reports whether this channel advertises control-mode=dynamic, the
// multi-destination-cast mode the server uses for reverse publications.
func (u URI) IsMDC() bool { return u.ControlMode() == "dynamic" }

// SessionID returns the session-id parameter, if set.
func (u URI) SessionID() (int32, bool) {
	v, ok := u.Param("session-id")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(n), true
}

// with returns a copy of u with key set to value, leaving u untouched.
func (u URI) with(key, value string) URI {
	cp := make(map[string]string, len(u.params)+1)
	for k, v := range u.params {
		cp[k] = v
	}
	cp[key] = value
	return URI{media: u.media, params: cp}
}

// WithSessionID returns a new URI qualified by the given session id, the
// rendezvous step ClientConnector and ServerHandler both perform (§4.F,
// §4.G) to bind a reverse/inbound channel to one logical connection.
func (u URI) WithSessionID(sessionID int32) URI {
	return u.with("session-id", strconv.FormatInt(int64(sessionID), 10))
}

// WithControlEndpoint returns a new MDC URI directed at the given
// control-endpoint host:port, with control-mode=dynamic implied.
func (u URI) WithControlEndpoint(hostPort string) URI {
	return u.with("control", hostPort).with("control-mode", "dynamic")
}

// String renders the normalized form used for equality and caching keys:
// keys sorted lexicographically so two URIs built with params in a
// different order compare equal.
func (u URI) String() string {
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteByte(':')
	b.WriteString(u.media)

	if len(u.params) == 0 {
		return b.String()
	}

	keys := make([]string, 0, len(u.params))
	for k := range u.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(u.params[k])
	}
	return b.String()
}

// Equal compares two URIs by their normalized string form, per spec §4.H
// ("Equality is by normalized string").
func (u URI) Equal(other URI) bool { return u.String() == other.String() }
