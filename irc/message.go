package irc

import (
	"errors"
	"fmt"
	"strings"
)

// MaxParams is the maximum number of parameters a single message may
// carry (RFC 2812 section 2.3). Lines with more middle parameters are
// rejected as malformed rather than truncated.
const MaxParams = 15

// ErrTooManyParams is returned by ParseMessage when a line carries more
// than MaxParams parameters. The line is malformed but never
// connection-fatal; callers report it and move on.
var ErrTooManyParams = errors.New("irc: too many parameters")

// Message represents one IRC protocol message.
type Message struct {
	Prefix  string
	Command string
	Params  []string
}

// ParseMessage parses a single decoded line into a Message. The verb is
// upper-cased. A parameter beginning with ':' consumes the remainder of
// the line as a single trailing parameter. An empty (or all-whitespace)
// line parses to (nil, nil): a no-op, not an error. A line with more
// than MaxParams parameters returns the partially parsed message
// together with ErrTooManyParams so callers can still name the verb in
// their error reply.
func ParseMessage(line string) (*Message, error) {
	line = strings.Trim(line, " ")
	if line == "" {
		return nil, nil
	}

	msg := &Message{
		Params: make([]string, 0, 4),
	}

	// Optional prefix.
	if line[0] == ':' {
		parts := strings.SplitN(line[1:], " ", 2)
		if len(parts) < 2 {
			return nil, nil
		}
		msg.Prefix = parts[0]
		line = strings.TrimLeft(parts[1], " ")
		if line == "" {
			return nil, nil
		}
	}

	parts := strings.SplitN(line, " ", 2)
	msg.Command = strings.ToUpper(parts[0])

	if len(parts) > 1 {
		paramPart := strings.TrimLeft(parts[1], " ")
		for paramPart != "" {
			// Trailing parameter: keep embedded spaces.
			if paramPart[0] == ':' {
				msg.Params = append(msg.Params, paramPart[1:])
				break
			}

			if len(msg.Params) >= MaxParams {
				return msg, ErrTooManyParams
			}

			parts := strings.SplitN(paramPart, " ", 2)
			msg.Params = append(msg.Params, parts[0])
			if len(parts) > 1 {
				paramPart = strings.TrimLeft(parts[1], " ")
			} else {
				break
			}
		}
	}

	return msg, nil
}

// String returns the wire representation of the message, without the
// line terminator.
func (m *Message) String() string {
	var builder strings.Builder

	if m.Prefix != "" {
		builder.WriteString(":")
		builder.WriteString(m.Prefix)
		builder.WriteString(" ")
	}

	builder.WriteString(m.Command)

	for i, param := range m.Params {
		builder.WriteString(" ")

		// The last parameter gets a colon when it contains spaces, is
		// empty, or would otherwise be mistaken for a trailing marker.
		if i == len(m.Params)-1 && (param == "" || strings.Contains(param, " ") || strings.HasPrefix(param, ":")) {
			builder.WriteString(":")
		}
		builder.WriteString(param)
	}

	return builder.String()
}

// ParseHostmask parses a hostmask (nick!user@host).
func ParseHostmask(hostmask string) (nick, user, host string) {
	nickParts := strings.SplitN(hostmask, "!", 2)
	if len(nickParts) < 2 {
		nick = hostmask
		return
	}
	nick = nickParts[0]

	userHostParts := strings.SplitN(nickParts[1], "@", 2)
	if len(userHostParts) < 2 {
		user = nickParts[1]
		return
	}
	user = userHostParts[0]
	host = userHostParts[1]

	return
}

// FormatHostmask formats a hostmask from its parts.
func FormatHostmask(nick, user, host string) string {
	return fmt.Sprintf("%s!%s@%s", nick, user, host)
}
