// Package irc implements the Twitch chat wire protocol: a tag-aware line parser
// and a reconnecting connection manager. Only the subset of IRC that Twitch chat
// speaks is supported.
package irc

import "strings"

// Message is one parsed line of the chat wire protocol. It is produced once per
// wire line and never mutated afterwards.
type Message struct {
	Command string
	Tags    map[string]string
	Content string
}

// BadgePair is one set/version entry from a badges tag.
type BadgePair struct {
	Set     string `json:"set"`
	Version string `json:"version"`
}

// ParseMessage parses a single wire line into a Message. It reports ok=false for
// lines that are not recognized messages: malformed lines, PING keepalives and
// numeric server replies, which the connection loop checks separately. Malformed
// lines never produce an error; the caller logs and continues.
func ParseMessage(line string) (*Message, bool) {
	rest := line
	tags := map[string]string{}

	if strings.HasPrefix(rest, "@") {
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			return nil, false
		}
		for _, pair := range strings.Split(rest[1:sp], ";") {
			if pair == "" {
				continue
			}
			key, value, ok := strings.Cut(pair, "=")
			if key == "" {
				continue
			}
			if !ok {
				tags[key] = ""
				continue
			}
			tags[key] = unescapeTag(value)
		}
		rest = rest[sp+1:]
	}

	// Optional server/user prefix.
	if strings.HasPrefix(rest, ":") {
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			return nil, false
		}
		rest = rest[sp+1:]
	}

	command := rest
	params := ""
	if sp := strings.IndexByte(rest, ' '); sp >= 0 {
		command = rest[:sp]
		params = rest[sp+1:]
	}
	if !isCommand(command) {
		return nil, false
	}

	content := ""
	if strings.HasPrefix(params, ":") {
		content = params[1:]
	} else if idx := strings.Index(params, " :"); idx >= 0 {
		content = params[idx+2:]
	}

	return &Message{Command: command, Tags: tags, Content: content}, true
}

// isCommand reports whether tok is a client-facing command word. Numerics (the
// welcome sequence and friends) and PING are handled by the connection loop, not
// the dispatcher.
func isCommand(tok string) bool {
	if tok == "" || tok == "PING" {
		return false
	}
	for i := 0; i < len(tok); i++ {
		if tok[i] < 'A' || tok[i] > 'Z' {
			return false
		}
	}
	return true
}

// unescapeTag reverses IRCv3 tag value escaping.
func unescapeTag(v string) string {
	if !strings.ContainsRune(v, '\\') {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		if v[i] != '\\' || i == len(v)-1 {
			b.WriteByte(v[i])
			continue
		}
		i++
		switch v[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}

// ParseBadgeTag splits a badges tag value ("subscriber/12,vip/1") into ordered
// set/version pairs. Entries without a version are skipped.
func ParseBadgeTag(v string) []BadgePair {
	if v == "" {
		return nil
	}
	var pairs []BadgePair
	for _, entry := range strings.Split(v, ",") {
		set, version, ok := strings.Cut(entry, "/")
		if !ok || set == "" || version == "" {
			continue
		}
		pairs = append(pairs, BadgePair{Set: set, Version: version})
	}
	return pairs
}

// ParseList splits a comma-separated tag value ("0,33,237") dropping empties.
func ParseList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, entry := range strings.Split(v, ",") {
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
