package commands

import "strings"

// parseCommand splits "/join@ckbot sat 15" into ("join", "ckbot", ["sat", "15"]).
// ok is false for text that is not a command.
func parseCommand(text string) (name, mention string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", nil, false
	}
	parts := tokenize(text)
	if len(parts) == 0 {
		return "", "", nil, false
	}
	name = strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		mention = name[i+1:]
		name = name[:i]
	}
	name = strings.ToLower(name)
	if name == "" {
		return "", "", nil, false
	}
	return name, mention, parts[1:], true
}

// tokenize splits on whitespace, keeping quoted runs together:
//
//	/propose 10/24 "18:00" "after dinner"
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar rune
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for _, ch := range s {
		switch {
		case esc:
			buf.WriteRune(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ:
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteRune(ch)
		case ch == '"' || ch == '\'':
			inQ = true
			qChar = ch
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteRune(ch)
		}
	}
	flush()
	return out
}

// slotArgs accepts "sat 15", "sat 15:00" and "sat-15".
func slotArgs(args []string) (day, hour string, ok bool) {
	switch {
	case len(args) >= 2:
		return args[0], args[1], true
	case len(args) == 1:
		for _, sep := range []string{"-", "/", "@"} {
			if d, h, found := strings.Cut(args[0], sep); found {
				return d, h, true
			}
		}
	}
	return "", "", false
}
