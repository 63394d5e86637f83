package objbus

// DBus naming grammar checks, from the "Message protocol" section of
// the DBus specification. Names are validated at registration time so
// that a malformed interface can never reach the introspection
// document or the bus.

const maxNameLen = 255

// validMemberName reports whether s is a valid DBus member name: a
// non-empty run of [A-Za-z0-9_] not starting with a digit.
func validMemberName(s string) bool {
	if s == "" || len(s) > maxNameLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// validInterfaceName reports whether s is a valid DBus interface
// name: two or more member-name-shaped elements joined by dots.
func validInterfaceName(s string) bool {
	if s == "" || len(s) > maxNameLen {
		return false
	}
	elems := 0
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '.' {
			if !validMemberName(s[start:i]) {
				return false
			}
			elems++
			start = i + 1
		}
	}
	return elems >= 2
}
