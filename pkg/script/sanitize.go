package script

// isAlnum reports whether c is an ASCII letter or digit.
func isAlnum(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// StripControlChars returns the subsequence of s consisting of ASCII
// alphanumeric characters.
func StripControlChars(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if isAlnum(s[i]) {
			out = append(out, s[i])
		}
	}
	return string(out)
}

// CheckTokenName validates a token name: length within bounds and byte-exact
// equality with its sanitized form.
func CheckTokenName(name string) error {
	if len(name) < TokenNameMinLen || len(name) > TokenNameMaxLen {
		return ErrNameInvalid
	}
	cleaned := StripControlChars(name)
	if len(cleaned) != len(name) || cleaned != name {
		return ErrNameInvalid
	}
	return nil
}
