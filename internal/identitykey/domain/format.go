package domain

const (
	// SecretBytes is the amount of random data behind a generated key.
	SecretBytes = 32
	// KeyLength is the length of keys minted by the current generator.
	KeyLength = 46
	// MinKeyLength accepts keys issued before the format was widened.
	MinKeyLength = 32
	MaxKeyLength = 128
)

// ParseKey runs the structural checks shared by validation and key import.
// The charset check runs before the prefix check so garbage input never
// reaches prefix resolution.
func ParseKey(raw string) (Nature, error) {
	if len(raw) < MinKeyLength || len(raw) > MaxKeyLength {
		return "", ErrInvalidKeyFormat
	}
	for i := 0; i < len(raw); i++ {
		if !isURLSafe(raw[i]) {
			return "", ErrInvalidKeyFormat
		}
	}

	nature, ok := NatureFromPrefix(raw[:PrefixLength])
	if !ok {
		return "", ErrInvalidKeyPrefix
	}
	return nature, nil
}

func isURLSafe(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	default:
		return false
	}
}
