package domain

import "strings"

// Nature is the kind of entity an identity key authenticates.
type Nature string

const (
	NatureWorkspace Nature = "workspace"
	NatureRuntime   Nature = "runtime"
	NatureSkill     Nature = "skill"
)

const (
	PrefixWorkspace = "WSK"
	PrefixRuntime   = "RTK"
	PrefixSkill     = "SKK"

	PrefixLength = 3
)

var natures = []Nature{NatureWorkspace, NatureRuntime, NatureSkill}

// Natures lists every supported key nature.
func Natures() []Nature {
	out := make([]Nature, len(natures))
	copy(out, natures)
	return out
}

// ParseNature normalizes a user supplied nature name.
func ParseNature(raw string) (Nature, error) {
	switch Nature(strings.ToLower(strings.TrimSpace(raw))) {
	case NatureWorkspace:
		return NatureWorkspace, nil
	case NatureRuntime:
		return NatureRuntime, nil
	case NatureSkill:
		return NatureSkill, nil
	default:
		return "", ErrInvalidNature
	}
}

func (n Nature) Valid() bool {
	_, ok := n.prefix()
	return ok
}

// Prefix returns the three character tag carried by keys of this nature.
func (n Nature) Prefix() string {
	p, _ := n.prefix()
	return p
}

func (n Nature) prefix() (string, bool) {
	switch n {
	case NatureWorkspace:
		return PrefixWorkspace, true
	case NatureRuntime:
		return PrefixRuntime, true
	case NatureSkill:
		return PrefixSkill, true
	default:
		return "", false
	}
}

func (n Nature) String() string { return string(n) }

// NatureFromPrefix maps a key prefix back to its nature.
func NatureFromPrefix(prefix string) (Nature, bool) {
	switch prefix {
	case PrefixWorkspace:
		return NatureWorkspace, true
	case PrefixRuntime:
		return NatureRuntime, true
	case PrefixSkill:
		return NatureSkill, true
	default:
		return "", false
	}
}
