package domain

import (
	"errors"
	"strings"
)

var (
	ErrAuthRequired   = errors.New("authentication required: provide either a workspace key with a skill name or a skill key")
	ErrAuthConflict   = errors.New("authentication conflict: provide either a workspace key or a skill key, not both")
	ErrNameRequired   = errors.New("a workspace key requires a skill name")
	ErrNameNotAllowed = errors.New("a skill key identifies the skill itself; do not provide a skill name")
	ErrNatureMismatch = errors.New("key_nature_mismatch")
)

// ClientAuth is the credential a runtime client presents when it connects.
// A workspace key needs a skill name for discovery; a skill key is standalone.
type ClientAuth struct {
	Name         string
	WorkspaceKey string
	SkillKey     string
	NatsServers  string
	LogLevel     string
}

func (a ClientAuth) Validate() error {
	hasWorkspaceKey := strings.TrimSpace(a.WorkspaceKey) != ""
	hasSkillKey := strings.TrimSpace(a.SkillKey) != ""
	hasName := strings.TrimSpace(a.Name) != ""

	switch {
	case !hasWorkspaceKey && !hasSkillKey:
		return ErrAuthRequired
	case hasWorkspaceKey && hasSkillKey:
		return ErrAuthConflict
	case hasWorkspaceKey && !hasName:
		return ErrNameRequired
	case hasSkillKey && hasName:
		return ErrNameNotAllowed
	}
	return nil
}

// Key returns the presented key and the nature it is expected to carry.
func (a ClientAuth) Key() (string, Nature) {
	if key := strings.TrimSpace(a.WorkspaceKey); key != "" {
		return key, NatureWorkspace
	}
	return strings.TrimSpace(a.SkillKey), NatureSkill
}

// Check confirms a resolved key carries the nature its field implies.
func (a ClientAuth) Check(identity *ResolvedIdentity) error {
	_, want := a.Key()
	if identity == nil || identity.Nature != want {
		return ErrNatureMismatch
	}
	return nil
}

// Env builds the environment handed to a spawned runtime process.
func (a ClientAuth) Env() (map[string]string, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	env := map[string]string{}
	if servers := strings.TrimSpace(a.NatsServers); servers != "" {
		env["NATS_SERVERS"] = servers
	}

	key, nature := a.Key()
	if nature == NatureWorkspace {
		env["WORKSPACE_KEY"] = key
		env["SKILL_NAME"] = strings.TrimSpace(a.Name)
	} else {
		env["SKILL_KEY"] = key
	}
	if level := strings.TrimSpace(a.LogLevel); level != "" {
		env["LOG_LEVEL"] = level
	}
	return env, nil
}
