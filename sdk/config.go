package voxlive

import (
	"strings"

	"github.com/voxjot/voxlive/pkg/core"
)

// Config is the immutable per-session configuration. It is supplied at
// session creation and never mutated.
type Config struct {
	// APIKey is the service credential. Required.
	APIKey string
	// Model is the dialogue model identifier. Required.
	Model string
	// Voice optionally selects a synthesis voice.
	Voice string
	// SystemInstruction optionally steers the conversation.
	SystemInstruction string
}

func (c Config) validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return core.NewMissingCredentialError("config has no API key")
	}
	return nil
}
