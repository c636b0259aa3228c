package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/muurk/tuyalocal/internal/protocol"
)

// KeyEnvVar supplies the local key when neither a flag nor the registry does.
const KeyEnvVar = "TUYALOCAL_KEY"

// KeySource describes where ResolveKey found the key.
type KeySource string

const (
	KeyFromFlag     KeySource = "flag"
	KeyFromEnv      KeySource = "env"
	KeyFromRegistry KeySource = "registry"
	KeyFromPrompt   KeySource = "prompt"
)

// Prompter reads a secret from the user.
type Prompter interface {
	ReadSecret(prompt string) (string, error)
}

// TerminalPrompter reads without echo from a terminal file descriptor.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// ReadSecret prints prompt and reads one line with echo disabled.
func (p TerminalPrompter) ReadSecret(prompt string) (string, error) {
	in := p.In
	if in == nil {
		in = os.Stdin
	}
	out := p.Out
	if out == nil {
		out = os.Stderr
	}
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no local key given and stdin is not a terminal (set --key or %s)", KeyEnvVar)
	}

	fmt.Fprint(out, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// ResolveKey picks the local key in order: flag, environment, registry entry,
// then prompter. A nil prompter skips prompting.
func ResolveKey(flagKey string, d *Device, prompter Prompter) ([]byte, KeySource, error) {
	key, source := flagKey, KeyFromFlag
	if key == "" {
		key, source = os.Getenv(KeyEnvVar), KeyFromEnv
	}
	if key == "" && d != nil {
		key, source = d.Key, KeyFromRegistry
	}
	if key == "" && prompter != nil {
		var err error
		if key, err = prompter.ReadSecret("Local key: "); err != nil {
			return nil, "", err
		}
		source = KeyFromPrompt
	}
	if key == "" {
		return nil, "", protocol.NewConfigError(protocol.ErrInvalidKey, "no local key given")
	}
	if len(key) != 16 {
		return nil, "", protocol.NewConfigError(protocol.ErrInvalidKey, "%s key is %d bytes, want 16", source, len(key))
	}
	return []byte(key), source, nil
}
