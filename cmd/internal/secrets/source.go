package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves the RPC admin secret from an environment variable,
// a file, or by prompting the operator. The value is cached after the first
// successful retrieval so repeated calls reuse the same secret.
type Source struct {
	envVar   string
	filePath string

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a secret source that checks envVar, then filePath,
// before interactively prompting on the terminal.
func NewSource(envVar, filePath string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar), filePath: strings.TrimSpace(filePath)}
}

// Get returns the cached secret or resolves it if this is the first call.
// When the environment variable is set the exact value is used; a file is
// read with surrounding whitespace stripped; otherwise the operator is
// prompted on stderr. Whitespace-only secrets are rejected so a misconfigured
// source cannot silently open the admin surface.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		if s.filePath != "" {
			raw, err := os.ReadFile(s.filePath)
			if err != nil {
				s.err = fmt.Errorf("failed to read admin secret file: %w", err)
				return
			}
			secret := strings.TrimSpace(string(raw))
			if secret == "" {
				s.err = fmt.Errorf("admin secret file %s is empty", s.filePath)
				return
			}
			s.value = secret
			return
		}

		if !term.IsTerminal(int(os.Stdin.Fd())) {
			if s.envVar != "" {
				s.err = fmt.Errorf("admin secret required; set %s or run interactively", s.envVar)
			} else {
				s.err = errors.New("admin secret required and no terminal available")
			}
			return
		}

		fmt.Fprint(os.Stderr, "Enter RPC admin secret: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			s.err = fmt.Errorf("failed to read admin secret: %w", err)
			return
		}

		secret := string(bytes)
		if strings.TrimSpace(secret) == "" {
			s.err = errors.New("admin secret cannot be empty")
			return
		}

		s.value = secret
	})

	return s.value, s.err
}
