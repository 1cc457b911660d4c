package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// FileProvider holds the token for non-browser clients in a small YAML state
// file, honouring the same one-year lifetime as the cookie.
type FileProvider struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

type fileState struct {
	SessionID string    `yaml:"session_id"`
	ExpiresAt time.Time `yaml:"expires_at"`
}

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path, now: time.Now}
}

// DefaultStatePath is ~/.config/tehiskokk/session.yaml.
func DefaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "tehiskokk", "session.yaml")
}

func (p *FileProvider) GetSessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, err := p.read()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).WithField("path", p.path).Warn("unreadable session state, minting a new session")
	}
	if err == nil && strings.TrimSpace(st.SessionID) != "" && p.now().Before(st.ExpiresAt) {
		return st.SessionID
	}

	st = fileState{SessionID: NewToken(), ExpiresAt: p.now().Add(lifetime()).UTC()}
	if err := p.write(st); err != nil {
		logrus.WithError(err).WithField("path", p.path).Warn("persist session state failed")
	}
	return st.SessionID
}

func (p *FileProvider) ClearSession() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.write(fileState{}); err != nil {
		logrus.WithError(err).WithField("path", p.path).Warn("clear session state failed")
	}
}

func (p *FileProvider) read() (fileState, error) {
	var st fileState
	b, err := os.ReadFile(p.path)
	if err != nil {
		return st, err
	}
	if err := yaml.Unmarshal(b, &st); err != nil {
		return st, fmt.Errorf("parse %s: %w", p.path, err)
	}
	return st, nil
}

func (p *FileProvider) write(st fileState) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(st)
	if err != nil {
		return err
	}
	return os.WriteFile(p.path, b, 0o600)
}
