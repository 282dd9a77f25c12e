package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/codedocs/server/cmd/server/internal/document"
)

var (
	// ErrAlreadyRunning means the document already has a live execution.
	ErrAlreadyRunning = errors.New("execution already running")
	// ErrNotRunning means input or stop was requested with no live execution.
	ErrNotRunning = errors.New("no execution running")
	// ErrUnsupportedLanguage means no sandbox image is registered for
	// the document's language.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrInputQueueFull means the stdin queue rejected a line.
	ErrInputQueueFull = errors.New("input queue full")
)

// Sink receives a session's streamed output. Output is called with a
// per-run sequence number starting at 0; Ended is called exactly once,
// after the final Output.
type Sink interface {
	Output(seq int, chunk string)
	Ended(exitCode int)
}

// Options configures the supervisor. Command is an argv template;
// "{file}" expands to the materialized source file and "{image}" to
// the language's sandbox image.
type Options struct {
	Dir        string
	Command    []string
	ImageFor   func(language string) (string, bool)
	MaxRunTime time.Duration
	IdleFlush  time.Duration
}

// Manager supervises at most one execution session per document.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	opts     Options
	log      *slog.Logger
	audit    *AuditLogger
}

func NewManager(opts Options, log *slog.Logger, audit *AuditLogger) (*Manager, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("command template required")
	}
	if opts.IdleFlush <= 0 {
		opts.IdleFlush = 200 * time.Millisecond
	}
	if opts.MaxRunTime <= 0 {
		opts.MaxRunTime = 5 * time.Minute
	}
	if opts.ImageFor == nil {
		opts.ImageFor = func(string) (string, bool) { return "", true }
	}
	return &Manager{
		sessions: map[string]*Session{},
		opts:     opts,
		log:      log,
		audit:    audit,
	}, nil
}

// Start launches a sandboxed run of the document's current content.
func (m *Manager) Start(doc *document.Document, sink Sink) error {
	image, ok := m.opts.ImageFor(doc.Language)
	if !ok {
		m.audit.LogRunRejected(doc.ID, "unsupported language "+doc.Language)
		return fmt.Errorf("%w: %s", ErrUnsupportedLanguage, doc.Language)
	}

	m.mu.Lock()
	if _, exists := m.sessions[doc.ID]; exists {
		m.mu.Unlock()
		m.audit.LogRunRejected(doc.ID, "already running")
		return ErrAlreadyRunning
	}
	// reserve the slot before releasing the lock so concurrent Starts
	// cannot both pass the check
	m.sessions[doc.ID] = nil
	m.mu.Unlock()

	path := filepath.Join(m.opts.Dir, doc.ID)
	if err := os.MkdirAll(m.opts.Dir, 0755); err != nil {
		m.drop(doc.ID)
		return fmt.Errorf("prepare sandbox dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(doc.Content), 0644); err != nil {
		m.drop(doc.ID)
		return fmt.Errorf("materialize file: %w", err)
	}

	argv := expandTemplate(m.opts.Command, path, image)
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.MaxRunTime)

	_, err := startSession(ctx, cancel, sessionConfig{
		docID:     doc.ID,
		argv:      argv,
		filePath:  path,
		idleFlush: m.opts.IdleFlush,
		sink:      sink,
		log:       m.log,
		onExit: func(exitCode int, duration time.Duration, forced bool) {
			m.drop(doc.ID)
			m.audit.LogRunEnded(doc.ID, exitCode, duration, forced)
		},
	}, func(s *Session) {
		// fills the reserved slot before the reaper goroutine starts,
		// so onExit's drop always observes the registered session
		m.mu.Lock()
		m.sessions[doc.ID] = s
		m.mu.Unlock()
	})
	if err != nil {
		cancel()
		m.drop(doc.ID)
		m.removeArtifact(path)
		return fmt.Errorf("start sandbox: %w", err)
	}

	m.audit.LogRunStarted(doc.ID, doc.Language, image)
	return nil
}

// Input queues a stdin line for the document's running session.
func (m *Manager) Input(docID, line string) error {
	m.mu.Lock()
	s := m.sessions[docID]
	m.mu.Unlock()
	if s == nil {
		return ErrNotRunning
	}
	return s.input(line)
}

// Stop forcibly terminates the document's running session. The exit
// event is delivered through the session's sink as usual.
func (m *Manager) Stop(docID string) error {
	m.mu.Lock()
	s := m.sessions[docID]
	m.mu.Unlock()
	if s == nil {
		return ErrNotRunning
	}
	s.stop()
	return nil
}

// Running reports whether the document currently has a live session.
func (m *Manager) Running(docID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[docID] != nil
}

// StopAll terminates every live session, used during shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s != nil {
			live = append(live, s)
		}
	}
	m.mu.Unlock()
	for _, s := range live {
		s.stop()
	}
}

func (m *Manager) drop(docID string) {
	m.mu.Lock()
	delete(m.sessions, docID)
	m.mu.Unlock()
}

func (m *Manager) removeArtifact(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.log.Warn("failed to remove sandbox artifact", "path", path, "error", err)
	}
}

func expandTemplate(tmpl []string, file, image string) []string {
	out := make([]string, len(tmpl))
	for i, arg := range tmpl {
		arg = strings.ReplaceAll(arg, "{file}", file)
		arg = strings.ReplaceAll(arg, "{image}", image)
		out[i] = arg
	}
	return out
}
