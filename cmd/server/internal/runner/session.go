package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/codedocs/server/pkg/metrics"
)

type sessionConfig struct {
	docID     string
	argv      []string
	filePath  string
	idleFlush time.Duration
	sink      Sink
	log       *slog.Logger
	onExit    func(exitCode int, duration time.Duration, forced bool)
}

// Session is one sandboxed run of a document. The relay goroutine owns
// the process handle exclusively; other goroutines interact with it
// only through input and stop.
type Session struct {
	cfg    sessionConfig
	cancel context.CancelFunc
	stdin  chan string
	forced atomic.Bool
}

// startSession launches the process and its goroutines. register is
// called with the session before the reaper goroutine exists, so the
// caller's slot holds the live session before onExit can possibly fire.
func startSession(ctx context.Context, cancel context.CancelFunc, cfg sessionConfig, register func(*Session)) (*Session, error) {
	cmd := exec.CommandContext(ctx, cfg.argv[0], cfg.argv[1:]...)
	// own process group so the whole sandbox tree dies on stop/timeout
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	start := time.Now()
	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return nil, err
	}

	s := &Session{
		cfg:    cfg,
		cancel: cancel,
		stdin:  make(chan string, 256),
	}

	exited := make(chan struct{})
	go s.feedStdin(stdinPipe, exited)

	relayDone := make(chan struct{})
	go s.relay(pr, relayDone)

	// an instant exit would otherwise drop the reservation before the
	// caller stores the session, leaving a dead entry behind
	register(s)
	go s.wait(cmd, pw, start, exited, relayDone)
	return s, nil
}

func (s *Session) input(line string) error {
	select {
	case s.stdin <- line:
		return nil
	default:
		return ErrInputQueueFull
	}
}

func (s *Session) stop() {
	s.forced.Store(true)
	s.cancel()
}

// feedStdin drains queued input lines into the process in FIFO order.
func (s *Session) feedStdin(w io.WriteCloser, exited <-chan struct{}) {
	defer w.Close()
	for {
		select {
		case line := <-s.stdin:
			if _, err := io.WriteString(w, line+"\n"); err != nil {
				s.cfg.log.Debug("stdin write failed", "file_id", s.cfg.docID, "error", err)
				return
			}
		case <-exited:
			return
		}
	}
}

// relay turns the raw output stream into sequence-numbered chunks.
// Complete lines are forwarded immediately; a partial line is flushed
// after the idle interval so prompts without a trailing newline still
// reach the room.
func (s *Session) relay(pr io.Reader, done chan<- struct{}) {
	defer close(done)

	chunks := make(chan []byte, 16)
	go func() {
		defer close(chunks)
		buf := make([]byte, 4096)
		for {
			n, err := pr.Read(buf)
			if n > 0 {
				c := make([]byte, n)
				copy(c, buf[:n])
				chunks <- c
			}
			if err != nil {
				return
			}
		}
	}()

	seq := 0
	emit := func(chunk []byte) {
		s.cfg.sink.Output(seq, string(chunk))
		metrics.RecordOutputChunk()
		seq++
	}

	idle := time.NewTimer(s.cfg.idleFlush)
	if !idle.Stop() {
		<-idle.C
	}
	defer idle.Stop()

	var pending []byte
	armed := false
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				if len(pending) > 0 {
					emit(pending)
				}
				return
			}
			pending = append(pending, c...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				emit(pending[:i+1])
				pending = pending[i+1:]
			}
			if armed {
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				armed = false
			}
			if len(pending) > 0 {
				idle.Reset(s.cfg.idleFlush)
				armed = true
			}
		case <-idle.C:
			armed = false
			if len(pending) > 0 {
				emit(pending)
				pending = nil
			}
		}
	}
}

// wait reaps the process, drains the relay, cleans up the artifact and
// reports the exit exactly once.
func (s *Session) wait(cmd *exec.Cmd, pw *io.PipeWriter, start time.Time, exited chan<- struct{}, relayDone <-chan struct{}) {
	err := cmd.Wait()
	duration := time.Since(start)
	pw.Close()
	close(exited)
	<-relayDone
	s.cancel()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	forced := s.forced.Load()
	status := "completed"
	switch {
	case forced:
		status = "stopped"
	case exitCode != 0:
		status = "failed"
	}
	metrics.RecordRunSession(status, duration.Seconds())

	if err := os.Remove(s.cfg.filePath); err != nil && !os.IsNotExist(err) {
		s.cfg.log.Warn("failed to remove sandbox artifact", "path", s.cfg.filePath, "error", err)
	}

	s.cfg.onExit(exitCode, duration, forced)
	s.cfg.sink.Ended(exitCode)
}
