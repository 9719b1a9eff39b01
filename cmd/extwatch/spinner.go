package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// lineSpinner is drawn with plain carriage returns, outside any tea.Program.
var lineSpinner = spinner.Line

// stage is a step of a long-running CLI request.
type stage int

const (
	stageConnecting stage = iota
	stageChecking
	stageDownloading
	stageInstalling
)

type spinnerEvent struct {
	stage  stage
	detail string
}

// waitSpinner animates a single status line while the CLI waits on the
// daemon. It stays hidden for the first delay so fast requests print nothing.
type waitSpinner struct {
	writer        io.Writer
	delay         time.Duration
	frameInterval time.Duration
	frames        []string

	events chan spinnerEvent
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once

	mu       sync.Mutex
	frameIdx int
}

func newWaitSpinner(w io.Writer, delay time.Duration) *waitSpinner {
	return newCustomWaitSpinner(w, delay, lineSpinner.FPS)
}

func newCustomWaitSpinner(w io.Writer, delay, frameInterval time.Duration) *waitSpinner {
	if w == nil {
		w = io.Discard
	}
	sp := &waitSpinner{
		writer:        w,
		delay:         delay,
		frameInterval: frameInterval,
		frames:        lineSpinner.Frames,
		events:        make(chan spinnerEvent, 8),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go sp.loop()
	return sp
}

func (s *waitSpinner) Stage(st stage, detail string) {
	if s == nil {
		return
	}
	select {
	case <-s.stopCh:
		return
	default:
	}
	select {
	case s.events <- spinnerEvent{stage: st, detail: detail}:
	default:
	}
}

func (s *waitSpinner) Stop() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
}

func (s *waitSpinner) loop() {
	defer close(s.doneCh)

	var delayCh <-chan time.Time
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		delayCh = timer.C
	}

	ticker := time.NewTicker(s.frameInterval)
	defer ticker.Stop()

	var current spinnerEvent
	hasStage := false
	visible := s.delay == 0

	for {
		select {
		case <-s.stopCh:
			if visible && hasStage {
				s.clearLine()
			}
			return
		case ev := <-s.events:
			current = ev
			hasStage = true
			if visible {
				s.render(current)
			}
		case <-ticker.C:
			if visible && hasStage {
				s.render(current)
			}
		case <-delayCh:
			delayCh = nil
			visible = true
			if hasStage {
				s.render(current)
			}
		}
	}
}

func (s *waitSpinner) render(ev spinnerEvent) {
	frame := s.nextFrame()
	_, _ = fmt.Fprintf(s.writer, "\r\033[2K%s %s", frame, formatStageMessage(ev.stage, ev.detail))
}

func (s *waitSpinner) clearLine() {
	_, _ = fmt.Fprint(s.writer, "\r\033[2K")
}

func (s *waitSpinner) nextFrame() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame := s.frames[s.frameIdx%len(s.frames)]
	s.frameIdx++
	return frame
}

var stageMessages = map[stage]string{
	stageConnecting:  "Contacting the daemon...",
	stageChecking:    "Fetching update manifests...",
	stageDownloading: "Downloading the package...",
	stageInstalling:  "Handing the package to the browser...",
}

func formatStageMessage(st stage, detail string) string {
	msg := stageMessages[st]
	if strings.TrimSpace(msg) == "" {
		msg = "Working..."
	}
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return msg
	}
	return fmt.Sprintf("%s - %s", msg, detail)
}
