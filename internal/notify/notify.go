// Package notify surfaces user-visible messages from background flows
// (trigger failures, safety timeouts, autonomy rollbacks).
package notify

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// Notifier receives user-visible messages. Implementations must be safe for
// concurrent use; the controller calls them from timer and stream goroutines.
type Notifier interface {
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// CLI writes colored notification lines to a writer.
type CLI struct {
	mu sync.Mutex
	w  io.Writer
}

// NewCLI creates a CLI notifier. A nil writer defaults to stderr.
func NewCLI(w io.Writer) *CLI {
	if w == nil {
		w = os.Stderr
	}
	return &CLI{w: w}
}

func (c *CLI) Info(msg string) {
	c.write(color.New(color.FgGreen).Sprint("✓"), msg)
}

func (c *CLI) Warn(msg string) {
	c.write(color.New(color.FgYellow).Sprint("!"), msg)
}

func (c *CLI) Error(msg string) {
	c.write(color.New(color.FgRed).Sprint("✗"), msg)
}

func (c *CLI) write(prefix, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "%s %s\n", prefix, msg)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) Info(string)  {}
func (Nop) Warn(string)  {}
func (Nop) Error(string) {}

// Recorder captures notifications for tests.
type Recorder struct {
	mu     sync.Mutex
	infos  []string
	warns  []string
	errors []string
}

func (r *Recorder) Info(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, msg)
}

func (r *Recorder) Warn(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warns = append(r.warns, msg)
}

func (r *Recorder) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

// Infos returns a copy of recorded info messages.
func (r *Recorder) Infos() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.infos...)
}

// Warns returns a copy of recorded warning messages.
func (r *Recorder) Warns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warns...)
}

// Errors returns a copy of recorded error messages.
func (r *Recorder) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}
