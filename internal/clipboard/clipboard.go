// Package clipboard copies secrets to the system clipboard and clears them
// again after a timeout.
package clipboard

import (
	"fmt"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"go.uber.org/zap"
)

// DefaultTTL is how long a copied secret stays on the clipboard.
const DefaultTTL = 30 * time.Second

// Backend is the system clipboard.
type Backend interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type systemBackend struct{}

func (systemBackend) ReadAll() (string, error) { return clipboard.ReadAll() }

func (systemBackend) WriteAll(text string) error { return clipboard.WriteAll(text) }

// Clipboard copies values with automatic clearing.
type Clipboard struct {
	backend Backend
	log     *zap.Logger
}

// New returns a Clipboard on the system clipboard.
func New(log *zap.Logger) *Clipboard {
	return NewWithBackend(systemBackend{}, log)
}

// NewWithBackend returns a Clipboard on backend.
func NewWithBackend(backend Backend, log *zap.Logger) *Clipboard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Clipboard{backend: backend, log: log}
}

// IsAvailable returns true if clipboard functionality is available
func (c *Clipboard) IsAvailable() bool {
	_, err := c.backend.ReadAll()
	return err == nil
}

// Copy puts value on the clipboard and schedules it to be cleared after ttl.
// The clipboard is only cleared if it still holds value at that point.
func (c *Clipboard) Copy(value []byte, ttl time.Duration) (*Pending, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	text := string(value)
	if err := c.backend.WriteAll(text); err != nil {
		return nil, fmt.Errorf("failed to copy to clipboard: %w", err)
	}

	p := &Pending{c: c, text: text, done: make(chan struct{})}
	p.timer = time.AfterFunc(ttl, p.clear)
	c.log.Debug("copied to clipboard", zap.Duration("ttl", ttl))
	return p, nil
}

// Pending is a scheduled clipboard clear.
type Pending struct {
	c     *Clipboard
	text  string
	timer *time.Timer
	once  sync.Once
	done  chan struct{}
}

// Done is closed once the clipboard has been cleared.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// ClearNow clears the clipboard immediately instead of waiting for the timer.
func (p *Pending) ClearNow() {
	p.timer.Stop()
	p.clear()
}

func (p *Pending) clear() {
	p.once.Do(func() {
		defer close(p.done)

		current, err := p.c.backend.ReadAll()
		if err != nil || current != p.text {
			// the user copied something else in the meantime
			p.text = ""
			return
		}
		if err := p.c.backend.WriteAll(""); err != nil {
			p.c.log.Warn("failed to clear clipboard", zap.Error(err))
		}
		p.text = ""
		p.c.log.Debug("clipboard cleared")
	})
}
