// Package locator finds the scrollable chat-list container in a page.
//
// Discovery is an ordered pipeline of independent strategies evaluated
// with early exit: stable identifiers, accessible labels, generic list
// roles, then a scored search over container-like elements.
package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/snatch/dom"
)

// ErrNotFound is returned when every strategy failed.
var ErrNotFound = errors.New("locator: chat list container not found")

// Config tunes discovery. Zero values take defaults.
type Config struct {
	MinHeight     float64  `yaml:"min_height"`     // px, default 120
	MinOverflow   float64  `yaml:"min_overflow"`   // px beyond the visible box, default 10
	MaxCandidates int      `yaml:"max_candidates"` // heuristic scan bound, default 300
	Selectors     []string `yaml:"selectors"`      // prepended to StableSelectors
	Labels        []string `yaml:"labels"`         // appended to LabelFragments
}

func (c *Config) defaults() {
	if c.MinHeight <= 0 {
		c.MinHeight = 120
	}
	if c.MinOverflow <= 0 {
		c.MinOverflow = 10
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 300
	}
}

// Strategy is one discovery step. It must not panic on odd trees and
// returns nil when it has no answer.
type Strategy interface {
	Name() string
	Find(root dom.Element) dom.Element
}

// Locator runs the strategy pipeline.
type Locator struct {
	cfg        Config
	strategies []Strategy
	logger     *slog.Logger
}

// New builds a locator with the default pipeline.
func New(cfg Config, logger *slog.Logger) *Locator {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	l := &Locator{cfg: cfg, logger: logger}
	l.strategies = []Strategy{
		&selectorStrategy{l: l, selectors: append(append([]string{}, cfg.Selectors...), StableSelectors...)},
		newLabelStrategy(l, cfg.Labels),
		&roleStrategy{l: l},
		&scoredStrategy{l: l},
	}
	return l
}

// WithStrategies replaces the pipeline.
func (l *Locator) WithStrategies(s ...Strategy) *Locator {
	l.strategies = s
	return l
}

// Locate returns the container and the name of the strategy that found it.
func (l *Locator) Locate(root dom.Element) (dom.Element, string, error) {
	if root == nil {
		return nil, "", ErrNotFound
	}
	for _, s := range l.strategies {
		if el := l.try(s, root); el != nil {
			l.logger.Debug("locator: found", "strategy", s.Name(), "tag", el.TagName())
			return el, s.Name(), nil
		}
	}
	return nil, "", ErrNotFound
}

func (l *Locator) try(s Strategy, root dom.Element) (found dom.Element) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Debug("locator: strategy panic", "strategy", s.Name(), "panic", r)
			found = nil
		}
	}()
	return s.Find(root)
}

// RootFunc yields the current document root. It is called on every poll
// so a reloaded page is picked up.
type RootFunc func(ctx context.Context) (dom.Element, error)

// Wait polls Locate until it succeeds, ctx ends or timeout elapses.
func (l *Locator) Wait(ctx context.Context, root RootFunc, poll, timeout time.Duration) (dom.Element, error) {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(poll)
	defer tick.Stop()

	for attempt := 1; ; attempt++ {
		if r, err := root(ctx); err == nil {
			if el, _, err := l.Locate(r); err == nil {
				return el, nil
			}
		} else {
			l.logger.Debug("locator: root unavailable", "attempt", attempt, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("locator: wait: %w", ctx.Err())
		case <-deadline.C:
			return nil, fmt.Errorf("locator: wait %s: %w", timeout, ErrNotFound)
		case <-tick.C:
		}
	}
}

// Scrollable reports whether el is tall enough and scrolls vertically.
func (l *Locator) Scrollable(el dom.Element) bool {
	g, err := el.Geometry()
	if err != nil {
		return false
	}
	if g.ClientHeight < l.cfg.MinHeight {
		return false
	}
	return g.Overflow() > l.cfg.MinOverflow || g.ScrollableOverflow()
}

// resolve turns a matched element into the element that actually scrolls:
// itself, else a descendant up to three levels down (breadth first), else
// an ancestor up to three levels up. ok is false when none scrolls.
func (l *Locator) resolve(el dom.Element) (dom.Element, bool) {
	if l.Scrollable(el) {
		return el, true
	}
	level := []dom.Element{el}
	for depth := 0; depth < 3 && len(level) > 0; depth++ {
		var next []dom.Element
		for _, e := range level {
			kids, err := e.Children()
			if err != nil {
				continue
			}
			for _, k := range kids {
				if l.Scrollable(k) {
					return k, true
				}
			}
			next = append(next, kids...)
		}
		level = next
	}
	cur := el
	for i := 0; i < 3; i++ {
		p, err := cur.Parent()
		if err != nil || p == nil {
			break
		}
		if l.Scrollable(p) {
			return p, true
		}
		cur = p
	}
	return el, false
}
