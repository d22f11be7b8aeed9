package locator

import (
	"math"
	"strings"

	"github.com/hazyhaar/snatch/dom"
	"github.com/hazyhaar/snatch/internal/fold"
)

// StableSelectors are identifiers the messaging client has kept across
// releases.
var StableSelectors = []string{
	"#pane-side",
	`[data-testid="chat-list"]`,
	`div[aria-label="Chat list"]`,
}

// LabelFragments are accessible-label fragments naming the chat list.
var LabelFragments = []string{
	"chat list", "chats list", "conversation list",
	"lista de chats", "lista de conversaciones", "lista de conversas",
	"liste des discussions", "liste de discussions",
	"chatliste", "chat-liste",
	"elenco chat", "elenco delle chat",
	"список чатов",
}

// RowMarker matches row-like descendants.
const RowMarker = `[role="listitem"], [role="row"], span[title]`

// ListRoles are generic roles a chat list may carry.
const ListRoles = `[role="grid"], [role="treegrid"], [role="list"], [role="tree"], [role="listbox"]`

const (
	containerTags = "div, section, main, nav, article, aside"
	composeMarker = `[contenteditable="true"], textarea, footer input, [role="textbox"]`
	avatarMarker  = `img[src*="avatar"], img[src*="pp"], img[draggable="false"], img[alt=""]`
	cellMarker    = `[data-testid*="cell"], [data-testid*="list-item"], [data-testid*="chat"]`
)

type selectorStrategy struct {
	l         *Locator
	selectors []string
}

func (s *selectorStrategy) Name() string { return "selector" }

func (s *selectorStrategy) Find(root dom.Element) dom.Element {
	for _, sel := range s.selectors {
		matches, err := root.QueryAll(sel)
		if err != nil {
			continue
		}
		for _, m := range matches {
			if el, ok := s.l.resolve(m); ok {
				return el
			}
		}
		// Stable ids are strong evidence even when the box reports no
		// scroll metrics yet (first paint).
		if len(matches) > 0 {
			return matches[0]
		}
	}
	return nil
}

type labelStrategy struct {
	l         *Locator
	fragments []string
}

func newLabelStrategy(l *Locator, extra []string) *labelStrategy {
	return &labelStrategy{l: l, fragments: fold.All(append(append([]string{}, LabelFragments...), extra...))}
}

func (s *labelStrategy) Name() string { return "label" }

func (s *labelStrategy) Find(root dom.Element) dom.Element {
	cands, err := root.QueryAll("[aria-label], [aria-roledescription]")
	if err != nil {
		return nil
	}
	for _, c := range cands {
		label, _ := c.Attr("aria-label")
		desc, _ := c.Attr("aria-roledescription")
		if !fold.ContainsAny(label+" | "+desc, s.fragments) {
			continue
		}
		if !dom.Has(c, RowMarker) {
			continue
		}
		el, _ := s.l.resolve(c)
		return el
	}
	return nil
}

type roleStrategy struct{ l *Locator }

func (s *roleStrategy) Name() string { return "role" }

func (s *roleStrategy) Find(root dom.Element) dom.Element {
	cands, err := root.QueryAll(ListRoles)
	if err != nil {
		return nil
	}
	var fallback dom.Element
	for _, c := range cands {
		if !dom.Has(c, RowMarker) {
			continue
		}
		if el, ok := s.l.resolve(c); ok {
			return el
		}
		if fallback == nil {
			fallback = c
		}
	}
	return fallback
}

// scoredStrategy weighs contact-like signals over scrollable containers.
type scoredStrategy struct{ l *Locator }

func (s *scoredStrategy) Name() string { return "scored" }

func (s *scoredStrategy) Find(root dom.Element) dom.Element {
	cands, err := root.QueryAll(containerTags)
	if err != nil {
		return nil
	}
	if len(cands) > s.l.cfg.MaxCandidates {
		cands = cands[:s.l.cfg.MaxCandidates]
	}
	var (
		best      dom.Element
		bestScore float64
	)
	for _, c := range cands {
		if !s.l.Scrollable(c) {
			continue
		}
		score, ok := Score(c)
		if !ok {
			continue
		}
		if score >= bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

// Score rates el as a chat-list container. ok is false when el carries no
// contact-like signal or looks like a message compose panel.
func Score(el dom.Element) (score float64, ok bool) {
	if dom.Has(el, composeMarker) {
		return 0, false
	}
	signals := 0.0
	if dom.Has(el, "span[title]") {
		signals += 3
	}
	if dom.Has(el, avatarMarker) {
		signals += 2
	}
	if dom.Has(el, cellMarker) {
		signals += 2
	}
	if text, err := el.InnerText(); err == nil && len(strings.TrimSpace(text)) >= 200 {
		signals++
	}
	if signals == 0 {
		return 0, false
	}
	extent := 0.0
	if g, err := el.Geometry(); err == nil && g.ScrollHeight > 0 {
		extent = math.Max(0, g.Overflow()) / g.ScrollHeight
	}
	return signals + 2*extent, true
}
