package browser

import "github.com/hazyhaar/snatch/dom"

// Loaded reports whether the messaging client finished rendering: the
// chat pane is present, or the app shell holds a chat list or grid.
func Loaded(root dom.Element) bool {
	if root == nil {
		return false
	}
	if dom.Has(root, "#pane-side") {
		return true
	}
	return dom.Has(root, "#app") &&
		(dom.Has(root, `[data-testid="chat-list"]`) || dom.Has(root, `div[role="grid"]`))
}
