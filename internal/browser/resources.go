package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources fails requests whose resource type is listed. The chat
// list only needs the document, scripts and XHR; avatars and media are
// dead weight.
func blockResources(page *rod.Page, types []string) *rod.HijackRouter {
	blocked := blockSet(types)
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if blocked[resourceKind(h.Request.Type())] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

func blockSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[strings.TrimSuffix(strings.ToLower(strings.TrimSpace(t)), "s")] = true
	}
	return set
}

// resourceKind maps a CDP resource type to the singular config name.
func resourceKind(t proto.NetworkResourceType) string {
	return strings.ToLower(string(t))
}
