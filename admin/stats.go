package admin

import "net/http"

// handleStats returns totals across all registered publications
func (h *AdminHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	infos := h.registry.Publications(nil)

	var connected, handles, bytesPublished int64
	for _, info := range infos {
		if info.Connected {
			connected++
		}
		handles += info.RefCount
		bytesPublished += info.Position
	}

	response := map[string]interface{}{
		"publications":           len(infos),
		"connected_publications": connected,
		"open_handles":           handles,
		"bytes_published":        bytesPublished,
	}

	writeJSONResponse(w, response, false, "")
}

// handleHealth reports that the admin server is up
func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"healthy":      true,
		"publications": len(h.registry.Publications(nil)),
	}

	writeJSONResponse(w, response, false, "")
}
