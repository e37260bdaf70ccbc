package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/maxpert/termlog/conductor"
	"github.com/rs/zerolog/log"
)

// StatusMessageRequest is the body of a status message posted by an
// out-of-process receiver
type StatusMessageRequest struct {
	ConsumerPosition int64 `json:"consumer_position"`
	ReceiverWindow   int32 `json:"receiver_window"`
}

// handleListPublications lists publications ordered by correlation id.
// ?channel= takes glob patterns; ?from= and ?limit= page through the list.
func (h *AdminHandlers) handleListPublications(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	from, err := parseFrom(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	filter, err := conductor.NewChannelFilter(r.URL.Query()["channel"]...)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	infos := h.registry.Publications(filter)
	page := make([]conductor.PublicationInfo, 0, min(limit, len(infos)))
	hasMore := false
	for _, info := range infos {
		if info.CorrelationID <= from {
			continue
		}
		if len(page) == limit {
			hasMore = true
			break
		}
		page = append(page, info)
	}

	lastKey := ""
	if hasMore {
		lastKey = strconv.FormatInt(page[len(page)-1].CorrelationID, 10)
	}

	writeJSONResponse(w, page, hasMore, lastKey)
}

// handlePublication returns one publication
func (h *AdminHandlers) handlePublication(w http.ResponseWriter, r *http.Request, correlationID int64) {
	info, ok := h.registry.Publication(correlationID)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "publication not found")
		return
	}

	writeJSONResponse(w, info, false, "")
}

// handleStatusMessage applies a status message to a publication
func (h *AdminHandlers) handleStatusMessage(w http.ResponseWriter, r *http.Request, correlationID int64) {
	var req StatusMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid status message: "+err.Error())
		return
	}

	if req.ConsumerPosition < 0 || req.ReceiverWindow <= 0 {
		writeErrorResponse(w, http.StatusBadRequest, "consumer_position must be >= 0 and receiver_window > 0")
		return
	}

	if err := h.registry.OnStatusMessage(correlationID, req.ConsumerPosition, req.ReceiverWindow); err != nil {
		writeRegistryError(w, err)
		return
	}

	info, _ := h.registry.Publication(correlationID)
	writeJSONResponse(w, info, false, "")
}

// handleReceiverGone marks a publication as having no receiver
func (h *AdminHandlers) handleReceiverGone(w http.ResponseWriter, r *http.Request, correlationID int64) {
	if err := h.registry.OnReceiverGone(correlationID); err != nil {
		writeRegistryError(w, err)
		return
	}

	log.Info().Int64("correlation_id", correlationID).Msg("Receiver marked gone via admin API")

	info, _ := h.registry.Publication(correlationID)
	writeJSONResponse(w, info, false, "")
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conductor.ErrUnknownPublication):
		writeErrorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, conductor.ErrConsumerAhead):
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
	default:
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
	}
}
