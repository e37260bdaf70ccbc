package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/maxpert/termlog/conductor"
	"github.com/rs/zerolog/log"
)

const (
	defaultPageLimit = 256
	maxPageLimit     = 1024
)

// Registry is the view of the conductor the admin API works against
type Registry interface {
	Publications(filter *conductor.ChannelFilter) []conductor.PublicationInfo
	Publication(correlationID int64) (conductor.PublicationInfo, bool)
	OnStatusMessage(correlationID, consumerPosition int64, receiverWindow int32) error
	OnReceiverGone(correlationID int64) error
}

// AdminHandlers serves the publication admin API
type AdminHandlers struct {
	registry Registry
}

func NewAdminHandlers(registry Registry) *AdminHandlers {
	return &AdminHandlers{registry: registry}
}

// envelope is the body of every admin response
type envelope struct {
	Data    any    `json:"data,omitempty"`
	HasMore bool   `json:"has_more,omitempty"`
	LastKey string `json:"last_key,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Int("status", status).Msg("Failed to encode admin response")
	}
}

// writeJSONResponse writes data with optional paging state
func writeJSONResponse(w http.ResponseWriter, data any, hasMore bool, lastKey string) {
	writeEnvelope(w, http.StatusOK, envelope{Data: data, HasMore: hasMore, LastKey: lastKey})
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, status, envelope{Error: message})
}

// queryInt64 reads an optional integer query parameter
func queryInt64(r *http.Request, name string, fallback int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s parameter: %w", name, err)
	}
	return v, nil
}

func parseLimit(r *http.Request) (int, error) {
	limit, err := queryInt64(r, "limit", defaultPageLimit)
	switch {
	case err != nil:
		return 0, err
	case limit < 1:
		return 0, fmt.Errorf("limit must be positive")
	case limit > maxPageLimit:
		return 0, fmt.Errorf("limit cannot exceed %d", maxPageLimit)
	}
	return int(limit), nil
}

// parseFrom returns the exclusive correlation id a listing continues after
func parseFrom(r *http.Request) (int64, error) {
	return queryInt64(r, "from", 0)
}

func parseCorrelationID(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("correlation ID is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid correlation ID: %w", err)
	}
	return id, nil
}
