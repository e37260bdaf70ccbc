package telemetry

// Histogram bucket definitions
var (
	// MessageLengthBuckets for delivered message sizes in bytes
	MessageLengthBuckets = []float64{32, 128, 512, 1024, 4096, 16384, 65536, 262144, 1048576}
)

// Result indexes ResultCounters. Publications map their result codes onto it.
const (
	ResultOK = iota
	ResultNotConnected
	ResultBackPressured
	ResultAdminAction
	ResultClosed
	ResultMaxPositionExceeded
	ResultInvalidLength
	ResultUnknown
	resultCount
)

var resultLabels = [resultCount]string{
	"ok",
	"not_connected",
	"back_pressured",
	"admin_action",
	"closed",
	"max_position_exceeded",
	"invalid_length",
	"unknown",
}

// ResultCounters holds one counter per result, looked up from a CounterVec
// once so the data path only increments.
type ResultCounters [resultCount]Counter

func newResultCounters(vec CounterVec) *ResultCounters {
	var r ResultCounters
	for i, label := range resultLabels {
		r[i] = vec.With(label)
	}
	return &r
}

// Inc counts one result. Out of range indexes count as unknown.
func (r *ResultCounters) Inc(result int) {
	if result < 0 || result >= resultCount {
		result = ResultUnknown
	}
	r[result].Inc()
}

// Publication data path metrics
var (
	// OffersTotal counts offers by result (ok, back_pressured, not_connected, admin_action, closed, max_position_exceeded, invalid_length)
	OffersTotal CounterVec = noopCounterVec{}

	// ClaimsTotal counts tryClaim calls by result
	ClaimsTotal CounterVec = noopCounterVec{}

	// OfferResults and ClaimResults are OffersTotal and ClaimsTotal resolved per result
	OfferResults = newResultCounters(OffersTotal)
	ClaimResults = newResultCounters(ClaimsTotal)

	// MessageLengthBytes measures the payload length of messages delivered by drainers
	MessageLengthBytes Histogram = NoopStat{}

	// TermRotationsTotal counts rotations performed by this client
	TermRotationsTotal Counter = NoopStat{}

	// PaddingFramesTotal counts padding frames written by publications by reason (end_of_term, term_mismatch)
	PaddingFramesTotal CounterVec = noopCounterVec{}

	// EndOfTermPadding and TermMismatchPadding are PaddingFramesTotal resolved per reason
	EndOfTermPadding    Counter = NoopStat{}
	TermMismatchPadding Counter = NoopStat{}
)

// Lifecycle metrics
var (
	// ActivePublications tracks streams with at least one open handle
	ActivePublications Gauge = NoopStat{}

	// PublicationsReleasedTotal counts logs released after their last handle was disposed
	PublicationsReleasedTotal Counter = NoopStat{}

	// StatusMessagesTotal counts status messages applied to publication limits
	StatusMessagesTotal Counter = NoopStat{}

	// PublicationPosition tracks the publisher position per stream
	PublicationPosition GaugeVec = noopGaugeVec{}

	// PublicationLimit tracks the publication limit per stream
	PublicationLimit GaugeVec = noopGaugeVec{}

	// PublicationConnected tracks whether a stream is connected (1=yes, 0=no)
	PublicationConnected GaugeVec = noopGaugeVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	OffersTotal = NewCounterVec(
		"offers_total",
		"Total offers by result",
		[]string{"result"},
	)
	ClaimsTotal = NewCounterVec(
		"claims_total",
		"Total buffer claims by result",
		[]string{"result"},
	)
	OfferResults = newResultCounters(OffersTotal)
	ClaimResults = newResultCounters(ClaimsTotal)

	MessageLengthBytes = NewHistogramWithBuckets(
		"message_length_bytes",
		"Payload length of messages delivered by drainers",
		MessageLengthBuckets,
	)
	TermRotationsTotal = NewCounter(
		"term_rotations_total",
		"Total term rotations performed",
	)
	PaddingFramesTotal = NewCounterVec(
		"padding_frames_total",
		"Padding frames written by reason",
		[]string{"reason"},
	)
	EndOfTermPadding = PaddingFramesTotal.With("end_of_term")
	TermMismatchPadding = PaddingFramesTotal.With("term_mismatch")

	ActivePublications = NewGauge(
		"active_publications",
		"Number of streams with open publication handles",
	)
	PublicationsReleasedTotal = NewCounter(
		"publications_released_total",
		"Total logs released after their last handle was disposed",
	)
	StatusMessagesTotal = NewCounter(
		"status_messages_total",
		"Total status messages applied to publication limits",
	)
	PublicationPosition = NewGaugeVec(
		"publication_position",
		"Publisher position per stream",
		[]string{"channel", "stream_id"},
	)
	PublicationLimit = NewGaugeVec(
		"publication_limit",
		"Publication limit per stream",
		[]string{"channel", "stream_id"},
	)
	PublicationConnected = NewGaugeVec(
		"publication_connected",
		"Whether the stream is connected (1=yes, 0=no)",
		[]string{"channel", "stream_id"},
	)
}
