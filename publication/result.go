package publication

import "github.com/maxpert/termlog/telemetry"

// Results returned by Offer and TryClaim. Non-negative values are positions.
const (
	NotConnected        int64 = -1
	BackPressured       int64 = -2
	AdminAction         int64 = -3
	Closed              int64 = -4
	MaxPositionExceeded int64 = -5
	InvalidLength       int64 = -6
)

// ResultString returns a readable name for an Offer or TryClaim result
func ResultString(result int64) string {
	if result >= 0 {
		return "OK"
	}

	switch result {
	case NotConnected:
		return "NOT_CONNECTED"
	case BackPressured:
		return "BACK_PRESSURED"
	case AdminAction:
		return "ADMIN_ACTION"
	case Closed:
		return "CLOSED"
	case MaxPositionExceeded:
		return "MAX_POSITION_EXCEEDED"
	case InvalidLength:
		return "INVALID_LENGTH"
	default:
		return "UNKNOWN"
	}
}

// resultIndex maps a result onto its telemetry counter
func resultIndex(result int64) int {
	switch {
	case result >= 0:
		return telemetry.ResultOK
	case result == NotConnected:
		return telemetry.ResultNotConnected
	case result == BackPressured:
		return telemetry.ResultBackPressured
	case result == AdminAction:
		return telemetry.ResultAdminAction
	case result == Closed:
		return telemetry.ResultClosed
	case result == MaxPositionExceeded:
		return telemetry.ResultMaxPositionExceeded
	case result == InvalidLength:
		return telemetry.ResultInvalidLength
	default:
		return telemetry.ResultUnknown
	}
}
