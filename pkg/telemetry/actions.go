package telemetry

type ActionCategory int

const (
	Bisecting ActionCategory = iota
	HistoryQuery
	Building
	Testing
	Reporting
)

func (a ActionCategory) String() string {
	switch a {
	case Bisecting:
		return "bisecting"
	case HistoryQuery:
		return "history_query"
	case Building:
		return "building"
	case Testing:
		return "testing"
	case Reporting:
		return "reporting"
	default:
		return "unknown"
	}
}
