package piwebapi

import "time"

// Observer receives request outcomes and connection transitions, for metrics
// and journaling. Implementations must be safe for concurrent use.
type Observer interface {
	RequestDone(op string, kind Kind, elapsed time.Duration)
	ConnectionChanged(connected bool, cause Kind)
}

type nopObserver struct{}

func (nopObserver) RequestDone(string, Kind, time.Duration) {}
func (nopObserver) ConnectionChanged(bool, Kind)            {}

// Observers fans every notification out to each member.
type Observers []Observer

func (o Observers) RequestDone(op string, kind Kind, elapsed time.Duration) {
	for _, ob := range o {
		ob.RequestDone(op, kind, elapsed)
	}
}

func (o Observers) ConnectionChanged(connected bool, cause Kind) {
	for _, ob := range o {
		ob.ConnectionChanged(connected, cause)
	}
}
