package service

// MetricsRecorder receives router counters.
type MetricsRecorder interface {
	CellSent()
	CellDropped(reason string)
	CircuitBuilt()
	CircuitBuildFailed(reason string)
	SetActiveSegments(n int)
}

type nopMetrics struct{}

// NopMetrics discards everything.
func NopMetrics() MetricsRecorder { return nopMetrics{} }

func (nopMetrics) CellSent()                 {}
func (nopMetrics) CellDropped(string)        {}
func (nopMetrics) CircuitBuilt()             {}
func (nopMetrics) CircuitBuildFailed(string) {}
func (nopMetrics) SetActiveSegments(int)     {}
