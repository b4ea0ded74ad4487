package service

// Metrics receives domain events.  *obs.Metrics implements it.
type Metrics interface {
	CodeIssued()
	Verification(reason string)
	AnnouncementPublished(priority string)
	NotifyFailed(site string)
	CodesPruned(n int64)
}

type nopMetrics struct{}

func (nopMetrics) CodeIssued()                  {}
func (nopMetrics) Verification(string)          {}
func (nopMetrics) AnnouncementPublished(string) {}
func (nopMetrics) NotifyFailed(string)          {}
func (nopMetrics) CodesPruned(int64)            {}

func metricsOrNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
