// Package timing derives page-load timing and paint metrics from navigation
// timing marks and hands them to the router once late paints have settled.
package timing

import "github.com/vincentbai/browsetrace-tracker/internal/models"

// NavigationTiming carries the page's navigation timing marks (epoch millis)
// and paint entries (millis since navigation start). Paint entries are nil
// when the browser did not report them.
type NavigationTiming struct {
	FetchStart                 float64 `json:"fetchStart"`
	DomainLookupStart          float64 `json:"domainLookupStart"`
	DomainLookupEnd            float64 `json:"domainLookupEnd"`
	ConnectStart               float64 `json:"connectStart"`
	ConnectEnd                 float64 `json:"connectEnd"`
	RequestStart               float64 `json:"requestStart"`
	ResponseStart              float64 `json:"responseStart"`
	ResponseEnd                float64 `json:"responseEnd"`
	DomLoading                 float64 `json:"domLoading"`
	DomInteractive             float64 `json:"domInteractive"`
	DomContentLoadedEventStart float64 `json:"domContentLoadedEventStart"`
	DomContentLoadedEventEnd   float64 `json:"domContentLoadedEventEnd"`
	LoadEventStart             float64 `json:"loadEventStart"`

	FirstPaint             *float64 `json:"firstPaint,omitempty"`
	FirstContentfulPaint   *float64 `json:"firstContentfulPaint,omitempty"`
	LargestContentfulPaint *float64 `json:"largestContentfulPaint,omitempty"`
	FirstMeaningfulPaint   *float64 `json:"firstMeaningfulPaint,omitempty"`
}

// TimingData returns the page-load phase durations.
func (n NavigationTiming) TimingData() map[string]any {
	return map[string]any{
		"connectTime":          n.ConnectEnd - n.ConnectStart,
		"ttfbTime":             n.ResponseStart - n.FetchStart,
		"responseTime":         n.ResponseEnd - n.ResponseStart,
		"parseDOMTime":         n.DomInteractive - n.ResponseEnd,
		"domContentLoadedTime": n.DomContentLoadedEventEnd - n.DomContentLoadedEventStart,
		"domContentLoaded":     n.DomContentLoadedEventEnd - n.FetchStart,
		"loadTime":             n.LoadEventStart - n.FetchStart,
		"parseDNSTime":         n.DomainLookupEnd - n.DomainLookupStart,
		"domReadyTime":         n.DomContentLoadedEventStart - n.FetchStart,
	}
}

// PerformanceData returns the paint and interactivity metrics. First paint
// falls back to responseEnd - fetchStart when no paint entry exists.
func (n NavigationTiming) PerformanceData() map[string]any {
	data := map[string]any{
		"timeToInteractive": n.DomInteractive - n.DomLoading,
	}
	if n.FirstPaint != nil && *n.FirstPaint > 0 {
		data["firstPaint"] = *n.FirstPaint
	} else {
		data["firstPaint"] = n.ResponseEnd - n.FetchStart
	}
	if n.FirstContentfulPaint != nil {
		data["firstContentfulPaint"] = *n.FirstContentfulPaint
	}
	if n.LargestContentfulPaint != nil {
		data["largestContentfulPaint"] = *n.LargestContentfulPaint
	}
	if n.FirstMeaningfulPaint != nil {
		data["firstMeaningfulPaint"] = *n.FirstMeaningfulPaint
	}
	return data
}

// Records returns the timing and performance records for n.
func (n NavigationTiming) Records() (timingRecord, performanceRecord models.EventRecord) {
	timingRecord = models.EventRecord{
		Event:     models.TimingKey,
		TargetKey: models.TimingKey,
		Data:      n.TimingData(),
	}
	performanceRecord = models.EventRecord{
		Event:     models.PerformanceKey,
		TargetKey: models.PerformanceKey,
		Data:      n.PerformanceData(),
	}
	return timingRecord, performanceRecord
}
