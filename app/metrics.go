package app

import (
	"time"

	"github.com/artpar/usagemeter/domain/alert"
	"github.com/artpar/usagemeter/ports"
)

// nopMetrics discards measurements when no collector is wired.
type nopMetrics struct{}

func (nopMetrics) EventRecorded(string, float64, int64, bool) {}
func (nopMetrics) RecordFailed()                              {}
func (nopMetrics) Decision(bool, string)                      {}
func (nopMetrics) AlertRaised(alert.Type)                     {}
func (nopMetrics) JobDropped()                                {}
func (nopMetrics) StepFailed(string)                          {}
func (nopMetrics) StepDuration(string, time.Duration)         {}
func (nopMetrics) QueueDepth(int)                             {}

func orNop(m ports.Metrics) ports.Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
