// Package metrics records payment events and operation latencies.
package metrics

import "time"

// Recorder receives payment events and operation latencies.
// Known label keys are "network" and "token".
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Counted events.
const (
	EventInitiated        = "initiated"
	EventInitiateRejected = "initiate_rejected"
	EventSubmitted        = "submitted"
	EventSubmissionFailed = "submission_failed"
	EventAuthorized       = "authorized"
	EventAuthorizeFailed  = "authorize_failed"
	EventCaptured         = "captured"
	EventCanceled         = "canceled"
	EventRefunded         = "refunded"
	EventRefundManual     = "refund_manual"
	EventRefundResolved   = "refund_resolved"
	EventWebhookRejected  = "webhook_rejected"
)

// Timed operations.
const (
	OpSubmit    = "submit"
	OpAuthorize = "authorize"
	OpRefund    = "refund"
)

// Labels returns the label set for network, plus token when it is set.
func Labels(network, token string) map[string]string {
	labels := map[string]string{"network": network}
	if token != "" {
		labels["token"] = token
	}
	return labels
}

type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
