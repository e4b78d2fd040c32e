package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/resilience"
)

// brokerOutages are the client errors that mean the broker is unreachable
// rather than the message being wrong.
var brokerOutages = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
	nats.ErrReconnectBufExceeded,
}

var classifyPublishError = resilience.ClassifyWith(func(err error) resilience.ErrorClassification {
	for _, outage := range brokerOutages {
		if errors.Is(err, outage) {
			return resilience.Transient
		}
	}
	return resilience.Permanent
})

// markOutage flags broker outages as domain.ErrTemporary so callers can fall
// back to deleting in-process.
func markOutage(err error) error {
	return resilience.MarkTemporary("publish cleanup job", err, classifyPublishError)
}
