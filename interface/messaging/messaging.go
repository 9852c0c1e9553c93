// Package messaging publishes the per-tile results of a run to downstream
// consumers.
package messaging

import (
	"context"
)

// Publisher is the interface of an event publishing service
type Publisher interface {
	// Publish the payloads, one message each
	Publish(ctx context.Context, data ...[]byte) error

	// Stop releases the resources of the publisher
	Stop()
}
