// SPDX-License-Identifier: MIT
package pipeline

import (
	"context"
	"fmt"

	"wsprcap/internal/capture"
)

// WatchFault returns an error when the connection reports a fault, and nil
// when ctx ends or the channel closes first.
func WatchFault(ctx context.Context, states <-chan capture.StateChange) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-states:
			if !ok {
				return nil
			}
			if change.To == capture.StateFaulted {
				return fmt.Errorf("capture faulted: %w", change.Err)
			}
		}
	}
}
