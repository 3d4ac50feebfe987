/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: chain.go
Description: Consumer chaining for the Akaylee Scanner. Resolves the results of one consumer and
feeds the requests they found into the input of the next one, forwarding exactly one finish
sentinel once the first consumer is done.
*/

package consumers

import (
	"context"
	"fmt"

	"github.com/kleascm/akaylee-scanner/pkg/core"
)

// Input is anything with an input work queue
type Input interface {
	In() *core.WorkQueue
}

// Chain drains from and forwards every found request to to
// The finish sentinel reaches to only after all forwarded requests
func Chain(ctx context.Context, from *PluginConsumer, to Input) error {
	var forwardErr error
	err := from.Drain(ctx, func(r *core.PluginResult) {
		if forwardErr != nil {
			return
		}
		for _, fr := range r.Found {
			if err := to.In().Put(ctx, core.RequestItem(fr)); err != nil {
				forwardErr = err
				return
			}
		}
	})
	if err != nil {
		return fmt.Errorf("chain drain failed: %w", err)
	}
	if forwardErr != nil {
		return fmt.Errorf("chain forward failed: %w", forwardErr)
	}
	return to.In().Put(ctx, core.FinishItem())
}
