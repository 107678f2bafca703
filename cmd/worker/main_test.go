package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jnst/payment-reconciler/internal/queue"
)

type stubConsumer struct {
	pendingBatches []int
	pendingCalls   int
	liveCalls      int
	err            error
	cancel         context.CancelFunc
}

func (c *stubConsumer) Consume(_ context.Context, _ string, pending bool, _ queue.Handler) (int, error) {
	if !pending {
		c.liveCalls++
		c.cancel()
		return 0, nil
	}

	c.pendingCalls++
	if c.err != nil {
		return 0, c.err
	}
	if len(c.pendingBatches) == 0 {
		return 0, nil
	}
	n := c.pendingBatches[0]
	c.pendingBatches = c.pendingBatches[1:]

	return n, nil
}

func TestDrainPendingStopsWhenEmpty(t *testing.T) {
	consumer := &stubConsumer{pendingBatches: []int{10, 3}}

	drainPending(context.Background(), consumer, "worker-1", nil)

	assert.Equal(t, 3, consumer.pendingCalls)
}

func TestDrainPendingStopsOnError(t *testing.T) {
	consumer := &stubConsumer{pendingBatches: []int{10}, err: errors.New("NOGROUP")}

	drainPending(context.Background(), consumer, "worker-1", nil)

	assert.Equal(t, 1, consumer.pendingCalls)
}

func TestRunWorkerLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumer := &stubConsumer{cancel: cancel}

	runWorkerLoop(ctx, consumer, "worker-1", nil)

	assert.Equal(t, 1, consumer.liveCalls)
}
