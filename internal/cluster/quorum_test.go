package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQuorumCollectorResolvesOnK(t *testing.T) {
	qc := NewQuorumCollector[int](3, 2)

	go qc.Submit(1, nil)
	go qc.Submit(2, nil)
	go qc.Submit(0, errors.New("boom"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	results, err := qc.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestQuorumCollectorFailsFastWhenUnreachable(t *testing.T) {
	qc := NewQuorumCollector[int](3, 3)

	go qc.Submit(0, errors.New("peer a down"))
	go qc.Submit(1, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := qc.Wait(ctx)
	require.Error(t, err)
	var insufficient ErrInsufficientReplicas
	require.ErrorAs(t, err, &insufficient)
}

func TestQuorumCollectorLateSubmissionsDoNotBlock(t *testing.T) {
	qc := NewQuorumCollector[int](5, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			qc.Submit(i, nil)
		}
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := qc.Wait(ctx)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("late submissions blocked their sender")
	}
}

func TestQuorumCollectorContextCancellation(t *testing.T) {
	qc := NewQuorumCollector[int](3, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := qc.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
