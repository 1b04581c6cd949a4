package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agendacal/internal/model"
)

func TestMemoryLedgerContract(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id := model.Identity{
		Source: "work",
		UID:    "ev-1",
		Start:  time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC),
	}

	done, err := m.HasReminded(ctx, id)
	require.NoError(t, err)
	assert.False(t, done)

	created, err := m.MarkReminded(ctx, id, id.Start.Add(time.Hour), time.Now())
	require.NoError(t, err)
	assert.True(t, created)

	created, err = m.MarkReminded(ctx, id, id.Start.Add(time.Hour), time.Now())
	require.NoError(t, err)
	assert.False(t, created)

	done, err = m.HasReminded(ctx, id)
	require.NoError(t, err)
	assert.True(t, done)

	n, err := m.Prune(ctx, id.Start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	done, err = m.HasReminded(ctx, id)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestMemoryExclusiveSerializes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	release1, err := m.Exclusive(ctx)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		release2, err := m.Exclusive(ctx)
		if err == nil {
			close(acquired)
			release2()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, release1())
	// Releasing twice is a no-op.
	require.NoError(t, release1())

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("lock never acquired after release")
	}
}
