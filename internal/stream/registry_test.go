package stream

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateAndLookup(t *testing.T) {
	registry := NewRegistry(time.Minute, 16)

	s, err := registry.Create("stream-1")
	require.NoError(t, err)
	require.NotNil(t, s)

	_, err = registry.Create("stream-1")
	assert.Error(t, err)

	found, ok := registry.Lookup("stream-1")
	require.True(t, ok)
	assert.Same(t, s, found)

	_, ok = registry.Lookup("no-such-stream")
	assert.False(t, ok)
}

func TestStreamReplaysFramesToLateFollower(t *testing.T) {
	registry := NewRegistry(time.Minute, 16)
	s, err := registry.Create("stream-1")
	require.NoError(t, err)

	s.Publish(TextFrame("Hel"))
	s.Publish(TextFrame("lo"))
	s.Close()

	var out bytes.Buffer
	require.NoError(t, s.WriteTo(context.Background(), &out, nil))
	assert.Equal(t, "0:\"Hel\"\n0:\"lo\"\n", out.String())
}

func TestStreamFollowerReceivesLiveFrames(t *testing.T) {
	registry := NewRegistry(time.Minute, 16)
	s, err := registry.Create("stream-1")
	require.NoError(t, err)

	var out bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.WriteTo(context.Background(), &out, nil))
	}()

	s.Publish(TextFrame("a"))
	s.Publish(TextFrame("b"))
	s.Close()
	wg.Wait()

	assert.Equal(t, "0:\"a\"\n0:\"b\"\n", out.String())
}

func TestStreamWriteToHonorsContext(t *testing.T) {
	registry := NewRegistry(time.Minute, 16)
	s, err := registry.Create("stream-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		errs <- s.WriteTo(ctx, &bytes.Buffer{}, nil)
	}()

	cancel()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("WriteTo did not return after context cancellation")
	}
}

func TestStreamPublishAfterCloseIsIgnored(t *testing.T) {
	registry := NewRegistry(time.Minute, 16)
	s, err := registry.Create("stream-1")
	require.NoError(t, err)

	s.Publish(TextFrame("a"))
	s.Close()
	s.Publish(TextFrame("b"))
	s.Close()

	var out bytes.Buffer
	require.NoError(t, s.WriteTo(context.Background(), &out, nil))
	assert.Equal(t, "0:\"a\"\n", out.String())
}

func TestRegistryEvictsExpiredCompletedStreams(t *testing.T) {
	registry := NewRegistry(time.Minute, 16)

	current := time.Unix(1700000000, 0)
	registry.now = func() time.Time { return current }

	s, err := registry.Create("old-stream")
	require.NoError(t, err)
	s.Close()

	current = current.Add(2 * time.Minute)
	_, ok := registry.Lookup("old-stream")
	assert.False(t, ok)
}

func TestRegistryEvictsOldestCompletedWhenFull(t *testing.T) {
	registry := NewRegistry(time.Hour, 2)

	current := time.Unix(1700000000, 0)
	registry.now = func() time.Time { return current }

	first, err := registry.Create("first")
	require.NoError(t, err)
	first.Close()

	current = current.Add(time.Second)
	second, err := registry.Create("second")
	require.NoError(t, err)
	second.Close()

	current = current.Add(time.Second)
	_, err = registry.Create("third")
	require.NoError(t, err)

	_, ok := registry.Lookup("first")
	assert.False(t, ok)
	_, ok = registry.Lookup("second")
	assert.True(t, ok)
	_, ok = registry.Lookup("third")
	assert.True(t, ok)
}
