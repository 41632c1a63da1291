package queue

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// silentBroker accepts TCP connections and never speaks AMQP.
func silentBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return "amqp://guest:guest@" + ln.Addr().String() + "/"
}

func TestPublisher_DialIsBounded(t *testing.T) {
	p := newPublisher(silentBroker(t), 200*time.Millisecond, 1)

	start := time.Now()
	_, err := p.channel()
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPublisher_SilentBrokerDoesNotBlockCaller(t *testing.T) {
	p := newPublisher(silentBroker(t), 200*time.Millisecond, 8)
	p.wg.Add(1)
	go p.run()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	start := time.Now()
	for i := 0; i < 3; i++ {
		assert.NoError(t, p.Publish(ctx, sampleEvent()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	start = time.Now()
	require.NoError(t, p.Close())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPublisher_FullBufferDrops(t *testing.T) {
	p := newPublisher("amqp://unused/", time.Second, 1)
	ctx := context.Background()

	require.NoError(t, p.Publish(ctx, sampleEvent()))
	assert.ErrorIs(t, p.Publish(ctx, sampleEvent()), ErrBufferFull)
}

func TestPublisher_Rejects(t *testing.T) {
	p := newPublisher("amqp://unused/", time.Second, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, sampleEvent()), context.Canceled)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Publish(context.Background(), sampleEvent()), ErrPublisherClosed)
}
