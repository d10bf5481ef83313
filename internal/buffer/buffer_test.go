package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/flashsale/internal/domain"
)

type recordingProcessor struct {
	mu        sync.Mutex
	processed []string
	failures  map[string]int // command ID -> times to fail before succeeding
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{failures: make(map[string]int)}
}

func (p *recordingProcessor) failTimes(commandID string, times int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[commandID] = times
}

func (p *recordingProcessor) Process(ctx context.Context, cmd *domain.WriteCommand) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if remaining := p.failures[cmd.CommandID]; remaining > 0 {
		p.failures[cmd.CommandID] = remaining - 1
		return errors.New("transient failure")
	}
	p.processed = append(p.processed, cmd.CommandID)
	return nil
}

func (p *recordingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.processed)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PrimaryInterval = 5 * time.Millisecond
	cfg.RetryInterval = 10 * time.Millisecond
	cfg.Eviction.Interval = 10 * time.Millisecond
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func command(id string) *domain.WriteCommand {
	return &domain.WriteCommand{
		CommandID: id,
		Type:      domain.CommandCreateOrder,
		Payload:   json.RawMessage(`{}`),
		CreatedAt: time.Now(),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestBufferProcessesEnqueuedCommands(t *testing.T) {
	proc := newRecordingProcessor()
	b := New(testConfig(), proc, nil, testLogger())
	b.Start(context.Background())
	defer b.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, b.Enqueue(context.Background(), command(fmt.Sprintf("cmd-%d", i))))
	}

	waitFor(t, func() bool { return proc.count() == 20 })
	assert.Equal(t, int64(20), b.Status().Processed)
}

func TestBufferRetriesTransientFailures(t *testing.T) {
	proc := newRecordingProcessor()
	proc.failTimes("flaky", 2)

	b := New(testConfig(), proc, nil, testLogger())
	b.Start(context.Background())
	defer b.Close()

	require.NoError(t, b.Enqueue(context.Background(), command("flaky")))

	waitFor(t, func() bool { return proc.count() == 1 })

	s := b.Status()
	assert.Equal(t, int64(1), s.Processed)
	assert.Equal(t, int64(2), s.Failed)
	assert.Equal(t, int64(0), s.DeadLettered)
}

func TestBufferDeadLettersExhaustedCommands(t *testing.T) {
	proc := newRecordingProcessor()
	proc.failTimes("doomed", 100)

	var mu sync.Mutex
	var deadLettered []string
	dl := func(ctx context.Context, cmd *domain.WriteCommand, cause error) {
		mu.Lock()
		defer mu.Unlock()
		deadLettered = append(deadLettered, cmd.CommandID)
	}

	b := New(testConfig(), proc, dl, testLogger())
	b.Start(context.Background())
	defer b.Close()

	require.NoError(t, b.Enqueue(context.Background(), command("doomed")))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(deadLettered) == 1
	})

	s := b.Status()
	assert.Equal(t, int64(1), s.DeadLettered)
	assert.Equal(t, int64(domain.MaxCommandRetries), s.Failed)
	assert.Zero(t, proc.count())
}

func TestBufferOverflowExecutesInline(t *testing.T) {
	proc := newRecordingProcessor()
	cfg := testConfig()
	cfg.PrimaryCapacity = 2

	// Not started: nothing drains, so the third enqueue overflows.
	b := New(cfg, proc, nil, testLogger())

	require.NoError(t, b.Enqueue(context.Background(), command("a")))
	require.NoError(t, b.Enqueue(context.Background(), command("b")))
	require.NoError(t, b.Enqueue(context.Background(), command("c")))

	assert.Equal(t, 1, proc.count(), "overflow command must run inline")
	s := b.Status()
	assert.Equal(t, int64(1), s.Rejected)
	assert.Equal(t, 2, s.PrimaryDepth)
}

func TestBufferOverflowInlineFailureReturnsError(t *testing.T) {
	proc := newRecordingProcessor()
	proc.failTimes("c", 100)
	cfg := testConfig()
	cfg.PrimaryCapacity = 2

	b := New(cfg, proc, nil, testLogger())

	require.NoError(t, b.Enqueue(context.Background(), command("a")))
	require.NoError(t, b.Enqueue(context.Background(), command("b")))
	assert.Error(t, b.Enqueue(context.Background(), command("c")))
}

func TestBufferCloseFlushesQueues(t *testing.T) {
	proc := newRecordingProcessor()
	cfg := testConfig()
	// Slow the drains so Close has work left to flush.
	cfg.PrimaryInterval = time.Hour
	cfg.RetryInterval = time.Hour

	b := New(cfg, proc, nil, testLogger())
	b.Start(context.Background())

	for i := 0; i < 15; i++ {
		require.NoError(t, b.Enqueue(context.Background(), command(fmt.Sprintf("cmd-%d", i))))
	}

	b.Close()
	assert.Equal(t, 15, proc.count(), "close must flush all queued commands")
}

func TestBufferEvictsStaleCommands(t *testing.T) {
	proc := newRecordingProcessor()
	cfg := testConfig()
	cfg.PrimaryInterval = time.Hour // keep drains out of the way
	cfg.RetryInterval = time.Hour
	cfg.Eviction.MaxAge = 10 * time.Millisecond
	cfg.Eviction.Interval = 5 * time.Millisecond

	b := New(cfg, proc, nil, testLogger())

	stale := command("stale")
	stale.CreatedAt = time.Now().Add(-time.Minute)
	fresh := command("fresh")

	require.NoError(t, b.Enqueue(context.Background(), stale))
	require.NoError(t, b.Enqueue(context.Background(), fresh))

	b.Start(context.Background())
	waitFor(t, func() bool { return b.Status().Evicted == 1 })

	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()

	s := b.Status()
	assert.Equal(t, int64(1), s.Evicted)
	assert.Equal(t, 1, s.PrimaryDepth, "fresh command must survive eviction")
}

func TestBufferRequeueProcessesInlineWhenQueueRefilled(t *testing.T) {
	proc := newRecordingProcessor()
	cfg := testConfig()
	cfg.PrimaryCapacity = 1

	b := New(cfg, proc, nil, testLogger())

	// A producer grabbed the slot while the survivor was out of the queue.
	require.NoError(t, b.Enqueue(context.Background(), command("occupier")))

	b.requeue(context.Background(), b.primary, command("displaced"))

	assert.Equal(t, 1, proc.count(), "a displaced survivor must run inline, not block")
	assert.Equal(t, 1, b.Status().PrimaryDepth)
}

func TestStatusHealthClassification(t *testing.T) {
	tests := []struct {
		name string
		s    Status
		want Health
	}{
		{
			name: "idle",
			s:    Status{PrimaryCapacity: 100, RetryCapacity: 10},
			want: HealthHealthy,
		},
		{
			name: "high depth",
			s:    Status{PrimaryDepth: 75, PrimaryCapacity: 100, RetryCapacity: 10},
			want: HealthWarning,
		},
		{
			name: "near full",
			s:    Status{PrimaryDepth: 95, PrimaryCapacity: 100, RetryCapacity: 10},
			want: HealthCritical,
		},
		{
			name: "high failure rate",
			s:    Status{PrimaryCapacity: 100, RetryCapacity: 10, Processed: 40, Failed: 60},
			want: HealthCritical,
		},
		{
			name: "moderate rejections",
			s:    Status{PrimaryCapacity: 100, RetryCapacity: 10, Enqueued: 100, Rejected: 10},
			want: HealthWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.s))
		})
	}
}
