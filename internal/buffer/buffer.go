package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/utafrali/flashsale/internal/domain"
)

// CommandProcessor executes one buffered write command.
type CommandProcessor interface {
	Process(ctx context.Context, cmd *domain.WriteCommand) error
}

// DeadLetterHandler receives commands that exhausted their retries or could
// not be re-queued. Implementations must not block for long.
type DeadLetterHandler func(ctx context.Context, cmd *domain.WriteCommand, cause error)

// EvictionPolicy drops commands that sat in a queue too long. Eviction is
// data loss and is therefore explicit: every evicted command is logged and
// counted.
type EvictionPolicy struct {
	MaxAge   time.Duration
	Interval time.Duration
}

// Config holds the buffer's queue and drain settings.
type Config struct {
	PrimaryCapacity int
	RetryCapacity   int
	PrimaryInterval time.Duration
	RetryInterval   time.Duration
	PrimaryBatch    int
	RetryBatch      int
	Eviction        EvictionPolicy
	ProcessTimeout  time.Duration
}

// DefaultConfig returns the production buffer settings.
func DefaultConfig() Config {
	return Config{
		PrimaryCapacity: 10000,
		RetryCapacity:   1000,
		PrimaryInterval: 50 * time.Millisecond,
		RetryInterval:   500 * time.Millisecond,
		PrimaryBatch:    100,
		RetryBatch:      50,
		Eviction: EvictionPolicy{
			MaxAge:   time.Hour,
			Interval: 5 * time.Minute,
		},
		ProcessTimeout: 5 * time.Second,
	}
}

// Buffer absorbs database writes off the purchase hot path. Commands drain in
// periodic batches; failures go to a bounded retry queue, and commands that
// exhaust their retries reach the dead-letter handler. A full primary queue
// degrades to synchronous inline execution rather than dropping the write.
type Buffer struct {
	cfg        Config
	processor  CommandProcessor
	deadLetter DeadLetterHandler
	logger     *slog.Logger

	primary chan *domain.WriteCommand
	retry   chan *domain.WriteCommand

	enqueued     atomic.Int64
	processed    atomic.Int64
	failed       atomic.Int64
	rejected     atomic.Int64
	evicted      atomic.Int64
	deadLettered atomic.Int64

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

// New creates a buffer. deadLetter may be nil; exhausted commands are then
// only logged and counted.
func New(cfg Config, processor CommandProcessor, deadLetter DeadLetterHandler, logger *slog.Logger) *Buffer {
	return &Buffer{
		cfg:        cfg,
		processor:  processor,
		deadLetter: deadLetter,
		logger:     logger,
		primary:    make(chan *domain.WriteCommand, cfg.PrimaryCapacity),
		retry:      make(chan *domain.WriteCommand, cfg.RetryCapacity),
	}
}

// Enqueue accepts a command without blocking. When the primary queue is full
// the command is executed synchronously inline so no write is silently lost;
// the rejection is counted as buffer pressure.
func (b *Buffer) Enqueue(ctx context.Context, cmd *domain.WriteCommand) error {
	b.enqueued.Add(1)

	select {
	case b.primary <- cmd:
		queueDepth.WithLabelValues("primary").Set(float64(len(b.primary)))
		return nil
	default:
	}

	b.rejected.Add(1)
	commandsTotal.WithLabelValues("rejected").Inc()
	b.logger.WarnContext(ctx, "write buffer full, executing command inline",
		slog.String("command_id", cmd.CommandID),
		slog.String("type", string(cmd.Type)),
	)

	if err := b.processOne(ctx, cmd); err != nil {
		return fmt.Errorf("inline execution of %s: %w", cmd.CommandID, err)
	}
	return nil
}

// Start launches the drain and eviction loops.
func (b *Buffer) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(3)
	go func() {
		defer b.wg.Done()
		b.drainLoop(ctx, b.primary, b.cfg.PrimaryInterval, b.cfg.PrimaryBatch, "primary")
	}()
	go func() {
		defer b.wg.Done()
		b.drainLoop(ctx, b.retry, b.cfg.RetryInterval, b.cfg.RetryBatch, "retry")
	}()
	go func() {
		defer b.wg.Done()
		b.evictionLoop(ctx)
	}()
}

// Close stops the loops and synchronously flushes everything still queued.
func (b *Buffer) Close() {
	b.once.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()
		b.Flush(context.Background())
	})
}

// Flush synchronously drains both queues until they are empty.
func (b *Buffer) Flush(ctx context.Context) int {
	flushed := 0
	for {
		n := b.drainBatch(ctx, b.primary, b.cfg.PrimaryCapacity, "primary")
		n += b.drainBatch(ctx, b.retry, b.cfg.RetryCapacity, "retry")
		flushed += n
		if n == 0 {
			return flushed
		}
	}
}

// Status returns a snapshot of queue depths, counters, and health.
func (b *Buffer) Status() Status {
	s := Status{
		PrimaryDepth:    len(b.primary),
		PrimaryCapacity: b.cfg.PrimaryCapacity,
		RetryDepth:      len(b.retry),
		RetryCapacity:   b.cfg.RetryCapacity,
		Enqueued:        b.enqueued.Load(),
		Processed:       b.processed.Load(),
		Failed:          b.failed.Load(),
		Rejected:        b.rejected.Load(),
		Evicted:         b.evicted.Load(),
		DeadLettered:    b.deadLettered.Load(),
	}
	s.Health = classify(s)
	return s
}

func (b *Buffer) drainLoop(ctx context.Context, queue chan *domain.WriteCommand, interval time.Duration, batch int, name string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.drainBatch(ctx, queue, batch, name)
		}
	}
}

func (b *Buffer) drainBatch(ctx context.Context, queue chan *domain.WriteCommand, batch int, name string) int {
	drained := 0
	for drained < batch {
		select {
		case cmd := <-queue:
			b.handle(ctx, cmd)
			drained++
		default:
			queueDepth.WithLabelValues(name).Set(float64(len(queue)))
			return drained
		}
	}
	queueDepth.WithLabelValues(name).Set(float64(len(queue)))
	return drained
}

func (b *Buffer) handle(ctx context.Context, cmd *domain.WriteCommand) {
	err := b.processOne(ctx, cmd)
	if err == nil {
		return
	}

	cmd.RetryCount++
	if cmd.CanRetry() {
		select {
		case b.retry <- cmd:
			return
		default:
			// Retry queue full counts as exhaustion.
		}
	}
	b.toDeadLetter(ctx, cmd, err)
}

func (b *Buffer) processOne(ctx context.Context, cmd *domain.WriteCommand) error {
	procCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.ProcessTimeout)
	defer cancel()

	if err := b.processor.Process(procCtx, cmd); err != nil {
		b.failed.Add(1)
		commandsTotal.WithLabelValues("failed").Inc()
		return err
	}
	b.processed.Add(1)
	commandsTotal.WithLabelValues("processed").Inc()
	return nil
}

func (b *Buffer) toDeadLetter(ctx context.Context, cmd *domain.WriteCommand, cause error) {
	b.deadLettered.Add(1)
	commandsTotal.WithLabelValues("dead_letter").Inc()
	b.logger.ErrorContext(ctx, "write command exhausted retries",
		slog.String("command_id", cmd.CommandID),
		slog.String("type", string(cmd.Type)),
		slog.Int("retry_count", cmd.RetryCount),
		slog.String("error", cause.Error()),
	)
	if b.deadLetter != nil {
		b.deadLetter(ctx, cmd, cause)
	}
}

func (b *Buffer) evictionLoop(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.Eviction.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.evictStale(ctx, b.primary, "primary")
			b.evictStale(ctx, b.retry, "retry")
		}
	}
}

// evictStale cycles through a queue once, dropping commands older than the
// policy's MaxAge and re-queueing the rest in order.
func (b *Buffer) evictStale(ctx context.Context, queue chan *domain.WriteCommand, name string) {
	now := time.Now()
	for i := len(queue); i > 0; i-- {
		select {
		case cmd := <-queue:
			if cmd.Age(now) > b.cfg.Eviction.MaxAge {
				b.evicted.Add(1)
				commandsTotal.WithLabelValues("evicted").Inc()
				b.logger.WarnContext(ctx, "evicting stale write command",
					slog.String("queue", name),
					slog.String("command_id", cmd.CommandID),
					slog.String("type", string(cmd.Type)),
					slog.Duration("age", cmd.Age(now)),
				)
				continue
			}
			b.requeue(ctx, queue, cmd)
		default:
			return
		}
	}
}

// requeue returns an eviction survivor to its queue. When a producer has
// refilled the freed slot in the meantime, the command runs inline instead of
// blocking the eviction loop on a full channel.
func (b *Buffer) requeue(ctx context.Context, queue chan *domain.WriteCommand, cmd *domain.WriteCommand) {
	select {
	case queue <- cmd:
	default:
		b.handle(ctx, cmd)
	}
}
