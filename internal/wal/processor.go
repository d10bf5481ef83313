package wal

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/utafrali/flashsale/internal/domain"
	"github.com/utafrali/flashsale/internal/repository"
)

const (
	// Payloads above this size are gzip-compressed in the backup copy.
	compressThreshold = 1024

	defaultQueueSize = 1000
	defaultWorkers   = 2

	processTimeout = 5 * time.Second
)

// Processor performs best-effort post-processing of appended WAL entries off
// the hot path: payload compression for large entries and a backup copy in a
// secondary table. Processing failures are logged and counted, never
// propagated — the primary record is already durable.
type Processor struct {
	repo    repository.WALRepository
	logger  *slog.Logger
	queue   chan *domain.WALEntry
	workers int
	wg      sync.WaitGroup
}

// NewProcessor creates an async processor with a bounded queue.
func NewProcessor(repo repository.WALRepository, logger *slog.Logger) *Processor {
	return &Processor{
		repo:    repo,
		logger:  logger,
		queue:   make(chan *domain.WALEntry, defaultQueueSize),
		workers: defaultWorkers,
	}
}

// Submit hands an entry to the processor without blocking. When the queue is
// full the entry is dropped; only the backup copy is lost, the primary row
// is already written.
func (p *Processor) Submit(entry *domain.WALEntry) {
	select {
	case p.queue <- entry:
	default:
		processorDroppedTotal.Inc()
		p.logger.Warn("wal processor queue full, dropping backup",
			slog.String("log_id", entry.LogID),
		)
	}
}

// Start launches the worker pool. Workers stop after Close drains the queue.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for entry := range p.queue {
				p.process(ctx, entry)
			}
		}()
	}
}

// Close stops accepting entries, waits for the queue to drain, and returns.
func (p *Processor) Close() {
	close(p.queue)
	p.wg.Wait()
}

func (p *Processor) process(ctx context.Context, entry *domain.WALEntry) {
	procCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), processTimeout)
	defer cancel()

	backup := *entry
	if compressed, err := p.compressPayloads(&backup); err != nil {
		p.logger.Warn("wal payload compression failed",
			slog.String("log_id", entry.LogID),
			slog.String("error", err.Error()),
		)
	} else if compressed {
		compressedTotal.Inc()
	}

	if err := p.repo.InsertBackup(procCtx, &backup); err != nil {
		p.logger.Warn("wal backup write failed",
			slog.String("log_id", entry.LogID),
			slog.String("error", err.Error()),
		)
	}
}

// compressPayloads gzips before/after payloads above the threshold and marks
// the entry compressed. Returns whether any payload was compressed.
func (p *Processor) compressPayloads(entry *domain.WALEntry) (bool, error) {
	compressed := false

	if len(entry.BeforeData) > compressThreshold {
		data, err := gzipBytes(entry.BeforeData)
		if err != nil {
			return compressed, err
		}
		entry.BeforeData = data
		compressed = true
	}
	if len(entry.AfterData) > compressThreshold {
		data, err := gzipBytes(entry.AfterData)
		if err != nil {
			return compressed, err
		}
		entry.AfterData = data
		compressed = true
	}

	entry.Compressed = compressed
	return compressed, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}
