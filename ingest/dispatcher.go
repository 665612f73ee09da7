package ingest

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cdpfgl/server/backend"
	"github.com/cdpfgl/server/blockstore"
	"github.com/cdpfgl/server/metalog"
	"github.com/cdpfgl/server/stats"
)

type metadataUnit struct {
	correlationID string
	host          string
	record        metalog.Record
}

type blockUnit struct {
	correlationID string
	block         backend.BlockDescriptor
}

// Dispatcher owns the two process-wide queues and their writer
// goroutines. One Dispatcher is created at startup and shared by
// every request handler.
type Dispatcher struct {
	backend backend.Backend
	stats   *stats.Service
	log     *logrus.Entry

	metadataQueue *queue[metadataUnit]
	blockQueue    *queue[blockUnit]

	wg sync.WaitGroup
}

// New creates a Dispatcher and starts its two writer goroutines.
func New(b backend.Backend, s *stats.Service, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	d := &Dispatcher{
		backend:       b,
		stats:         s,
		log:           log.WithField("component", "ingest"),
		metadataQueue: newQueue[metadataUnit](),
		blockQueue:    newQueue[blockUnit](),
	}

	d.wg.Add(2)
	go d.metadataWriterLoop()
	go d.blockWriterLoop()

	return d
}

// SubmitMetadata enqueues a file-version record for host and returns
// immediately; ownership of record transfers to the queue.
func (d *Dispatcher) SubmitMetadata(host string, record metalog.Record) {
	id := uuid.New().String()
	d.log.WithFields(logrus.Fields{"correlation_id": id, "host": host}).Debug("metadata enqueued")
	d.metadataQueue.push(metadataUnit{correlationID: id, host: host, record: record})
}

// SubmitBlock enqueues a block and returns immediately; ownership of
// block transfers to the queue.
func (d *Dispatcher) SubmitBlock(block backend.BlockDescriptor) {
	id := uuid.New().String()
	d.log.WithFields(logrus.Fields{"correlation_id": id, "digest": block.Digest.String()}).Debug("block enqueued")
	d.blockQueue.push(blockUnit{correlationID: id, block: block})
}

// metadataWriterLoop is the single consumer of the metadata queue. It
// never dies: a panic while handling one record is recovered and
// logged, and the loop continues with the next pop.
func (d *Dispatcher) metadataWriterLoop() {
	defer d.wg.Done()
	for {
		unit, ok := d.metadataQueue.pop()
		if !ok {
			return
		}
		d.handleMetadata(unit)
	}
}

func (d *Dispatcher) handleMetadata(unit metadataUnit) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("correlation_id", unit.correlationID).Errorf("metadata writer recovered from panic: %v", r)
		}
	}()

	err := d.backend.StoreMetadata(context.Background(), unit.host, unit.record)
	if err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{
			"correlation_id": unit.correlationID,
			"host":           unit.host,
		}).Error("metadata append failed, record lost")
		return
	}
	if d.stats != nil {
		d.stats.IncrementFileCount()
		d.stats.AddMetadataBytes(uint64(len(metalog.Encode(unit.record))))
	}
}

// blockWriterLoop is the single consumer of the block queue, with the
// same never-die panic-recovery discipline as metadataWriterLoop.
func (d *Dispatcher) blockWriterLoop() {
	defer d.wg.Done()
	for {
		unit, ok := d.blockQueue.pop()
		if !ok {
			return
		}
		d.handleBlock(unit)
	}
}

func (d *Dispatcher) handleBlock(unit blockUnit) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("correlation_id", unit.correlationID).Errorf("block writer recovered from panic: %v", r)
		}
	}()

	ctx := context.Background()

	alreadyPresent := false
	if needed, err := d.backend.Needed(ctx, []blockstore.Digest{unit.block.Digest}); err != nil {
		d.log.WithError(err).WithField("correlation_id", unit.correlationID).Warn("dedup check failed, assuming block is new")
	} else {
		alreadyPresent = len(needed) == 0
	}

	err := d.backend.StoreBlock(ctx, unit.block)
	if err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{
			"correlation_id": unit.correlationID,
			"digest":         unit.block.Digest.String(),
		}).Error("block put failed, block lost")
		return
	}
	if d.stats == nil {
		return
	}
	if alreadyPresent {
		d.stats.AddDedupBytes(uint64(len(unit.block.Payload)))
	} else {
		d.stats.AddBytesStored(uint64(len(unit.block.Payload)))
	}
}

// Shutdown closes both queues, so the writers finish draining
// already-enqueued work, then waits for both writer goroutines to
// exit. In-flight work already popped completes before Shutdown
// returns; nothing new may be submitted once Shutdown has been
// called.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.metadataQueue.close()
	d.blockQueue.close()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepths reports the current length of both queues, for the
// stats/health surface.
func (d *Dispatcher) QueueDepths() (metadata, block int) {
	return d.metadataQueue.len(), d.blockQueue.len()
}
