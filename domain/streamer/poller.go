package streamer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/qubic/hive-streamer/entities"
	"go.uber.org/zap"
)

type StateStore interface {
	GetLastProcessedBlock() (uint64, error)
	SetLastProcessedBlock(blockNumber uint64) error
}

type OperationProcessor interface {
	Process(ctx context.Context, op entities.Operation, meta entities.OperationMeta) error
}

type Config struct {
	PollInterval        time.Duration
	BlocksBehindWarning uint64
	// FetchTimeout bounds every single gateway call.
	FetchTimeout time.Duration
	// BaseTimeout is multiplied by the failover attempt when dialing the next node.
	BaseTimeout time.Duration
	// StartBlock, when set, is the next block processed regardless of the persisted position.
	StartBlock uint64
}

// Poller processes the ledger one block at a time. The position only moves forward after the
// block was fully dispatched and persisted, so a failed block is processed again.
type Poller struct {
	cfg        Config
	conn       *Connection
	store      StateStore
	processor  OperationProcessor
	scheduler  Scheduler
	metrics    *Metrics
	logger     *zap.SugaredLogger
	lastBlock  uint64
	attempts   int
	errorCount uint
	stopped    atomic.Bool
	mu         sync.Mutex
	cancelWait context.CancelFunc
}

func NewPoller(cfg Config, conn *Connection, store StateStore, processor OperationProcessor, scheduler Scheduler, m *Metrics, logger *zap.SugaredLogger) *Poller {
	return &Poller{
		cfg:       cfg,
		conn:      conn,
		store:     store,
		processor: processor,
		scheduler: scheduler,
		metrics:   m,
		logger:    logger,
	}
}

// Start runs the polling loop until Stop is called or ctx is done.
func (p *Poller) Start(ctx context.Context) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.mu.Lock()
	p.cancelWait = cancel
	p.mu.Unlock()

	err := p.loadPosition()
	if err != nil {
		return errors.Wrap(err, "loading last processed block")
	}
	p.logger.Infow("Starting block poller", "lastProcessedBlock", p.lastBlock, "node", p.conn.Endpoint())

	for {
		if p.stopped.Load() {
			p.logger.Infow("Block poller stopped", "lastProcessedBlock", p.lastBlock)
			return nil
		}

		err = p.runCycle(ctx)
		switch {
		case err == nil:
			p.resetErrorCount()
		case errors.Is(err, entities.ErrDataUnavailable):
			p.resetErrorCount()
			p.logger.Debugw("Waiting for ledger data", "reason", err)
		case entities.IsTransientNetwork(err):
			if p.failover(err) {
				continue
			}
			p.incrementErrorCount()
		default:
			p.incrementErrorCount()
			p.logger.Errorw("Error processing cycle", "lastProcessedBlock", p.lastBlock, "error", err)
		}

		err = p.scheduler.Wait(waitCtx, p.cfg.PollInterval)
		if err != nil {
			if p.stopped.Load() || ctx.Err() != nil {
				p.logger.Infow("Block poller stopped", "lastProcessedBlock", p.lastBlock)
				return nil
			}
			return errors.Wrap(err, "waiting for next cycle")
		}
	}
}

// Stop prevents further cycles and interrupts a pending wait. A block that is being processed completes.
func (p *Poller) Stop() {
	p.stopped.Store(true)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelWait != nil {
		p.cancelWait()
	}
}

func (p *Poller) loadPosition() error {
	if p.cfg.StartBlock > 0 {
		p.lastBlock = p.cfg.StartBlock - 1
		return nil
	}

	lastBlock, err := p.store.GetLastProcessedBlock()
	if errors.Is(err, entities.ErrStoreEntityNotFound) {
		p.lastBlock = 0
		return nil
	}
	if err != nil {
		return err
	}
	p.lastBlock = lastBlock
	return nil
}

func (p *Poller) runCycle(ctx context.Context) error {
	gateway := p.conn.Gateway()

	props, err := p.headProperties(ctx, gateway)
	if err != nil {
		return errors.Wrap(err, "getting head block")
	}
	head := props.HeadBlockNumber
	p.metrics.SetHeadBlock(head)

	if p.lastBlock == 0 && head > 0 {
		p.lastBlock = head - 1
		p.logger.Infow("No processed block found. Starting below head.", "head", head, "lastProcessedBlock", p.lastBlock)
	}

	if p.cfg.BlocksBehindWarning > 0 && head >= p.lastBlock+p.cfg.BlocksBehindWarning {
		p.logger.Warnw("Processing is behind the ledger head", "head", head, "lastProcessedBlock", p.lastBlock, "behind", head-p.lastBlock)
	}

	if p.stopped.Load() {
		return nil
	}

	next := p.lastBlock + 1
	if next > head {
		return errors.Wrapf(entities.ErrDataUnavailable, "block [%d] above head [%d]", next, head)
	}

	block, err := p.block(ctx, gateway, next)
	if err != nil {
		return errors.Wrapf(err, "getting block [%d]", next)
	}

	err = p.processBlock(ctx, block)
	if err != nil {
		return errors.Wrapf(err, "processing block [%d]", next)
	}

	err = p.store.SetLastProcessedBlock(next)
	if err != nil {
		return errors.Wrapf(err, "storing last processed block [%d]", next)
	}
	p.lastBlock = next
	p.metrics.SetProcessedBlock(next)
	return nil
}

func (p *Poller) processBlock(ctx context.Context, block entities.Block) error {
	var count int
	for _, transaction := range block.Transactions {
		meta := entities.OperationMeta{
			BlockNumber:     block.Number,
			BlockID:         block.ID,
			PreviousBlockID: block.PreviousID,
			TransactionID:   transaction.ID,
			BlockTime:       block.Timestamp,
		}
		for index, op := range transaction.Operations {
			meta.OperationIndex = index
			err := p.processor.Process(ctx, op, meta)
			if err != nil {
				return errors.Wrapf(err, "dispatching %s operation of transaction [%s]", op.OperationType(), transaction.ID)
			}
			count++
		}
	}
	p.metrics.AddDispatchedOperations(count)
	p.logger.Debugw("Processed block", "block", block.Number, "transactions", len(block.Transactions), "operations", count)
	return nil
}

// failover switches to the next api node and reports whether the cycle should be retried
// immediately. Every other node is tried once before giving up for this interval.
func (p *Poller) failover(cause error) bool {
	if p.attempts >= p.conn.Size()-1 {
		p.logger.Errorw("All api nodes failed", "node", p.conn.Endpoint(), "error", cause)
		p.attempts = 0
		return false
	}

	p.attempts++
	timeout := p.cfg.BaseTimeout * time.Duration(p.attempts)
	previous := p.conn.Endpoint()
	endpoint, err := p.conn.Rotate(timeout)
	p.metrics.IncFailover()
	if err != nil {
		p.logger.Errorw("Failed to switch api node", "node", endpoint, "error", err)
		return true
	}
	p.logger.Warnw("Switched api node", "from", previous, "to", endpoint, "attempt", p.attempts, "timeout", timeout, "error", cause)
	return true
}

func (p *Poller) headProperties(ctx context.Context, gateway Gateway) (entities.GlobalProperties, error) {
	ctx, cancel := p.fetchContext(ctx)
	defer cancel()
	return gateway.GetDynamicGlobalProperties(ctx)
}

func (p *Poller) block(ctx context.Context, gateway Gateway, blockNumber uint64) (entities.Block, error) {
	ctx, cancel := p.fetchContext(ctx)
	defer cancel()
	return gateway.GetBlock(ctx, blockNumber)
}

func (p *Poller) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.FetchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.FetchTimeout)
}

func (p *Poller) resetErrorCount() {
	p.attempts = 0
	p.errorCount = 0
	p.metrics.SetErrorCount(0)
}

func (p *Poller) incrementErrorCount() {
	p.errorCount++
	p.metrics.SetErrorCount(p.errorCount)
}
