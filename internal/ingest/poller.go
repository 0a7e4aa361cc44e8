package ingest

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Dragonit3/ChimeraScan-sub000/internal/models"
)

// ChainClient is the node surface the poller reads. Satisfied by
// ethclient.Client.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
}

// maxBlocksPerPoll caps catch-up work after a stall so one poll cannot
// monopolize the node connection.
const maxBlocksPerPoll = 10

// Poller follows the chain head and feeds every transaction in new blocks
// through the analyzer.
type Poller struct {
	client   ChainClient
	analyzer Analyzer
	interval time.Duration
	logger   *zap.SugaredLogger

	signer    types.Signer
	lastBlock uint64
}

func NewPoller(client ChainClient, analyzer Analyzer, interval time.Duration, logger *zap.SugaredLogger) *Poller {
	return &Poller{client: client, analyzer: analyzer, interval: interval, logger: logger}
}

// Run polls until the context ends. The first poll starts from the current
// head rather than replaying history.
func (p *Poller) Run(ctx context.Context) error {
	chainID, err := p.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("resolve chain id: %w", err)
	}
	p.signer = types.LatestSignerForChainID(chainID)

	head, err := p.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("resolve chain head: %w", err)
	}
	p.lastBlock = head

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if p.logger != nil {
					p.logger.Warnw("block poll failed", "error", err)
				}
			}
		}
	}
}

func (p *Poller) poll(ctx context.Context) error {
	head, err := p.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("chain head: %w", err)
	}
	if head <= p.lastBlock {
		return nil
	}
	from := p.lastBlock + 1
	if head-p.lastBlock > maxBlocksPerPoll {
		from = head - maxBlocksPerPoll + 1
		if p.logger != nil {
			p.logger.Warnw("skipping blocks to catch up", "from", p.lastBlock+1, "resuming_at", from)
		}
	}
	for number := from; number <= head; number++ {
		block, err := p.client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		if err != nil {
			return fmt.Errorf("block %d: %w", number, err)
		}
		p.processBlock(ctx, block)
		p.lastBlock = number
	}
	return nil
}

func (p *Poller) processBlock(ctx context.Context, block *types.Block) {
	at := time.Unix(int64(block.Time()), 0).UTC()
	for _, tx := range block.Transactions() {
		event, err := EventFromChainTx(tx, p.signer, block.NumberU64(), at)
		if err != nil {
			if p.logger != nil {
				p.logger.Debugw("skipping chain transaction", "tx", tx.Hash().Hex(), "error", err)
			}
			continue
		}
		if _, err := p.analyzer.AnalyzeTransaction(ctx, event); err != nil && p.logger != nil {
			p.logger.Errorw("analysis failed for chain transaction", "tx", event.Hash, "error", err)
		}
	}
}

// EventFromChainTx normalizes a chain transaction into a transaction
// event. Contract creations keep an empty destination and flow through as
// contract interactions.
func EventFromChainTx(tx *types.Transaction, signer types.Signer, blockNumber uint64, at time.Time) (*models.TransactionEvent, error) {
	from, err := types.Sender(signer, tx)
	if err != nil {
		return nil, fmt.Errorf("recover sender: %w", err)
	}

	value := decimal.NewFromBigInt(tx.Value(), -18)      // wei to ether
	gasPrice := decimal.NewFromBigInt(tx.GasPrice(), -9) // wei to gwei
	txType := models.TxTypeTransfer
	if len(tx.Data()) > 0 {
		txType = models.TxTypeContractInteraction
	}
	toAddress := ""
	if to := tx.To(); to != nil {
		toAddress = to.Hex()
	} else {
		txType = models.TxTypeContractInteraction
	}
	return &models.TransactionEvent{
		Hash:            tx.Hash().Hex(),
		FromAddress:     from.Hex(),
		ToAddress:       toAddress,
		Value:           value,
		GasPrice:        gasPrice,
		Timestamp:       at,
		BlockNumber:     blockNumber,
		TransactionType: txType,
	}, nil
}
