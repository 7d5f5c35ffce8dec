// Package transfer drives the batch: one transfer at a time, build, sign,
// broadcast, confirm, audit, then wait for the operator before the next one.
package transfer

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/battledoge/batch-transfer/entities"
	"github.com/battledoge/batch-transfer/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// LedgerClient is the external collaborator doing all network work: reads,
// gas estimation, signing, broadcast and receipt polling.
type LedgerClient interface {
	Probe(ctx context.Context) error
	ChainID() *big.Int
	LatestBlockNumber(ctx context.Context) (uint64, error)
	Sender() common.Address
	Token() common.Address
	NativeBalance(ctx context.Context) (*big.Int, error)
	TokenName(ctx context.Context) (string, error)
	TokenSymbol(ctx context.Context) (string, error)
	TokenDecimals(ctx context.Context) (uint8, error)
	TokenBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	PendingNonce(ctx context.Context) (uint64, error)
	EstimateTransferGas(ctx context.Context, to common.Address, amount *big.Int) (uint64, error)
	SignTransfer(to common.Address, amount *big.Int, nonce, gasLimit uint64, fees entities.FeeFields) (*types.Transaction, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error)
	WaitForReceipt(ctx context.Context, hash common.Hash, timeout, pollInterval time.Duration) entities.ReceiptOutcome
	DecodeTransferEvent(receipt *types.Receipt) (*entities.TransferEvent, error)
}

type FeeStrategy interface {
	ComputeFees(ctx context.Context) (entities.FeeFields, error)
}

type AuditLog interface {
	Write(attempt entities.TransferAttempt) error
}

type RunStore interface {
	SetLastCompletedIndex(batchID string, index uint32) error
}

// Confirmer is the operator checkpoint between live transfers. Production
// wires it to stdin; tests stub it out.
type Confirmer interface {
	Confirm(ctx context.Context) error
}

const (
	DefaultExpectedDecimals    = 18
	DefaultReceiptTimeout      = 5 * time.Minute
	DefaultReceiptPollInterval = 2 * time.Second
	DefaultFallbackGasLimit    = 120_000

	gasBufferPercent = 15
)

type Config struct {
	ExpectedDecimals    uint8
	ReceiptTimeout      time.Duration
	ReceiptPollInterval time.Duration
	FallbackGasLimit    uint64
	DryRun              bool
	SkipCount           int
	BatchID             string
}

type Processor struct {
	ledger            LedgerClient
	feeStrategy       FeeStrategy
	auditLog          AuditLog
	runStore          RunStore
	confirmer         Confirmer
	cfg               Config
	processingMetrics *metrics.ProcessingMetrics
	logger            *zap.SugaredLogger
}

func NewProcessor(ledger LedgerClient, feeStrategy FeeStrategy, auditLog AuditLog, runStore RunStore,
	confirmer Confirmer, cfg Config, m *metrics.ProcessingMetrics, logger *zap.SugaredLogger) *Processor {

	if cfg.ExpectedDecimals == 0 {
		cfg.ExpectedDecimals = DefaultExpectedDecimals
	}
	if cfg.ReceiptTimeout == 0 {
		cfg.ReceiptTimeout = DefaultReceiptTimeout
	}
	if cfg.ReceiptPollInterval == 0 {
		cfg.ReceiptPollInterval = DefaultReceiptPollInterval
	}
	if cfg.FallbackGasLimit == 0 {
		cfg.FallbackGasLimit = DefaultFallbackGasLimit
	}
	return &Processor{
		ledger:            ledger,
		feeStrategy:       feeStrategy,
		auditLog:          auditLog,
		runStore:          runStore,
		confirmer:         confirmer,
		cfg:               cfg,
		processingMetrics: m,
		logger:            logger,
	}
}

// Run sends one transfer per recipient, strictly in order. recipientList is
// the already skip-trimmed sequence; SkipCount only offsets the audit
// numbering. The returned error is non-nil only for fatal conditions; a
// failed individual transfer is reported through the summary.
func (p *Processor) Run(ctx context.Context, recipientList []entities.RecipientEntry) (entities.Summary, error) {
	summary := entities.Summary{
		TotalRecipients: len(recipientList) + p.cfg.SkipCount,
		Skipped:         p.cfg.SkipCount,
	}

	pre, err := p.preflight(ctx, recipientList)
	if err != nil {
		return summary, err
	}
	if len(recipientList) == 0 {
		p.logger.Warn("no recipients to process")
		return summary, nil
	}

	nonce := pre.startNonce
	for i, entry := range recipientList {
		sequence := i + 1 + p.cfg.SkipCount
		remaining := len(recipientList) - i - 1

		attempt := entities.TransferAttempt{
			SequenceNumber: sequence,
			Recipient:      entry,
			AmountRaw:      rawAmount(entry.AmountHuman, pre.decimals),
			Nonce:          nonce,
			Timestamp:      time.Now().UTC(),
		}
		p.processingMetrics.SetCurrentTransfer(sequence)
		p.processingMetrics.SetAccountNonce(nonce)
		p.logger.Infof("transfer %d/%d: %s %s to %s (raw %s), nonce %d",
			sequence, summary.TotalRecipients, entry.AmountHuman, pre.symbol, entry.Address.Hex(), attempt.AmountRaw, nonce)

		if p.cfg.DryRun {
			// never estimates, signs or broadcasts; the local nonce still
			// advances to keep the sequence preview realistic
			attempt.Status = entities.StatusSimulated
			p.logger.Infof("[DRY-RUN] transfer %d simulated, %d remaining", sequence, remaining)
			nonce++
		} else if broadcast := p.attemptTransfer(ctx, &attempt); broadcast {
			// broadcast alone consumed the nonce slot, whatever the outcome
			nonce++
		} else {
			// nothing consumed this nonce; the network pending count is the
			// source of truth, not the local counter
			resynced, nonceErr := p.ledger.PendingNonce(ctx)
			if nonceErr != nil {
				if auditErr := p.record(&summary, attempt); auditErr != nil {
					return summary, auditErr
				}
				return summary, errors.Wrap(nonceErr, "resynchronizing nonce")
			}
			nonce = resynced
		}

		if err := p.record(&summary, attempt); err != nil {
			return summary, err
		}
		p.logger.Infof("transfer %d finished with status %s, %d remaining", sequence, attempt.Status, remaining)

		if !p.cfg.DryRun && remaining > 0 {
			if err := p.confirmer.Confirm(ctx); err != nil {
				return summary, errors.Wrap(err, "waiting for operator confirmation")
			}
		}
	}

	p.logger.Infof("batch finished: %d succeeded, %d failed, %d simulated",
		summary.Succeeded, summary.Failed, summary.Simulated)
	return summary, nil
}

type preflightState struct {
	decimals   uint8
	symbol     string
	startNonce uint64
}

// preflight verifies the fatal preconditions before the first attempt:
// reachable endpoint, expected token decimals and a balance covering the
// whole planned batch.
func (p *Processor) preflight(ctx context.Context, recipientList []entities.RecipientEntry) (*preflightState, error) {
	if err := p.ledger.Probe(ctx); err != nil {
		return nil, errors.Wrap(err, "probing ledger endpoint")
	}

	latestBlock, err := p.ledger.LatestBlockNumber(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading latest block")
	}

	name, err := p.ledger.TokenName(ctx)
	if err != nil {
		name = "(name unavailable)"
	}
	symbol, err := p.ledger.TokenSymbol(ctx)
	if err != nil {
		symbol = "(symbol unavailable)"
	}

	decimals, err := p.ledger.TokenDecimals(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading token decimals")
	}
	if decimals != p.cfg.ExpectedDecimals {
		return nil, errors.Errorf("token decimals is %d, expected %d, aborting to avoid wrong sends",
			decimals, p.cfg.ExpectedDecimals)
	}

	nativeBalance, err := p.ledger.NativeBalance(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading native balance")
	}
	tokenBalance, err := p.ledger.TokenBalance(ctx, p.ledger.Sender())
	if err != nil {
		return nil, errors.Wrap(err, "reading token balance")
	}

	totalHuman := big.NewInt(0)
	for _, entry := range recipientList {
		totalHuman.Add(totalHuman, entry.AmountHuman)
	}
	required := rawAmount(totalHuman, decimals)
	if tokenBalance.Cmp(required) < 0 {
		short := new(big.Int).Sub(required, tokenBalance)
		return nil, errors.Errorf("insufficient token balance: short by %s raw units", short)
	}

	startNonce, err := p.ledger.PendingNonce(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading starting nonce")
	}

	p.logger.Infow("batch preconditions checked",
		"chainId", p.ledger.ChainID(),
		"latestBlock", latestBlock,
		"sender", p.ledger.Sender().Hex(),
		"token", name,
		"symbol", symbol,
		"tokenAddress", p.ledger.Token().Hex(),
		"decimals", decimals,
		"nativeBalance", nativeBalance,
		"tokenBalance", tokenBalance,
		"recipients", len(recipientList),
		"skipped", p.cfg.SkipCount,
		"totalAmount", totalHuman,
		"startNonce", startNonce,
		"dryRun", p.cfg.DryRun,
	)

	return &preflightState{decimals: decimals, symbol: symbol, startNonce: startNonce}, nil
}

// attemptTransfer runs one attempt through the state machine and reports
// whether the transaction reached broadcast (i.e. consumed its nonce).
func (p *Processor) attemptTransfer(ctx context.Context, attempt *entities.TransferAttempt) bool {
	fees, err := p.feeStrategy.ComputeFees(ctx)
	if err != nil {
		attempt.Status = entities.StatusError
		attempt.Error = errors.Wrap(err, "computing fees").Error()
		return false
	}
	attempt.Fees = fees

	gasLimit := p.cfg.FallbackGasLimit
	estimate, err := p.ledger.EstimateTransferGas(ctx, attempt.Recipient.Address, attempt.AmountRaw)
	if err != nil {
		p.logger.Warnf("gas estimate failed (%v), using fallback gas limit %d", err, gasLimit)
	} else {
		gasLimit = estimate + estimate*gasBufferPercent/100
	}
	attempt.GasLimit = gasLimit

	signed, err := p.ledger.SignTransfer(attempt.Recipient.Address, attempt.AmountRaw, attempt.Nonce, gasLimit, fees)
	if err != nil {
		attempt.Status = entities.StatusError
		attempt.Error = errors.Wrap(err, "signing transaction").Error()
		return false
	}

	hash, err := p.ledger.SendTransaction(ctx, signed)
	if err != nil {
		attempt.Status = classifyBroadcastError(err)
		attempt.Error = err.Error()
		return false
	}
	attempt.TxHash = hash.Hex()
	p.logger.Infof("transfer %d broadcast: %s", attempt.SequenceNumber, attempt.TxHash)

	outcome := p.ledger.WaitForReceipt(ctx, hash, p.cfg.ReceiptTimeout, p.cfg.ReceiptPollInterval)
	switch outcome.Kind {
	case entities.ReceiptConfirmed:
		attempt.Status = entities.StatusSuccess
		attempt.BlockNumber = outcome.BlockNumber
		attempt.GasUsed = outcome.GasUsed
		p.logTransferEvent(outcome.Receipt)
	case entities.ReceiptReverted:
		attempt.Status = entities.StatusReverted
		attempt.BlockNumber = outcome.BlockNumber
		attempt.GasUsed = outcome.GasUsed
	case entities.ReceiptTimedOut:
		attempt.Status = entities.StatusTimeout
		attempt.Error = "receipt timeout - tx may still be pending"
	default:
		attempt.Status = entities.StatusError
		if outcome.Err != nil {
			attempt.Error = outcome.Err.Error()
		}
	}
	return true
}

// record writes the terminal attempt to the audit log, advances the
// persisted run cursor and updates the counters.
func (p *Processor) record(summary *entities.Summary, attempt entities.TransferAttempt) error {
	if err := p.auditLog.Write(attempt); err != nil {
		return errors.Wrapf(err, "writing audit row for transfer %d", attempt.SequenceNumber)
	}
	if err := p.runStore.SetLastCompletedIndex(p.cfg.BatchID, uint32(attempt.SequenceNumber)); err != nil {
		p.logger.Warnf("storing last completed index [%d]: %v", attempt.SequenceNumber, err)
	}

	summary.Count(attempt.Status)
	switch attempt.Status {
	case entities.StatusSimulated:
		p.processingMetrics.IncSimulated()
	case entities.StatusSuccess:
		p.processingMetrics.IncSucceeded()
	default:
		p.processingMetrics.IncFailed()
	}
	return nil
}

// logTransferEvent prints the decoded Transfer log for human confirmation.
// Best effort: decode failure never changes an attempt's status.
func (p *Processor) logTransferEvent(receipt *types.Receipt) {
	event, err := p.ledger.DecodeTransferEvent(receipt)
	if err != nil {
		return
	}
	p.logger.Infof("transfer event: %s -> %s : %s raw units", event.From.Hex(), event.To.Hex(), event.Value)
}

func classifyBroadcastError(err error) entities.Status {
	if strings.Contains(err.Error(), "execution reverted") {
		return entities.StatusContractError
	}
	return entities.StatusError
}

func rawAmount(human *big.Int, decimals uint8) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Int).Mul(human, scale)
}
