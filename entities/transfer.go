package entities

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Status is the terminal state of a single transfer attempt.
type Status string

const (
	StatusSimulated     Status = "SIMULATED"
	StatusSuccess       Status = "SUCCESS"
	StatusReverted      Status = "REVERTED"
	StatusTimeout       Status = "TIMEOUT"
	StatusContractError Status = "CONTRACT_ERROR"
	StatusError         Status = "ERROR"
)

// Failed reports whether the status counts against the run. Everything that
// is not a confirmed success or a dry-run simulation is a failure.
func (s Status) Failed() bool {
	return s != StatusSuccess && s != StatusSimulated
}

// RecipientEntry is one parsed `address, amount` pair. Immutable once parsed.
// AmountHuman is the amount without token decimals applied.
type RecipientEntry struct {
	Address     common.Address
	AmountHuman *big.Int
}

type FeeKind uint8

const (
	FeeLegacy FeeKind = iota
	FeeEIP1559
)

// FeeFields is a tagged union: either the EIP-1559 pair or the legacy gas
// price is set, never both.
type FeeFields struct {
	Kind                 FeeKind
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	GasPrice             *big.Int
}

// TransferAttempt tracks one recipient through the send state machine. It is
// created at the start of a loop iteration, mutated in place and written to
// the audit log exactly once, at its terminal state.
type TransferAttempt struct {
	SequenceNumber int
	Recipient      RecipientEntry
	AmountRaw      *big.Int
	Nonce          uint64
	Fees           FeeFields
	GasLimit       uint64
	TxHash         string
	Status         Status
	BlockNumber    uint64
	GasUsed        uint64
	Error          string
	Timestamp      time.Time
}

type ReceiptKind uint8

const (
	ReceiptConfirmed ReceiptKind = iota
	ReceiptReverted
	ReceiptTimedOut
	ReceiptFailed
)

// ReceiptOutcome is the closed set of results of waiting for a transaction
// receipt. The transaction consumed its nonce in every one of these cases.
type ReceiptOutcome struct {
	Kind        ReceiptKind
	BlockNumber uint64
	GasUsed     uint64
	Receipt     *types.Receipt
	Err         error
}

// TransferEvent is a decoded ERC-20 Transfer log.
type TransferEvent struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// Summary aggregates the terminal states of a run.
type Summary struct {
	TotalRecipients int
	Skipped         int
	Succeeded       int
	Failed          int
	Simulated       int
}

// Ok reports whether every attempt ended in SUCCESS or SIMULATED.
func (s Summary) Ok() bool {
	return s.Failed == 0
}

// Count records one terminal attempt status.
func (s *Summary) Count(status Status) {
	switch status {
	case StatusSimulated:
		s.Simulated++
	case StatusSuccess:
		s.Succeeded++
	default:
		s.Failed++
	}
}
