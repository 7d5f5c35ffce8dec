// Package audit is the append-only record of every transfer attempt. The CSV
// file is the authoritative trail; each row is written and flushed at the
// attempt's terminal state, so a crash loses at most the in-flight attempt.
package audit

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"github.com/battledoge/batch-transfer/entities"
	"github.com/pkg/errors"
)

var header = []string{
	"timestamp", "transfer_num", "to_address", "amount_human",
	"amount_raw", "tx_hash", "status", "block_number", "gas_used", "error",
}

type CSVLog struct {
	file   *os.File
	writer *csv.Writer
}

// OpenCSVLog opens the audit file for appending. The header row is written
// only when the file is fresh; reopening never truncates prior rows.
func OpenCSVLog(path string) (*CSVLog, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening audit log %q", path)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "checking audit log state")
	}

	log := &CSVLog{file: file, writer: csv.NewWriter(file)}
	if info.Size() == 0 {
		if err := log.writer.Write(header); err != nil {
			file.Close()
			return nil, errors.Wrap(err, "writing audit header")
		}
		if err := log.flush(); err != nil {
			file.Close()
			return nil, err
		}
	}
	return log, nil
}

// Write appends one terminal attempt row and flushes it to disk.
func (l *CSVLog) Write(attempt entities.TransferAttempt) error {
	row := []string{
		attempt.Timestamp.UTC().Format(time.RFC3339),
		strconv.Itoa(attempt.SequenceNumber),
		attempt.Recipient.Address.Hex(),
		attempt.Recipient.AmountHuman.String(),
		attempt.AmountRaw.String(),
		attempt.TxHash,
		string(attempt.Status),
		blankIfZero(attempt.BlockNumber),
		blankIfZero(attempt.GasUsed),
		attempt.Error,
	}
	if err := l.writer.Write(row); err != nil {
		return errors.Wrapf(err, "writing audit row for transfer %d", attempt.SequenceNumber)
	}
	return l.flush()
}

func (l *CSVLog) flush() error {
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return errors.Wrap(err, "flushing audit log")
	}
	if err := l.file.Sync(); err != nil {
		return errors.Wrap(err, "syncing audit log")
	}
	return nil
}

func (l *CSVLog) Close() error {
	l.writer.Flush()
	return l.file.Close()
}

func blankIfZero(v uint64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatUint(v, 10)
}
