package audit

import (
	"context"

	"github.com/battledoge/batch-transfer/entities"
	"go.uber.org/zap"
)

// Mirror receives a copy of every terminal attempt, e.g. for indexing into a
// search cluster.
type Mirror interface {
	PublishAttempts(ctx context.Context, attempts []entities.TransferAttempt) error
}

// MirroredLog forwards each row to a mirror after the CSV write. Mirror
// failures are logged and swallowed: the CSV file stays authoritative.
type MirroredLog struct {
	csv    *CSVLog
	mirror Mirror
	logger *zap.SugaredLogger
}

func NewMirroredLog(csv *CSVLog, mirror Mirror, logger *zap.SugaredLogger) *MirroredLog {
	return &MirroredLog{csv: csv, mirror: mirror, logger: logger}
}

func (l *MirroredLog) Write(attempt entities.TransferAttempt) error {
	if err := l.csv.Write(attempt); err != nil {
		return err
	}
	if err := l.mirror.PublishAttempts(context.Background(), []entities.TransferAttempt{attempt}); err != nil {
		l.logger.Warnf("mirroring audit row for transfer %d: %v", attempt.SequenceNumber, err)
	}
	return nil
}

func (l *MirroredLog) Close() error {
	return l.csv.Close()
}
