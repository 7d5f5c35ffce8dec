package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/battledoge/batch-transfer/business/domain/fees"
	"github.com/battledoge/batch-transfer/business/domain/recipients"
	"github.com/battledoge/batch-transfer/business/domain/transfer"
	"github.com/battledoge/batch-transfer/entities"
	"github.com/battledoge/batch-transfer/external/elastic"
	"github.com/battledoge/batch-transfer/external/ethereum"
	"github.com/battledoge/batch-transfer/infrastructure/audit"
	"github.com/battledoge/batch-transfer/infrastructure/store/pebbledb"
	"github.com/battledoge/batch-transfer/metrics"
	"github.com/ethereum/go-ethereum/params"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const prefix = "BATCH_TRANSFER"

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with error: %s", err.Error())
	}
}

func run() error {
	config := zap.NewProductionConfig()
	// this is just for sugar, to display a readable date instead of an epoch time
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.DateTime)

	logger, err := config.Build()
	if err != nil {
		return fmt.Errorf("creating logger: %v", err)
	}
	defer logger.Sync()
	sLogger := logger.Sugar()

	var cfg struct {
		RpcUrl              string        `conf:"default:https://rpc.mevblocker.io"`
		PrivateKey          string        `conf:"noprint"`
		TokenAddress        string        `conf:"default:0x2C724d1FcA1B3D471EBAa004a054621aF85D417C"`
		RecipientsFile      string        `conf:"default:recipients.txt"`
		DryRun              bool          `conf:"default:true"`
		SkipFirst           int           `conf:"default:0"`
		ExpectedDecimals    uint          `conf:"default:18"`
		AuditLogFile        string        `conf:"default:transfer_audit_log.csv"`
		InternalStoreFolder string        `conf:"default:store"`
		ReceiptTimeout      time.Duration `conf:"default:5m"`
		ReceiptPollInterval time.Duration `conf:"default:2s"`
		FallbackGasLimit    uint          `conf:"default:120000"`
		ServerListenAddr    string        `conf:"default:0.0.0.0:8000"`
		MetricsListenAddr   string        `conf:"default:0.0.0.0:9999"`
		MetricsNamespace    string        `conf:"default:batch_transfer"`
		Fees                struct {
			MaxFeeMultiplier float64 `conf:"default:2.0"`
			PriorityFeeGwei  float64 `conf:"optional"`
		}
		Elastic struct {
			Enabled bool   `conf:"default:false"`
			Address string `conf:"default:http://localhost:9200"`
			Index   string `conf:"default:batch-transfer-audit"`
		}
	}

	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %v", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %v", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %v", err)
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %v", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	key, err := ethereum.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return errors.Wrap(err, "loading sender key")
	}
	tokenAddress, _, err := recipients.NormalizeAddress(cfg.TokenAddress)
	if err != nil {
		return errors.Wrap(err, "validating token address")
	}

	ledger, err := ethereum.NewClient(cfg.RpcUrl, tokenAddress, key)
	if err != nil {
		return errors.Wrap(err, "creating ledger client")
	}
	defer ledger.Close()

	raw, err := os.ReadFile(cfg.RecipientsFile)
	if err != nil {
		return errors.Wrapf(err, "reading recipients file %q", cfg.RecipientsFile)
	}
	allRecipients, err := recipients.Parse(string(raw))
	if err != nil {
		return errors.Wrap(err, "parsing recipients")
	}
	if len(allRecipients) == 0 {
		return errors.Errorf("recipients file %q contains no entries", cfg.RecipientsFile)
	}

	runStore, err := pebbledb.NewRunStore(cfg.InternalStoreFolder)
	if err != nil {
		return errors.Wrap(err, "creating run store")
	}
	defer runStore.Close()

	batchID := cfg.RecipientsFile
	if last, err := runStore.GetLastCompletedIndex(batchID); err == nil && last > 0 && cfg.SkipFirst == 0 {
		sLogger.Warnf("a previous run for batch [%s] completed transfer %d; set %s_SKIP_FIRST=%d to resume after it", batchID, last, prefix, last)
	}
	if cfg.SkipFirst > 0 {
		sLogger.Warnf("skipping first %d recipients (resume mode)", cfg.SkipFirst)
	}
	remaining := recipients.ApplySkip(allRecipients, cfg.SkipFirst)

	csvLog, err := audit.OpenCSVLog(cfg.AuditLogFile)
	if err != nil {
		return errors.Wrap(err, "opening audit log")
	}
	defer csvLog.Close()

	var auditLog transfer.AuditLog = csvLog
	if cfg.Elastic.Enabled {
		runID := time.Now().UTC().Format("20060102T150405")
		mirror, err := elastic.NewClient(cfg.Elastic.Address, cfg.Elastic.Index, runID, 10*time.Second)
		if err != nil {
			return errors.Wrap(err, "creating elastic client")
		}
		auditLog = audit.NewMirroredLog(csvLog, mirror, sLogger)
	}

	var priorityFee *big.Int
	if cfg.Fees.PriorityFeeGwei > 0 {
		priorityFee = big.NewInt(int64(cfg.Fees.PriorityFeeGwei * params.GWei))
	}
	feeStrategy := fees.NewDynamicStrategy(ledger, cfg.Fees.MaxFeeMultiplier, priorityFee)

	operator := bufio.NewReader(os.Stdin)
	if !cfg.DryRun {
		fmt.Print("LIVE MODE: type 'SEND' to proceed with real transactions: ")
		answer, err := operator.ReadString('\n')
		if err != nil {
			return errors.Wrap(err, "reading live mode confirmation")
		}
		if strings.TrimSpace(answer) != "SEND" {
			return errors.New("aborted by operator")
		}
	}

	procMetrics := metrics.NewProcessingMetrics(cfg.MetricsNamespace)
	proc := transfer.NewProcessor(ledger, feeStrategy, auditLog, runStore, &stdinConfirmer{reader: operator},
		transfer.Config{
			ExpectedDecimals:    uint8(cfg.ExpectedDecimals),
			ReceiptTimeout:      cfg.ReceiptTimeout,
			ReceiptPollInterval: cfg.ReceiptPollInterval,
			FallbackGasLimit:    uint64(cfg.FallbackGasLimit),
			DryRun:              cfg.DryRun,
			SkipCount:           cfg.SkipFirst,
			BatchID:             batchID,
		}, procMetrics, sLogger)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	type runResult struct {
		summary entities.Summary
		err     error
	}
	procDone := make(chan runResult, 1)
	go func() {
		summary, err := proc.Run(context.Background(), remaining)
		procDone <- runResult{summary: summary, err: err}
	}()

	http.HandleFunc("/v1/status", func(w http.ResponseWriter, r *http.Request) {
		batchesLastCompletedIndex, err := runStore.GetLastCompletedIndexForAllBatches()
		if err != nil {
			http.Error(w, fmt.Sprintf("getting last completed index for all batches: %v", err), http.StatusInternalServerError)
			return
		}
		response := map[string]map[string]uint32{
			"lastCompletedIndexes": batchesLastCompletedIndex,
		}
		data, err := json.Marshal(response)
		if err != nil {
			http.Error(w, fmt.Sprintf("marshalling response: %v", err), http.StatusInternalServerError)
		}
		w.Header().Set("Content-Type", "application/json")
		_, err = w.Write(data)
		if err != nil {
			http.Error(w, fmt.Sprintf("writing response: %v", err), http.StatusInternalServerError)
			return
		}
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- http.ListenAndServe(cfg.ServerListenAddr, nil)
	}()

	metricsErr := make(chan error, 1)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsErr <- http.ListenAndServe(cfg.MetricsListenAddr, mux)
	}()

	for {
		select {
		case <-shutdown:
			return errors.New("shutting down")
		case result := <-procDone:
			if result.err != nil {
				return errors.Wrap(result.err, "processing")
			}
			s := result.summary
			sLogger.Infof("summary: %d succeeded, %d failed, %d simulated (audit log: %s)",
				s.Succeeded, s.Failed, s.Simulated, cfg.AuditLogFile)
			if !s.Ok() {
				return errors.Errorf("%d transfer(s) did not succeed, see audit log %s", s.Failed, cfg.AuditLogFile)
			}
			return nil
		case err := <-serverErr:
			return fmt.Errorf("server error: %v", err)
		case err := <-metricsErr:
			return fmt.Errorf("metrics server error: %v", err)
		}
	}
}

// stdinConfirmer is the inter-transfer operator checkpoint: it blocks until
// the operator presses enter.
type stdinConfirmer struct {
	reader *bufio.Reader
}

func (c *stdinConfirmer) Confirm(_ context.Context) error {
	fmt.Print("Press Enter to continue to next transfer...")
	if _, err := c.reader.ReadString('\n'); err != nil {
		return errors.Wrap(err, "reading operator confirmation")
	}
	return nil
}
