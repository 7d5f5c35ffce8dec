// Package elastic mirrors terminal audit records into an elasticsearch
// index. The CSV audit file stays authoritative; this is for dashboards and
// cross-run queries.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/battledoge/batch-transfer/entities"
	"github.com/elastic/go-elasticsearch/v8"
)

type Client struct {
	index    string
	runID    string
	esClient *elasticsearch.Client
}

type attemptDocument struct {
	Timestamp   string `json:"timestamp"`
	RunID       string `json:"runId"`
	TransferNum int    `json:"transferNum"`
	ToAddress   string `json:"toAddress"`
	AmountHuman string `json:"amountHuman"`
	AmountRaw   string `json:"amountRaw"`
	TxHash      string `json:"txHash,omitempty"`
	Status      string `json:"status"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
	GasUsed     uint64 `json:"gasUsed,omitempty"`
	Error       string `json:"error,omitempty"`
}

func NewClient(address, index, runID string, timeout time.Duration) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{address},
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: timeout,
		},
	}

	esClient, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %v", err)
	}

	return &Client{
		index:    index,
		runID:    runID,
		esClient: esClient,
	}, nil
}

func (es *Client) PublishAttempts(ctx context.Context, attempts []entities.TransferAttempt) error {
	var buf bytes.Buffer

	for _, attempt := range attempts {
		// Metadata line for each document
		meta := []byte(fmt.Sprintf(`{ "index": { "_index": "%s", "_id": "%s-%d" } }%s`, es.index, es.runID, attempt.SequenceNumber, "\n"))
		buf.Write(meta)

		data, err := json.Marshal(attemptDocument{
			Timestamp:   attempt.Timestamp.UTC().Format(time.RFC3339),
			RunID:       es.runID,
			TransferNum: attempt.SequenceNumber,
			ToAddress:   attempt.Recipient.Address.Hex(),
			AmountHuman: attempt.Recipient.AmountHuman.String(),
			AmountRaw:   attempt.AmountRaw.String(),
			TxHash:      attempt.TxHash,
			Status:      string(attempt.Status),
			BlockNumber: attempt.BlockNumber,
			GasUsed:     attempt.GasUsed,
			Error:       attempt.Error,
		})
		if err != nil {
			return fmt.Errorf("error serializing attempt: %w", err)
		}
		buf.Write(data)
		buf.Write([]byte("\n")) // Add a newline between documents
	}

	// Send the bulk request
	res, err := es.esClient.Bulk(bytes.NewReader(buf.Bytes()), es.esClient.Bulk.WithContext(ctx), es.esClient.Bulk.WithRefresh("true"))
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()

	// Check response for errors
	if res.IsError() {
		return fmt.Errorf("bulk request error: %s", res.String())
	}

	return nil
}
