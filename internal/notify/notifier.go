package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/avoronin/affiliate-ledger/pkg/clients"
)

const (
	maxRetries    = 3
	retryInterval = time.Second * 1
	poolSize      = 4
)

type alertPayload struct {
	Subject  string         `json:"subject"`
	Details  map[string]any `json:"details,omitempty"`
	RaisedAt time.Time      `json:"raised_at"`
}

// Notifier posts admin alerts to a webhook. Alerts are advisory: the ledger
// operation that raised one has already been decided, so delivery is
// asynchronous and failures are only logged.
type Notifier struct {
	url    string
	client clients.HTTPClientI
	pool   *WorkerPool
}

func New(url string, client clients.HTTPClientI) *Notifier {
	return &Notifier{
		url:    url,
		client: client,
		pool:   NewWorkerPool(poolSize),
	}
}

func (n *Notifier) Alert(ctx context.Context, subject string, details map[string]any) {
	if n.url == "" {
		zap.L().Warn("alert webhook not configured, dropping alert", zap.String("subject", subject))
		return
	}

	payload, err := json.Marshal(alertPayload{
		Subject:  subject,
		Details:  details,
		RaisedAt: time.Now(),
	})
	if err != nil {
		zap.L().Error("can't encode alert", zap.Error(err))
		return
	}

	if err := n.pool.AddTask(ctx, func() error {
		return n.post(payload)
	}); err != nil {
		zap.L().Error("can't queue alert", zap.Error(err), zap.String("subject", subject))
	}
}

func (n *Notifier) post(payload []byte) error {
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		var statusCode int
		statusCode, err = n.client.Post(n.url, "application/json", bytes.NewReader(payload))
		if err == nil {
			if statusCode < http.StatusBadRequest {
				return nil
			}
			if statusCode < http.StatusInternalServerError {
				return fmt.Errorf("alert webhook rejected payload with status %d", statusCode)
			}
			err = fmt.Errorf("alert webhook returned status %d", statusCode)
		}
		if attempt < maxRetries {
			time.Sleep(retryInterval * time.Duration(attempt))
		}
	}
	return fmt.Errorf("failed to deliver alert after %d retries: %w", maxRetries, err)
}
