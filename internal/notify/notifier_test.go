package notify

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	gomock "go.uber.org/mock/gomock"

	"github.com/avoronin/affiliate-ledger/pkg/clients"
)

func TestAlertWithoutWebhookIsDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := clients.NewMockHTTPClientI(ctrl)
	notifier := New("", client)

	// No Post expectation: nothing may reach the client.
	notifier.Alert(context.Background(), "commission reversal blocked", map[string]any{"order_id": "ORD-1"})
}

func TestAlertDeliversPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := clients.NewMockHTTPClientI(ctrl)
	notifier := New("http://alerts.local/hook", client)

	var wg sync.WaitGroup
	wg.Add(1)
	client.EXPECT().
		Post("http://alerts.local/hook", "application/json", gomock.Any()).
		DoAndReturn(func(url, contentType string, body any) (int, error) {
			defer wg.Done()
			return http.StatusOK, nil
		})

	notifier.Alert(context.Background(), "commission reversal blocked", map[string]any{"order_id": "ORD-1"})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("alert was not delivered")
	}
}

func TestPost(t *testing.T) {
	tests := []struct {
		name        string
		prepareMock func(client *clients.MockHTTPClientI)
		expectError bool
	}{
		{
			name: "Accepted on first try",
			prepareMock: func(client *clients.MockHTTPClientI) {
				client.EXPECT().
					Post(gomock.Any(), "application/json", gomock.Any()).
					Return(http.StatusNoContent, nil)
			},
			expectError: false,
		},
		{
			name: "Client error is permanent",
			prepareMock: func(client *clients.MockHTTPClientI) {
				client.EXPECT().
					Post(gomock.Any(), "application/json", gomock.Any()).
					Return(http.StatusNotFound, nil)
			},
			expectError: true,
		},
		{
			name: "Server error is retried",
			prepareMock: func(client *clients.MockHTTPClientI) {
				first := client.EXPECT().
					Post(gomock.Any(), "application/json", gomock.Any()).
					Return(http.StatusInternalServerError, nil)
				client.EXPECT().
					Post(gomock.Any(), "application/json", gomock.Any()).
					Return(http.StatusOK, nil).
					After(first)
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			client := clients.NewMockHTTPClientI(ctrl)
			tt.prepareMock(client)

			notifier := New("http://alerts.local/hook", client)
			err := notifier.post([]byte(`{"subject":"test"}`))

			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWorkerPool(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	var wg sync.WaitGroup
	const tasks = 10
	wg.Add(tasks)
	var mu sync.Mutex
	ran := 0

	for i := 0; i < tasks; i++ {
		err := pool.AddTask(context.Background(), func() error {
			defer wg.Done()
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		})
		assert.NoError(t, err)
	}

	wg.Wait()
	assert.Equal(t, tasks, ran)
}

func TestWorkerPoolRespectsContext(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	block := make(chan struct{})
	defer close(block)
	// Fill the single worker and the queue so the next AddTask must wait.
	_ = pool.AddTask(context.Background(), func() error { <-block; return nil })
	_ = pool.AddTask(context.Background(), func() error { return nil })

	err := pool.AddTask(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
