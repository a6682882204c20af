package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nexthttp/nexthttp/pkg/collab"
)

func TestExecuteSyncRunsCall(t *testing.T) {
	d := New(DefaultConfig(), collab.NopEventListener{})
	ran := false
	err := d.ExecuteSync(context.Background(), Call{
		ID:   1,
		Host: "example.com",
		Run: func(ctx context.Context) error {
			ran = true
			return nil
		},
	})
	if err != nil {
		t.Fatalf("ExecuteSync: %v", err)
	}
	if !ran {
		t.Fatalf("call was not run")
	}
}

func TestPerHostCapBlocksUntilReleased(t *testing.T) {
	d := New(Config{MaxRequests: 64, MaxRequestsPerHost: 1}, collab.NopEventListener{})

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		d.ExecuteSync(context.Background(), Call{
			ID:   1,
			Host: "example.com",
			Run: func(ctx context.Context) error {
				close(started)
				<-release
				return nil
			},
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.ExecuteSync(ctx, Call{
		ID:   2,
		Host: "example.com",
		Run:  func(ctx context.Context) error { return nil },
	})
	if err == nil {
		t.Fatalf("expected second call to the same host to block and time out")
	}

	close(release)
}

func TestWebSocketCallExemptFromPerHostCap(t *testing.T) {
	d := New(Config{MaxRequests: 64, MaxRequestsPerHost: 1}, collab.NopEventListener{})

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		d.ExecuteSync(context.Background(), Call{
			ID:   1,
			Host: "example.com",
			Run: func(ctx context.Context) error {
				close(started)
				<-release
				return nil
			},
		})
	}()
	<-started

	var wg sync.WaitGroup
	wg.Add(1)
	var ran bool
	go func() {
		defer wg.Done()
		d.ExecuteSync(context.Background(), Call{
			ID:        2,
			Host:      "example.com",
			WebSocket: true,
			Run: func(ctx context.Context) error {
				ran = true
				return nil
			},
		})
	}()
	wg.Wait()
	close(release)

	if !ran {
		t.Fatalf("WebSocket call should bypass the per-host cap")
	}
}

func TestEnqueueAndWait(t *testing.T) {
	d := New(DefaultConfig(), collab.NopEventListener{})
	var mu sync.Mutex
	count := 0

	for i := 0; i < 5; i++ {
		d.Enqueue(context.Background(), Call{
			ID:   uint64(i),
			Host: "example.com",
			Run: func(ctx context.Context) error {
				mu.Lock()
				count++
				mu.Unlock()
				return nil
			},
		})
	}
	if err := d.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if count != 5 {
		t.Fatalf("count = %d, want 5", count)
	}
}
