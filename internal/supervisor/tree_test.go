package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultTreeConfig(t *testing.T) {
	cfg := DefaultTreeConfig()

	if cfg.FailureThreshold != 5.0 {
		t.Errorf("expected FailureThreshold 5.0, got %f", cfg.FailureThreshold)
	}
	if cfg.FailureDecay != 30.0 {
		t.Errorf("expected FailureDecay 30.0, got %f", cfg.FailureDecay)
	}
	if cfg.FailureBackoff != 15*time.Second {
		t.Errorf("expected FailureBackoff 15s, got %v", cfg.FailureBackoff)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("expected ShutdownTimeout 10s, got %v", cfg.ShutdownTimeout)
	}
}

func TestNewTreeAppliesDefaultsForZeroConfig(t *testing.T) {
	tree := NewTree(TreeConfig{})

	if tree.root == nil || tree.background == nil || tree.api == nil {
		t.Fatal("expected all three supervisors to be constructed")
	}
}

func TestTreeServesBackgroundAndAPIServices(t *testing.T) {
	tree := NewTree(TreeConfig{FailureBackoff: 10 * time.Millisecond})

	bgSvc := newMockService("background-service")
	apiSvc := newMockService("api-service")
	tree.AddBackgroundService(bgSvc)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	errCh := tree.ServeBackground(ctx)

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("unexpected terminal error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not shut down in time")
	}

	if bgSvc.StartCount() < 1 {
		t.Error("background service was not started")
	}
	if apiSvc.StartCount() < 1 {
		t.Error("api service was not started")
	}
}

func TestTreeRestartsFailingService(t *testing.T) {
	tree := NewTree(TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   5 * time.Millisecond,
	})

	failing := newMockService("failing")
	failing.SetFailCount(2)
	tree.AddBackgroundService(failing)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	errCh := tree.ServeBackground(ctx)
	time.Sleep(200 * time.Millisecond)
	cancel()
	<-errCh

	if failing.StartCount() < 3 {
		t.Errorf("expected at least 3 starts for a service failing twice, got %d", failing.StartCount())
	}
}

func TestUnstoppedServiceReportOnCleanShutdown(t *testing.T) {
	tree := NewTree(TreeConfig{ShutdownTimeout: time.Second})
	tree.AddBackgroundService(newMockService("clean"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	<-tree.ServeBackground(ctx)

	unstopped, err := tree.UnstoppedServiceReport()
	if err != nil {
		t.Fatalf("unexpected error from UnstoppedServiceReport: %v", err)
	}
	if len(unstopped) != 0 {
		t.Errorf("expected no unstopped services, got %d", len(unstopped))
	}
}
