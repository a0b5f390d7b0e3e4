package health

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Healthy: true}
	})
	r.Register("scorer", func(_ context.Context) Status {
		return Status{Healthy: true, Detail: "heuristic-v1"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	for _, st := range statuses {
		if st.Name == "" {
			t.Error("status name should be filled in by the registry")
		}
	}
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(_ context.Context) Status {
		return Status{Healthy: true}
	})
	r.Register("scorer", func(_ context.Context) Status {
		return Status{Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with unhealthy checker should report unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
}

func TestRegistryCheckTimeout(t *testing.T) {
	r := NewRegistry()
	r.Register("slow", func(ctx context.Context) Status {
		select {
		case <-ctx.Done():
			return Status{Healthy: false, Detail: ctx.Err().Error()}
		case <-time.After(2 * CheckTimeout):
			return Status{Healthy: true}
		}
	})

	start := time.Now()
	healthy, _ := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("timed-out check should report unhealthy")
	}
	if elapsed := time.Since(start); elapsed > CheckTimeout+time.Second {
		t.Fatalf("check took %v, should be bounded by the per-check timeout", elapsed)
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("check", func(_ context.Context) Status {
				return Status{Healthy: true}
			})
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()
}
