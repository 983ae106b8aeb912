package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy, "empty registry should be healthy")
	assert.Empty(t, statuses)
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("model", func(_ context.Context) Status {
		return Status{Name: "model", Healthy: true, Detail: "TRAINED_SUPERVISED"}
	})
	r.Register("database", PingChecker("database", fakePinger{err: errors.New("connection refused")}))

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, "model", statuses[0].Name)
	assert.Equal(t, "connection refused", statuses[1].Detail)
}

func TestRegistryFillsMissingName(t *testing.T) {
	r := NewRegistry()
	r.Register("database", PingChecker("", fakePinger{}))

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Equal(t, "database", statuses[0].Name)
}

func TestRegistryAppliesTimeout(t *testing.T) {
	r := NewRegistry().WithTimeout(10 * time.Millisecond)
	r.Register("slow", func(ctx context.Context) Status {
		<-ctx.Done()
		return Status{Name: "slow", Healthy: false, Detail: ctx.Err().Error()}
	})

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Equal(t, context.DeadlineExceeded.Error(), statuses[0].Detail)
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return Status{Name: "checker", Healthy: true}
			})
		}()
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}
