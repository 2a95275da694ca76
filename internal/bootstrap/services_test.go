package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/jobfacade/config"
	"github.com/target/jobfacade/internal/data"
	"github.com/target/jobfacade/internal/domain/model"
	apperrors "github.com/target/jobfacade/internal/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 0,
		},
		{
			name:  "http only",
			modes: []config.ServiceMode{config.ServiceModeHTTP},
			want:  1,
		},
		{
			name:  "worker and scheduler",
			modes: []config.ServiceMode{config.ServiceModeWorker, config.ServiceModeScheduler},
			want:  2,
		},
		{
			name:  "all services enabled",
			modes: config.ValidServiceModes(),
			want:  4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelCapacity(enabled); got != tt.want {
				t.Fatalf("errorChannelCapacity(%v) = %d, want %d", tt.modes, got, tt.want)
			}
		})
	}
}

func TestGetEnabledServices_StableOrder(t *testing.T) {
	cfg := &config.AppConfig{Services: "reaper, http,worker"}
	assert.Equal(t, []string{"http", "worker", "reaper"}, GetEnabledServices(cfg))
	assert.Empty(t, GetEnabledServices(&config.AppConfig{Services: "bogus"}))
	assert.Empty(t, GetEnabledServices(nil))
}

func TestValidateServiceConfig(t *testing.T) {
	require.Error(t, ValidateServiceConfig(nil))
	require.Error(t, ValidateServiceConfig(&config.AppConfig{Services: ""}))
	require.Error(t, ValidateServiceConfig(&config.AppConfig{Services: "http,rules-engine"}))
	require.NoError(t, ValidateServiceConfig(&config.AppConfig{Services: "http,scheduler"}))
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := &config.AppConfig{Jobs: config.JobsConfig{Backend: config.BackendMemory}}
		b, err := OpenBackend(ctx, BackendOptions{Config: cfg})
		require.NoError(t, err)
		assert.Equal(t, data.BackendMemory, b.Backend())
		assert.NotNil(t, WorkerRegistryFor(b))
	})

	t.Run("badger in memory", func(t *testing.T) {
		cfg := &config.AppConfig{
			Jobs:   config.JobsConfig{Backend: config.BackendBadger},
			Badger: config.BadgerConfig{InMemory: true},
		}
		b, err := OpenBackend(ctx, BackendOptions{Config: cfg})
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		assert.Equal(t, data.BackendBadger, b.Backend())
		assert.Nil(t, WorkerRegistryFor(b))
	})

	t.Run("unknown backend degrades", func(t *testing.T) {
		cfg := &config.AppConfig{Jobs: config.JobsConfig{Backend: "rabbitmq"}}
		b, err := OpenBackend(ctx, BackendOptions{Config: cfg})
		require.NoError(t, err)
		assert.Equal(t, "rabbitmq", b.Backend())

		_, err = b.Submit(ctx, model.SubmitParams{Kind: "test job", Queue: "default"})
		require.Error(t, err)
		assert.True(t, apperrors.IsStoreUnavailable(err))
		assert.Contains(t, err.Error(), "unsupported JOBS_BACKEND")
	})
}

func TestNewServicesAndHandler(t *testing.T) {
	cfg := &config.AppConfig{
		Services: "http",
		Jobs: config.JobsConfig{
			Backend:          config.BackendMemory,
			BackendTimeout:   time.Second,
			MaxListLimit:     100,
			DefaultListLimit: 10,
		},
		HTTP: config.HTTPConfig{RateLimitRPS: 0, RateLimitBurst: 1},
	}
	b, err := OpenBackend(context.Background(), BackendOptions{Config: cfg})
	require.NoError(t, err)

	svcs, err := NewServices(&ServiceDeps{Config: cfg, Backend: b})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, svcs.Close()) })
	assert.Nil(t, svcs.Observability.Sink(), "metrics are off by default")
	assert.Contains(t, svcs.Catalog.Kinds(), "test job")

	h := BuildHTTPHandler(svcs, cfg.HTTP, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	_, err = NewServices(&ServiceDeps{Config: cfg})
	require.Error(t, err)
}

func TestWaitForShutdown_ServiceError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	done := make(chan struct{})
	close(done)

	boom := errors.New("worker failed: reserve next: schema mismatch")
	errCh <- boom

	err := waitForShutdown(shutdownConfig{
		ctx:         ctx,
		cancel:      cancel,
		quit:        make(chan os.Signal),
		errCh:       errCh,
		logger:      discardLogger(),
		backgrounds: []backgroundServiceHandle{{name: "worker", done: done}},
	})
	require.ErrorIs(t, err, boom)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestWaitForShutdown_Signal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	quit <- os.Interrupt

	err := waitForShutdown(shutdownConfig{
		ctx:    ctx,
		cancel: cancel,
		quit:   quit,
		errCh:  make(chan error),
		logger: discardLogger(),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
