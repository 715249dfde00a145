package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.URL = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MinConns = 50
	assert.Error(t, cfg.Validate())
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestCheck(t *testing.T) {
	status := Check(context.Background(), fakePinger{})
	assert.True(t, status.Healthy)
	assert.Empty(t, status.Error)

	status = Check(context.Background(), fakePinger{err: errors.New("refused")})
	assert.False(t, status.Healthy)
	assert.Contains(t, status.Error, "refused")

	status = Check(context.Background(), nil)
	assert.False(t, status.Healthy)
}

func TestPoolStatsCollector(t *testing.T) {
	collector := NewPoolStatsCollector(nil, "intake", "worker")

	ch := make(chan *prometheus.Desc, 4)
	collector.Describe(ch)
	close(ch)

	var names []string
	for d := range ch {
		names = append(names, d.String())
	}
	require.Len(t, names, 4)
	assert.True(t, strings.Contains(names[0], "intake_db_pool_total_conns"))

	metrics := make(chan prometheus.Metric, 4)
	collector.Collect(metrics)
	close(metrics)
	assert.Len(t, metrics, 0)

	reg := prometheus.NewRegistry()
	_, err := RegisterPoolStatsCollector(reg, nil, "intake", "worker")
	require.NoError(t, err)
}
