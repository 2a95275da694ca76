package statsd

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMetricName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		" job/metric ":  "job_metric",
		"foo..bar":      "foo.bar",
		"multi  space":  "multi__space",
		"facade:submit": "facade_submit",
		".":             "",
	}
	for input, want := range tests {
		assert.Equal(t, want, normalizeMetricName(input), input)
	}
}

func TestQualify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "jobfacade.job.submit", qualify("jobfacade", "job.submit"))
	assert.Equal(t, "job.submit", qualify("", "job.submit"))
	assert.Empty(t, qualify("jobfacade", " "))
}

func TestFormatTags(t *testing.T) {
	t.Parallel()

	global := map[string]string{
		"env": "prod",
		//nolint:gocritic // whitespace is part of the test case
		" service ": " jobfacade ",
	}
	local := map[string]string{
		"result": " success ",
		"":       "ignored",
		"env":    "stage",
	}
	assert.Equal(t, "|#env:stage,result:success,service:jobfacade", formatTags(global, local))
	assert.Empty(t, formatTags(nil, nil))
}

func TestDisabledClientDropsWrites(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{Enabled: false, Address: "127.0.0.1:1"})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
	client.Count("job.submit", 1, nil)
	require.NoError(t, client.Close())

	var nilClient *Client
	nilClient.Gauge("queue.pending", 1, nil)
	assert.False(t, nilClient.Enabled())
}

func TestClientWritesDatagrams(t *testing.T) {
	t.Parallel()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	client, err := NewClient(Config{
		Enabled:    true,
		Address:    pc.LocalAddr().String(),
		Prefix:     ".jobfacade.",
		GlobalTags: map[string]string{"env": "test"},
	})
	require.NoError(t, err)
	defer client.Close()
	require.True(t, client.Enabled())

	client.Timing("job.duration", 1500*time.Microsecond, map[string]string{"kind": "test_job"})

	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 512)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	line := string(buf[:n])
	assert.True(t, strings.HasPrefix(line, "jobfacade.job.duration:1.5|ms"), line)
	assert.True(t, strings.HasSuffix(line, "|#env:test,kind:test_job"), line)
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	var r Recorder
	r.Count("job.submit", 2, map[string]string{"result": "success"})
	r.Gauge("queue.pending", 7, nil)

	require.Len(t, r.Samples(), 2)
	got := r.Named("job.submit")
	require.Len(t, got, 1)
	assert.InDelta(t, 2.0, got[0].Value, 0)
	assert.Equal(t, "success", got[0].Tags["result"])
}
