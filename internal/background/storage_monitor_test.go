package background

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type scriptedPinger struct {
	results []error
	calls   int
}

func (p *scriptedPinger) HealthCheck(context.Context) error {
	err := p.results[min(p.calls, len(p.results)-1)]
	p.calls++
	return err
}

type gaugeRecorder struct {
	values []bool
}

func (g *gaugeRecorder) RecordLogin(string, string) {}
func (g *gaugeRecorder) RecordSessionIssued() {}
func (g *gaugeRecorder) RecordRevocation(string) {}
func (g *gaugeRecorder) RecordEmailLinkSent() {}
func (g *gaugeRecorder) RecordHTTPRequest(int, time.Duration) {}
func (g *gaugeRecorder) RecordStorageUp(up bool) { g.values = append(g.values, up) }

func TestStorageMonitor_LogsTransitionsOnly(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	down := errors.New("connection refused")
	pinger := &scriptedPinger{results: []error{nil, nil, down, down, nil}}
	rec := &gaugeRecorder{}

	m := NewStorageMonitor(pinger, rec, logger, time.Hour)
	for i := 0; i < 5; i++ {
		m.check(context.Background())
	}

	assert.Equal(t, []bool{true, true, false, false, true}, rec.values)
	assert.Equal(t, 2, strings.Count(buf.String(), "storage reachable"))
	assert.Equal(t, 1, strings.Count(buf.String(), "storage unreachable"))
}

func TestStorageMonitor_StopEndsLoop(t *testing.T) {
	var buf bytes.Buffer
	m := NewStorageMonitor(&scriptedPinger{results: []error{nil}}, nil, slog.New(slog.NewTextHandler(&buf, nil)), time.Hour)

	done := make(chan struct{})
	go func() {
		m.Start(context.Background())
		close(done)
	}()

	m.Stop()
	m.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
