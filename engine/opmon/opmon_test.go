package opmon

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOperation(t *testing.T) {
	op := StartOperation("test_op")
	time.Sleep(time.Millisecond)
	d := op.Finish(time.Hour)
	assert.T(t, d >= time.Millisecond, d)

	assert.Equal(t, 1, testutil.CollectAndCount(OperationDuration, "gwsync_operation_duration_seconds"))
	Dump()
}

func TestCollect(t *testing.T) {
	Collect()
	for i := 0; i < 3; i++ {
		StartOperation("b_op").Finish(time.Hour)
	}
	StartOperation("a_op").Finish(time.Hour)

	collected := Collect()
	assert.Equal(t, 2, len(collected))
	assert.Equal(t, "a_op", collected[0].Name)
	assert.Equal(t, "b_op", collected[1].Name)
	assert.Equal(t, uint64(3), collected[1].Count)
	assert.T(t, collected[1].Max <= collected[1].Total)
	assert.T(t, collected[1].Avg() <= collected[1].Max)
	assert.Equal(t, 0, len(Collect()))
	assert.Equal(t, time.Duration(0), OpStat{}.Avg())
}

func TestCounters(t *testing.T) {
	FramesSent.WithLabelValues(KindAgentPFrame).Add(3)
	FramesDropped.WithLabelValues(DropStale).Inc()
	assert.Equal(t, float64(3), testutil.ToFloat64(FramesSent.WithLabelValues(KindAgentPFrame)))
	assert.Equal(t, float64(1), testutil.ToFloat64(FramesDropped.WithLabelValues(DropStale)))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.T(t, strings.Contains(string(body), `gwsync_frames_sent_total{kind="agent_pframe"} 3`), string(body))
}

func TestCPUSampler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.Equal(t, nil, StartCPUSampler(ctx, 10*time.Millisecond))
}
