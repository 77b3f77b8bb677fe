package domain_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NonFiniteValuesEncode(t *testing.T) {
	m := domain.Metrics{"nan": math.NaN(), "pos": math.Inf(1), "neg": math.Inf(-1), "loss": 0.25}

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nan":"NaN","pos":"+Inf","neg":"-Inf","loss":0.25}`, string(data))

	var back domain.Metrics
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, math.IsNaN(back["nan"]))
	assert.True(t, math.IsInf(back["pos"], 1))
	assert.True(t, math.IsInf(back["neg"], -1))
	assert.InDelta(t, 0.25, back["loss"], 1e-12)
	assert.True(t, math.IsNaN(m["nan"]), "encoding leaves the in-memory value alone")
}

func TestMetrics_RejectsNonNumericStrings(t *testing.T) {
	var m domain.Metrics
	assert.Error(t, json.Unmarshal([]byte(`{"loss":"high"}`), &m))

	require.NoError(t, json.Unmarshal([]byte(`null`), &m))
	assert.Nil(t, m)
}

func TestMetricPoint_NonFiniteLoss(t *testing.T) {
	p := domain.MetricPoint{JobID: "j", Seq: 3, Step: 3, Loss: math.NaN(), Values: domain.Metrics{"grad_norm": math.Inf(1)}}

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"loss":"NaN"`)

	var back domain.MetricPoint
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "j", back.JobID)
	assert.Equal(t, uint64(3), back.Seq)
	assert.True(t, math.IsNaN(back.Loss))
	assert.True(t, math.IsInf(back.Values["grad_norm"], 1))

	finite, err := json.Marshal(domain.MetricPoint{Seq: 1, Loss: 1.5})
	require.NoError(t, err)
	assert.Contains(t, string(finite), `"loss":1.5`)
}

func TestHistoryEntry_EncodesNonFiniteMetrics(t *testing.T) {
	e := domain.HistoryEntry{
		JobID:        "j",
		State:        domain.JobSucceeded,
		FinalMetrics: domain.Metrics{"final_loss": math.NaN()},
		Summary:      domain.Metrics{"final_loss": math.Inf(-1)},
	}
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var back domain.HistoryEntry
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, math.IsNaN(back.FinalMetrics["final_loss"]))
	assert.True(t, math.IsInf(back.Summary["final_loss"], -1))
}
