package domain

import (
	"testing"
	"time"

	heartbeatdomain "github.com/smallbiznis/heartline/internal/heartbeat/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeSlotFloorsToFiveMinutes(t *testing.T) {
	assert.Equal(t, int64(1699999800), TimeSlot(1700000000))
	assert.Equal(t, int64(1699999800), TimeSlot(1699999800))
	assert.Equal(t, int64(1699999800), TimeSlot(1700000099.9))
	assert.Equal(t, int64(1700000100), TimeSlot(1700000100.5))
}

func TestGroupWeightsAndDefaults(t *testing.T) {
	deltas := Group([]heartbeatdomain.Heartbeat{
		{Time: 1700000000, Entity: "a.go", Type: "file", Project: "heartline", Language: "Go", IsWrite: true},
		{Time: 1700000010, Entity: "a.go", Type: "file", Project: "heartline", Language: "Go"},
		{Time: 1700000020, Entity: "x", Type: "app"},
	}, DefaultWeights())

	require.Len(t, deltas, 2)
	assert.Equal(t, Key{TimeSlot: 1699999800, Project: "heartline", Language: "Go", Category: Unknown}, deltas[0].Key)
	assert.Equal(t, int64(25), deltas[0].Seconds)
	assert.Equal(t, int64(2), deltas[0].HeartbeatCount)

	assert.Equal(t, Key{TimeSlot: 1699999800, Project: Unknown, Language: Unknown, Category: Unknown}, deltas[1].Key)
	assert.Equal(t, int64(10), deltas[1].Seconds)
}

func TestGroupOrdersBySlot(t *testing.T) {
	deltas := Group([]heartbeatdomain.Heartbeat{
		{Time: 1700000400, Entity: "a", Type: "file", Project: "p"},
		{Time: 1700000000, Entity: "a", Type: "file", Project: "p"},
	}, Weights{Write: 30, Read: 5})

	require.Len(t, deltas, 2)
	assert.Less(t, deltas[0].TimeSlot, deltas[1].TimeSlot)
	assert.Equal(t, int64(5), deltas[0].Seconds)
}

func TestBuildSummariesEmitsEveryDay(t *testing.T) {
	day := time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC)
	buckets := []UsageBucket{
		{TimeSlot: day.Add(time.Hour).Unix(), Project: "heartline", Language: "Go", Category: "coding", TotalSeconds: 3000},
		{TimeSlot: day.Add(2 * time.Hour).Unix(), Project: "docs", Language: "Markdown", Category: "writing docs", TotalSeconds: 600},
	}

	resp := BuildSummaries(buckets, day, day.Add(24*time.Hour))
	require.Len(t, resp.Data, 2)

	first := resp.Data[0]
	assert.Equal(t, "2023-11-14", first.Range.Date)
	assert.Equal(t, float64(3600), first.GrandTotal.TotalSeconds)
	assert.Equal(t, "1:00", first.GrandTotal.Digital)
	assert.Equal(t, "1 hrs", first.GrandTotal.Text)
	require.Len(t, first.Projects, 2)
	assert.Equal(t, "heartline", first.Projects[0].Name)
	assert.InDelta(t, 83.33, first.Projects[0].Percent, 0.01)
	assert.NotNil(t, first.Editors)
	assert.Empty(t, first.Machines)

	second := resp.Data[1]
	assert.Equal(t, float64(0), second.GrandTotal.TotalSeconds)
	assert.NotNil(t, second.Projects)
	assert.Equal(t, float64(3600), resp.CumulativeTotal.Seconds)
}
