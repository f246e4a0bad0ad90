package cases

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusApply(t *testing.T) {
	tests := []struct {
		name     string
		from     Status
		event    Event
		want     Status
		expected bool
	}{
		{"claim pending", StatusPending, EventClaimed, StatusProcessing, true},
		{"quarantine on claim", StatusPending, EventQuarantined, StatusError, true},
		{"abort", StatusProcessing, EventReleased, StatusPending, true},
		{"confirm", StatusProcessing, EventPurged, StatusPurged, true},
		{"confirm keeps done", StatusDone, EventPurged, StatusDone, true},
		{"result after purge", StatusPurged, EventResulted, StatusDone, true},
		{"result before purge", StatusProcessing, EventResulted, StatusDone, true},
		{"result after error warns", StatusError, EventResulted, StatusDone, false},
		{"result while pending warns", StatusPending, EventResulted, StatusDone, false},
		{"release of purged warns", StatusPurged, EventReleased, StatusPending, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.from.Apply(tc.event)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.expected, ok)
		})
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("data_purged")
	require.NoError(t, err)
	assert.Equal(t, StatusPurged, st)

	_, err = ParseStatus("taken")
	assert.Error(t, err)
}

func TestStatus_UnmarshalRejectsUnknown(t *testing.T) {
	var st Stub
	require.NoError(t, json.Unmarshal([]byte(`{"id":"a","status":"done"}`), &st))
	assert.Equal(t, StatusDone, st.Status)

	var rec Record
	err := json.Unmarshal([]byte(`{"id":"a","status":"taken"}`), &rec)
	assert.ErrorContains(t, err, `unknown status "taken"`)
}

func TestAssessmentSame(t *testing.T) {
	lvl, prob, sug := 2, 0.87, "observe 24-48h"
	s := &Stub{AILevel: &lvl, AIProb: &prob, AISuggestion: &sug}
	assert.True(t, Assessment{Level: 2, Prob: 0.87, Suggestion: "observe 24-48h"}.Same(s))
	assert.False(t, Assessment{Level: 3, Prob: 0.87, Suggestion: "observe 24-48h"}.Same(s))
	assert.False(t, Assessment{Level: 2}.Same(&Stub{}))
	assert.True(t, s.HasResult())
}

func TestPublicViewDropsPrivateFields(t *testing.T) {
	s := &Stub{ID: "abc", Receipt: "secret", Status: StatusPending, Note: "internal"}
	v := s.Public()
	assert.Equal(t, ID("abc"), v.ID)
	assert.Equal(t, StatusPending, v.Status)
}
