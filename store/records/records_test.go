package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/approval-engine/approval"
)

func TestLevelsRoundTrip(t *testing.T) {
	timeout := 4
	levels := []approval.ApproverLevel{
		{Level: 1, ApproverID: "E1"},
		{Level: 2, ApproverID: "E2", EscalationTimeoutDays: &timeout, AlternativeApprovers: []approval.EmployeeID{"A1", "A2"}},
	}
	data, err := EncodeLevels(levels)
	require.NoError(t, err)

	back, err := DecodeLevels(data)
	require.NoError(t, err)
	assert.Equal(t, levels, back)
}

func TestDecodeHistory_LegacyStatusCodes(t *testing.T) {
	history, err := DecodeHistory([]byte(`[
		{"approver_id":"E1","status":1,"timestamp":"2025-01-02T03:04:05Z"},
		{"approver_id":"E2","status":0,"timestamp":"2025-01-03T03:04:05Z","comment":"no"},
		{"approver_id":"E3","status":null,"timestamp":"2025-01-04T03:04:05Z"}
	]`))
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, approval.StatusApproved, history[0].Status)
	assert.Equal(t, approval.StatusRejected, history[1].Status)
	assert.Equal(t, "no", history[1].Comment)
	assert.Equal(t, approval.StatusPending, history[2].Status)
}

func TestHistoryEncodesStatusAsString(t *testing.T) {
	data, err := EncodeHistory([]approval.ApprovalAction{{ApproverID: "E1", Status: approval.StatusApproved, Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"approver_id":"E1","status":"Approved","timestamp":"2025-01-01T00:00:00Z"}]`, string(data))
}

func TestTimeFormatting(t *testing.T) {
	ts := time.Date(2025, 5, 6, 7, 8, 9, 123456789, time.FixedZone("X", 3600))
	assert.True(t, ts.Equal(ParseTime(FormatTime(ts))))
	assert.Equal(t, "", FormatTime(time.Time{}))
	assert.True(t, ParseTime("").IsZero())
	assert.True(t, ParseTime("garbage").IsZero())
}

func TestFormatTime_SortsChronologically(t *testing.T) {
	whole := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	half := whole.Add(500 * time.Millisecond)

	assert.Equal(t, "2025-06-02T10:00:00.000000000Z", FormatTime(whole))
	assert.Less(t, FormatTime(whole), FormatTime(half))
	assert.Len(t, FormatTime(half), len(FormatTime(whole)))

	// Rows written before the fixed-width layout still parse.
	assert.True(t, half.Equal(ParseTime("2025-06-02T10:00:00.5Z")))
}

func TestPayload(t *testing.T) {
	data, err := EncodePayload(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	p, err := DecodePayload(data)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = DecodePayload([]byte(`{"level":2}`))
	require.NoError(t, err)
	assert.Equal(t, float64(2), p["level"])
}
