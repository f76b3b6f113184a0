package approval

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// APPROVAL STATUS - Single tagged representation
// =============================================================================

// ApprovalStatus is the tri-state approval outcome of a bill or action.
//
// Older documents stored this either as a string ("Approved") or as a
// numeric code (1 approved, 0 rejected, anything else pending). Decoding
// accepts both; encoding always writes the string form.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "Pending"
	StatusApproved ApprovalStatus = "Approved"
	StatusRejected ApprovalStatus = "Rejected"
)

// IsTerminal is true for Approved and Rejected.
func (s ApprovalStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func (s ApprovalStatus) String() string {
	if s == "" {
		return string(StatusPending)
	}
	return string(s)
}

// ParseStatus maps a stored string to a status. Unknown values are Pending.
func ParseStatus(s string) ApprovalStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved", "1":
		return StatusApproved
	case "rejected", "0":
		return StatusRejected
	default:
		return StatusPending
	}
}

// StatusFromCode maps the legacy numeric code.
func StatusFromCode(code int) ApprovalStatus {
	switch code {
	case 1:
		return StatusApproved
	case 0:
		return StatusRejected
	default:
		return StatusPending
	}
}

func (s ApprovalStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ApprovalStatus) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = StatusPending
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = ParseStatus(str)
		return nil
	}
	var code float64
	if err := json.Unmarshal(data, &code); err != nil {
		return fmt.Errorf("approval status: unsupported encoding %s", string(data))
	}
	if code != float64(int(code)) {
		*s = StatusPending
		return nil
	}
	*s = StatusFromCode(int(code))
	return nil
}
