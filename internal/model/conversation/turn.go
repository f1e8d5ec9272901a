package conversation

import "time"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one immutable entry of the session transcript.
type Turn struct {
	Role       Role      `json:"role"`
	Text       string    `json:"text"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Record is the persisted form of a turn. Type is read from entries written
// under the older key and never written.
type Record struct {
	Role      Role   `json:"role"`
	Type      Role   `json:"type,omitempty"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// ToRecord converts a turn into its persisted form.
func (t Turn) ToRecord() Record {
	return Record{
		Role:      t.Role,
		Content:   t.Text,
		Timestamp: t.CapturedAt.UTC().Format(time.RFC3339Nano),
	}
}

// FromRecord parses a persisted record back into a turn.
func FromRecord(r Record) (Turn, error) {
	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return Turn{}, err
	}
	role := r.Role
	if role == "" {
		role = r.Type
	}
	return Turn{Role: role, Text: r.Content, CapturedAt: ts}, nil
}
