// Package audit appends a best-effort JSONL trail of every LLM call made
// by compress, collapse and semantic merge, grounded on the teacher's
// internal/audit package. A failure to append must never fail the
// operation that triggered the call.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// FileName is the audit trail's filename within a tract's base directory.
const FileName = "audit.jsonl"

// Entry is one audited LLM call.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // e.g. "llm_call"
	Operation string    `json:"operation,omitempty"` // compress, collapse, merge
	TractID   string    `json:"tract_id,omitempty"`
	Model     string    `json:"model,omitempty"`
	Prompt    string    `json:"prompt,omitempty"`
	Response  string    `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Append writes e to root's audit trail, assigning an ID and timestamp if
// absent. Returns the assigned ID.
func Append(root string, e *Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	dir := filepath.Join(root, ".tract")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return e.ID, err
	}

	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return e.ID, err
	}
	defer func() { _ = f.Close() }()

	data, err := json.Marshal(e)
	if err != nil {
		return e.ID, err
	}
	data = append(data, '\n')
	_, err = f.Write(data)
	return e.ID, err
}
