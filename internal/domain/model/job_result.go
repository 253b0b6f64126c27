package model

import (
	"encoding/json"
	"time"
)

// JobResult is the document-store record paired 1:1 with a ledger row.
// It carries the payload-sized data the ledger deliberately excludes: the
// write-once input, the eventual output, and append-only logs and errors.
type JobResult struct {
	JobID        string          `json:"job_id"        bson:"job_id"`
	InputPayload json.RawMessage `json:"input_payload" bson:"input_payload"`
	OutputResult json.RawMessage `json:"output_result" bson:"output_result,omitempty"`
	Logs         []string        `json:"logs"          bson:"logs"`
	Errors       []string        `json:"errors"        bson:"errors"`
	CreatedAt    time.Time       `json:"created_at"    bson:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"    bson:"updated_at"`
}
