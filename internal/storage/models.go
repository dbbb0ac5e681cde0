package storage

import (
	"encoding/json"
	"time"
)

// DQRun is one ticker's data-quality verdict from one pipeline run.
type DQRun struct {
	ID        int64
	RunID     string
	Ticker    string
	Outcome   string
	Rows      int
	Pass      bool
	Reasons   []string
	Report    json.RawMessage
	CreatedAt time.Time
}
