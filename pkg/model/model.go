package model

import "time"

// RunReport is the queue payload published when a broadcast run finishes.
type RunReport struct {
	RunID      string          `json:"run_id"`
	State      string          `json:"state"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Total      int             `json:"total"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Outcomes   []OutcomeRecord `json:"outcomes"`
}

type OutcomeRecord struct {
	RecipientID string    `json:"recipient_id"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	GatewayCode int       `json:"gateway_code,omitempty"`
	Code        string    `json:"code,omitempty"`
	At          time.Time `json:"at"`
}
