package domain

import (
	"github.com/bwmarrin/snowflake"
)

const (
	TypeFile   = "file"
	TypeDomain = "domain"
	TypeApp    = "app"
	TypeURL    = "url"
)

// Heartbeat is one activity event reported by an editor plugin.
// It is never stored verbatim except inside a pending delivery.
type Heartbeat struct {
	Time            float64  `json:"time" validate:"required,gt=0"`
	Entity          string   `json:"entity" validate:"required,max=2048"`
	Type            string   `json:"type" validate:"required,oneof=file domain app url"`
	Category        string   `json:"category,omitempty" validate:"max=64"`
	Project         string   `json:"project,omitempty" validate:"max=512"`
	Language        string   `json:"language,omitempty" validate:"max=128"`
	Branch          string   `json:"branch,omitempty" validate:"max=512"`
	Editor          string   `json:"editor,omitempty"`
	Machine         string   `json:"machine,omitempty"`
	OperatingSystem string   `json:"operating_system,omitempty"`
	UserAgent       string   `json:"user_agent,omitempty"`
	Dependencies    []string `json:"dependencies,omitempty"`
	Lines           *int     `json:"lines,omitempty" validate:"omitempty,gte=0"`
	LineNo          *int     `json:"lineno,omitempty" validate:"omitempty,gte=0"`
	CursorPos       *int     `json:"cursorpos,omitempty" validate:"omitempty,gte=0"`
	IsWrite         bool     `json:"is_write,omitempty"`
}

// Ack is the per-heartbeat acknowledgement record.
type Ack struct {
	ID     string  `json:"id"`
	Entity string  `json:"entity"`
	Type   string  `json:"type"`
	Time   float64 `json:"time"`
}

// Batch is an authenticated, validated ingestion unit.
type Batch struct {
	UserID     snowflake.ID
	Heartbeats []Heartbeat
	UserAgent  string
}
