package wavedb

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// The composite types used for messages to the ClickHouse database.

// ActivityMessage is the information for the wavedaqactivity table: one row
// per server session.
type ActivityMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

// TaskRunMessage is the information required to make an entry in the taskruns
// table. It is sent once when a task starts and again when it stops.
type TaskRunMessage struct {
	ID                  string
	TaskName            string
	TaskType            string
	SamplingFrequencyHz float64
	PeriodTimeMs        float64
	RestTimeMs          float64
	SampleMode          string
	TriggerSource       string
	Ports               []string
	Start               time.Time
	End                 time.Time
}

// NewID returns a fresh, time-sortable identifier for a database row.
func NewID() string {
	return ulid.Make().String()
}

const timeFormat = "2006-01-02 15:04:05.000000"
