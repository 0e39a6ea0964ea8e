package wavedaq

import (
	"log"
	"os"
	"time"
)

// Portnumbers structs can contain all TCP port numbers used by wavedaq.
type Portnumbers struct {
	RPC     int
	Status  int
	Metrics int
}

// Ports globally holds all TCP port numbers used by wavedaq.
var Ports Portnumbers

// SetPortnumbers assigns all port numbers relative to the RPC port.
func SetPortnumbers(base int) {
	Ports.RPC = base
	Ports.Status = base + 1
	Ports.Metrics = base + 2
}

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Gitdate string
	Date    string
	Host    string
	Summary string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "0.1.3",
	Githash: "no git hash computed",
	Gitdate: "no git date computed",
	Date:    "no build date computed",
}

// StartTime is a global holding the time init() was run
var StartTime time.Time

// ProblemLogger will log warning messages (clamped values, coerced shapes) to a file
var ProblemLogger *log.Logger

// UpdateLogger will log task lifecycle transitions to a file
var UpdateLogger *log.Logger

func init() {
	SetPortnumbers(5600)
	StartTime = time.Now()

	// The wavedaq main program will override these, but at least initialize with a sensible value
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
	UpdateLogger = log.New(os.Stderr, "", log.LstdFlags)
}
