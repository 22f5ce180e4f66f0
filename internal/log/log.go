// Package log centralizes the per-subsystem loggers used across the
// relayer. Each package that wants to log obtains its own btclog.Logger
// from here rather than reaching for the standard library logger, so that
// operators can raise or lower verbosity per subsystem without touching
// code.
package log

import (
	"os"

	"github.com/btcsuite/btclog"
	"github.com/davecgh/go-spew/spew"
)

// logWriter implements io.Writer so btclog can write formatted records to
// stdout. A future persisted-log backend can replace this without
// disturbing callers, since everything goes through backendLog.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	return len(p), nil
}

var backendLog = btclog.NewBackend(logWriter{})

// Subsystem loggers. Names are kept short (4-5 letters) to match the
// column lnd uses when tagging log lines with their subsystem.
var (
	Registry = backendLog.Logger("RGST")
	Route    = backendLog.Logger("ROUT")
	Planner  = backendLog.Logger("PFMR")
	Monitor  = backendLog.Logger("MNTR")
	Breaker  = backendLog.Logger("BRKR")
	Ack      = backendLog.Logger("ACKH")
	Relay    = backendLog.Logger("RELY")
	Recovery = backendLog.Logger("RCVR")
	Orch     = backendLog.Logger("ORCH")
	Admin    = backendLog.Logger("ADMN")
)

// subsystems lists every logger by tag so operators can address them by
// name when changing levels at runtime (e.g. via a future "debuglevel"
// admin command).
var subsystems = map[string]btclog.Logger{
	"RGST": Registry,
	"ROUT": Route,
	"PFMR": Planner,
	"MNTR": Monitor,
	"BRKR": Breaker,
	"ACKH": Ack,
	"RELY": Relay,
	"RCVR": Recovery,
	"ORCH": Orch,
	"ADMN": Admin,
}

// SetLevel sets the verbosity of a single subsystem, or every subsystem
// when tag is "all".
func SetLevel(tag, levelStr string) {
	level, ok := btclog.LevelFromString(levelStr)
	if !ok {
		return
	}

	if tag == "all" {
		for _, l := range subsystems {
			l.SetLevel(level)
		}
		return
	}

	if l, ok := subsystems[tag]; ok {
		l.SetLevel(level)
	}
}

// Dump renders v with spew for trace-level logging, the same way lnd dumps
// wire messages and channel state when a subsystem is set to trace.
func Dump(v interface{}) string {
	return spew.Sdump(v)
}
