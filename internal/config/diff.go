package config

import (
	"reflect"
)

// ConfigDiff describes what changed between two configs.
//
// Interview, capture, narration and evaluation tunables and the log level
// apply to interviews created after the change. Everything else is listed in
// RestartRequired and only takes effect after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	InterviewChanged  bool
	CaptureChanged    bool
	NarrationChanged  bool
	EvaluationChanged bool

	// RestartRequired names the top-level sections that changed but cannot
	// be applied at runtime.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable value changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.InterviewChanged || d.CaptureChanged || d.NarrationChanged || d.EvaluationChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.InterviewChanged = old.Interview != new.Interview
	d.CaptureChanged = old.Capture != new.Capture
	d.NarrationChanged = old.Narration != new.Narration
	d.EvaluationChanged = old.Evaluation != new.Evaluation

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Behavior != new.Behavior {
		d.RestartRequired = append(d.RestartRequired, "behavior")
	}
	return d
}
