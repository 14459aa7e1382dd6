package arduino

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-arduino/internal/process"
)

// Default flasher selector flags.
const (
	DefaultVersionFlag = "-f"
	DefaultURLFlag     = "-u"
)

// Selector is the firmware chosen before flashing. At most one field is set.
type Selector struct {
	Version  string `json:"version,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Empty reports whether nothing is selected.
func (s Selector) Empty() bool { return s.Version == "" && s.ImageURL == "" }

func (s Selector) String() string {
	switch {
	case s.Version != "":
		return "version:" + s.Version
	case s.ImageURL != "":
		return "url:" + s.ImageURL
	default:
		return ""
	}
}

// FlashProcess is a running flasher. *process.Runner satisfies it.
type FlashProcess interface {
	Stop() error
	Stats() process.Stats
}

// Spawner starts the external flasher. onExit must be called exactly once
// when the process ends, from any goroutine.
type Spawner interface {
	Spawn(ctx context.Context, jobID string, args []string, onExit func(exitCode int)) (FlashProcess, error)
}

// flashController tracks flash state and the selected firmware.
type flashController struct {
	state       stateMachine[FlashState]
	selector    Selector
	versionFlag string
	urlFlag     string

	jobID string
	proc  FlashProcess
}

func (f *flashController) selectVersion(tag string) {
	f.selector = Selector{Version: tag}
}

func (f *flashController) selectImageURL(url string) {
	f.selector = Selector{ImageURL: url}
}

// args returns the flasher argument pair for the current selector.
func (f *flashController) args() ([]string, bool) {
	switch {
	case f.selector.Version != "":
		return []string{f.versionFlag, f.selector.Version}, true
	case f.selector.ImageURL != "":
		return []string{f.urlFlag, f.selector.ImageURL}, true
	default:
		return nil, false
	}
}

func (f *flashController) newJob() string {
	f.jobID = uuid.NewString()
	return f.jobID
}

// ProcessSpawner runs the flasher binary through process.Runner.
type ProcessSpawner struct {
	Binary string
	Logger process.Logger
}

// Spawn implements Spawner.
func (s ProcessSpawner) Spawn(ctx context.Context, jobID string, args []string, onExit func(int)) (FlashProcess, error) {
	r := process.NewRunner(process.Config{
		Name:   "arduino-flash-" + jobID,
		Binary: s.Binary,
		Args:   args,
		OnExit: func(res process.Result) { onExit(res.ExitCode) },
	})
	if s.Logger != nil {
		r.SetLogger(s.Logger)
	}
	if err := r.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting flasher %s: %w", s.Binary, err)
	}
	return r, nil
}
