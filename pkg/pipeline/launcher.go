package pipeline

import (
	"github.com/colorcal/colorcal/pkg/ptyproc"
)

// Process is a running tool as seen by the pipeline.
type Process interface {
	Write(p []byte) (int, error)
	Done() <-chan struct{}
	ExitCode() int
	Snapshot(from int) ([]byte, int)
	Output() <-chan struct{}
	// Close terminates the tool if needed and waits for it to exit.
	Close() error
}

// LaunchRequest is one tool invocation. No shell is involved.
type LaunchRequest struct {
	Tool string
	Args []string
	Dir  string
	Env  []string
}

// Launcher finds and starts tools.
type Launcher interface {
	Locate(tool string) (string, error)
	Launch(req LaunchRequest) (Process, error)
}

// PTYLauncher starts tools inside pseudo-terminals.
type PTYLauncher struct {
	SearchDirs []string
}

func (l PTYLauncher) Locate(tool string) (string, error) {
	return ptyproc.Locate(tool, l.SearchDirs)
}

func (l PTYLauncher) Launch(req LaunchRequest) (Process, error) {
	p, err := ptyproc.Start(ptyproc.Spec{
		Tool:       req.Tool,
		Args:       req.Args,
		Dir:        req.Dir,
		Env:        req.Env,
		SearchDirs: l.SearchDirs,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
