// Package layout computes and creates the on-disk directory layout of a
// build instance:
//
//	<base>/<name>                              workspace root
//	<base>/.builder/<name>/instance            instance root
//	<base>/.builder/<name>/instance-overlay    instance upper
//	<base>/.builder/<name>/instance-workdir    instance work
//	<base>/.builder/<name>/workspace-overlay   workspace upper
//	<base>/.builder/<name>/workspace-workdir   workspace work
//
// This layout is the only persisted state; existing instance directories
// from other builders are reused as-is.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	builder "github.com/aoinb/builder"
)

const (
	MetadataDir = ".builder"

	InstanceDir         = "instance"
	InstanceOverlayDir  = "instance-overlay"
	InstanceWorkdirDir  = "instance-workdir"
	WorkspaceOverlayDir = "workspace-overlay"
	WorkspaceWorkdirDir = "workspace-workdir"

	dirPerm = 0755
)

type Layout struct {
	BaseDir string

	InstanceRoot  string
	InstanceUpper string
	InstanceWork  string

	WorkspaceRoot  string
	WorkspaceUpper string
	WorkspaceWork  string
}

// New computes the layout for instance name under baseDir. It touches
// nothing on disk.
func New(baseDir, name string) (Layout, error) {
	if err := ValidateName(name); err != nil {
		return Layout{}, err
	}

	if baseDir == "" {
		return Layout{}, builder.ConfigError{Reason: "base directory not set"}
	}

	base, err := filepath.Abs(baseDir)
	if err != nil {
		return Layout{}, builder.IoError{Op: "resolve", Path: baseDir, Err: err}
	}

	if strings.ContainsAny(base, ",:\x00\n") {
		return Layout{}, builder.ConfigError{Reason: fmt.Sprintf("base directory %q contains an overlay option separator", base)}
	}

	meta := filepath.Join(base, MetadataDir, name)

	return Layout{
		BaseDir: base,

		InstanceRoot:  filepath.Join(meta, InstanceDir),
		InstanceUpper: filepath.Join(meta, InstanceOverlayDir),
		InstanceWork:  filepath.Join(meta, InstanceWorkdirDir),

		WorkspaceRoot:  filepath.Join(base, name),
		WorkspaceUpper: filepath.Join(meta, WorkspaceOverlayDir),
		WorkspaceWork:  filepath.Join(meta, WorkspaceWorkdirDir),
	}, nil
}

// Ensure computes the layout and creates it.
func Ensure(baseDir, name string) (Layout, error) {
	l, err := New(baseDir, name)
	if err != nil {
		return Layout{}, err
	}

	return l, l.Ensure()
}

// ValidateName rejects instance names that would escape the base directory
// or corrupt overlay mount options.
func ValidateName(name string) error {
	switch {
	case name == "":
		return builder.ConfigError{Reason: "instance name is empty"}
	case name == "." || name == "..":
		return builder.ConfigError{Reason: fmt.Sprintf("invalid instance name %q", name)}
	case name == MetadataDir:
		return builder.ConfigError{Reason: fmt.Sprintf("instance name %q is reserved", name)}
	case strings.ContainsAny(name, "/,:\x00\n\r"):
		return builder.ConfigError{Reason: fmt.Sprintf("instance name %q contains a reserved character", name)}
	}

	return nil
}

// Paths returns every directory of the layout, parents first.
func (l Layout) Paths() []string {
	return []string{
		l.BaseDir,
		l.InstanceRoot,
		l.InstanceUpper,
		l.InstanceWork,
		l.WorkspaceRoot,
		l.WorkspaceUpper,
		l.WorkspaceWork,
	}
}

// Ensure creates every directory that is missing. Existing directories are
// left alone, so calling it again is a no-op.
func (l Layout) Ensure() error {
	for _, dir := range l.Paths() {
		if err := ensureDir(dir); err != nil {
			return err
		}
	}

	return nil
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return builder.IoError{Op: "mkdir", Path: dir, Err: fmt.Errorf("exists and is not a directory")}
		}

		return nil
	}

	if !os.IsNotExist(err) {
		return builder.IoError{Op: "stat", Path: dir, Err: err}
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return builder.IoError{Op: "mkdir", Path: dir, Err: err}
	}

	return nil
}
