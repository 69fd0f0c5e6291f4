package builder

import "context"

type State int

const (
	Down State = iota
	Up
)

func (s State) String() string {
	switch s {
	case Down:
		return "down"
	case Up:
		return "up"
	}

	return "unknown"
}

func parseState(s string) State {
	if s == "up" {
		return Up
	}

	return Down
}

// Mounter owns kernel overlay mount state. It keeps nothing in memory; the
// kernel decides what is mounted.
type Mounter interface {
	// Mount mounts an overlay of lower, with upper as the writable layer and
	// work as overlayfs' scratch directory, onto target.
	//
	// Errors:
	// * MountError, carrying the errno.
	Mount(lower, upper, work, target string) error

	// Unmount reverses a mount at target.
	//
	// Errors:
	// * MountError, carrying the errno.
	Unmount(target string) error

	// Mounted reports whether target is currently a mount point.
	Mounted(target string) (bool, error)
}

// Executor runs a command line inside a root directory with OS-level
// namespace isolation.
type Executor interface {
	// Execute blocks until the command exits and returns its exit status.
	// Failures of the command itself are reported through the status; an
	// error is returned only when ctx ends before the command does.
	Execute(ctx context.Context, root, command string) (int, error)
}

type ContainerInfo struct {
	Name  string `json:"name"`
	State string `json:"state"`

	BaseDir        string `json:"base_dir"`
	InstanceRoot   string `json:"instance_root"`
	InstanceUpper  string `json:"instance_upper"`
	InstanceWork   string `json:"instance_work"`
	WorkspaceRoot  string `json:"workspace_root"`
	WorkspaceUpper string `json:"workspace_upper"`
	WorkspaceWork  string `json:"workspace_work"`

	InstanceMounted  bool `json:"instance_mounted"`
	WorkspaceMounted bool `json:"workspace_mounted"`
}

type BaseImageInfo struct {
	Path     string `json:"path"`
	Active   int    `json:"active"`
	Updating bool   `json:"updating"`
}
