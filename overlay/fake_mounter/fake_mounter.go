package fake_mounter

import (
	"sync"
	"syscall"

	builder "github.com/aoinb/builder"
)

// FakeMounter keeps an in-memory mount table and fails the way the kernel
// would: EBUSY mounting over a mount or unmounting a layer still in use,
// EINVAL unmounting something that is not mounted.
type FakeMounter struct {
	mounts map[string]Mount
	calls  []Call

	mountErrors   map[string]error
	unmountErrors map[string]error

	sync.Mutex
}

type Mount struct {
	Lower  string
	Upper  string
	Work   string
	Target string
}

type Call struct {
	Op     string
	Target string
}

func New() *FakeMounter {
	return &FakeMounter{
		mounts:        map[string]Mount{},
		mountErrors:   map[string]error{},
		unmountErrors: map[string]error{},
	}
}

func (m *FakeMounter) Mount(lower, upper, work, target string) error {
	m.Lock()
	defer m.Unlock()

	m.calls = append(m.calls, Call{Op: "mount", Target: target})

	if err, found := m.mountErrors[target]; found {
		return err
	}

	if _, found := m.mounts[target]; found {
		return builder.MountError{Op: "mount", Target: target, Errno: syscall.EBUSY}
	}

	m.mounts[target] = Mount{Lower: lower, Upper: upper, Work: work, Target: target}

	return nil
}

func (m *FakeMounter) Unmount(target string) error {
	m.Lock()
	defer m.Unlock()

	m.calls = append(m.calls, Call{Op: "unmount", Target: target})

	if err, found := m.unmountErrors[target]; found {
		return err
	}

	if _, found := m.mounts[target]; !found {
		return builder.MountError{Op: "unmount", Target: target, Errno: syscall.EINVAL}
	}

	for _, other := range m.mounts {
		if other.Lower == target {
			return builder.MountError{Op: "unmount", Target: target, Errno: syscall.EBUSY}
		}
	}

	delete(m.mounts, target)

	return nil
}

func (m *FakeMounter) Mounted(target string) (bool, error) {
	m.Lock()
	defer m.Unlock()

	_, found := m.mounts[target]

	return found, nil
}

// FailMount makes every later mount onto target fail with err.
func (m *FakeMounter) FailMount(target string, err error) {
	m.Lock()
	defer m.Unlock()

	m.mountErrors[target] = err
}

// FailUnmount makes every later unmount of target fail with err until
// cleared with a nil err.
func (m *FakeMounter) FailUnmount(target string, err error) {
	m.Lock()
	defer m.Unlock()

	if err == nil {
		delete(m.unmountErrors, target)
		return
	}

	m.unmountErrors[target] = err
}

// Preload marks target as already mounted, as if left behind by another
// process.
func (m *FakeMounter) Preload(mount Mount) {
	m.Lock()
	defer m.Unlock()

	m.mounts[mount.Target] = mount
}

func (m *FakeMounter) Mounts() map[string]Mount {
	m.Lock()
	defer m.Unlock()

	mounts := map[string]Mount{}
	for k, v := range m.mounts {
		mounts[k] = v
	}

	return mounts
}

func (m *FakeMounter) Calls() []Call {
	m.Lock()
	defer m.Unlock()

	return append([]Call{}, m.calls...)
}
