package overlay

import (
	"fmt"
	"strings"
	"syscall"

	builder "github.com/aoinb/builder"
)

// Options builds the overlayfs mount data for a single lower layer.
//
// overlayfs splits its data on ',' and lowerdir on ':', and neither can be
// escaped, so paths containing them are refused rather than mounted with
// options the caller did not ask for.
func Options(lower, upper, work string) (string, error) {
	for _, dir := range []struct{ name, path string }{
		{"lowerdir", lower},
		{"upperdir", upper},
		{"workdir", work},
	} {
		if dir.path == "" {
			return "", builder.MountError{
				Op:      "mount",
				Errno:   syscall.EINVAL,
				Message: fmt.Sprintf("%s is empty", dir.name),
			}
		}

		if strings.ContainsAny(dir.path, ",:\x00\n\r") {
			return "", builder.MountError{
				Op:      "mount",
				Errno:   syscall.EINVAL,
				Message: fmt.Sprintf("%s %q contains an option separator", dir.name, dir.path),
			}
		}
	}

	return fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", lower, upper, work), nil
}
