package builder_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"syscall"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	builder "github.com/aoinb/builder"
)

var _ = Describe("Errors", func() {
	DescribeTable("exit codes",
		func(err error, code int) {
			Expect(builder.ExitCode(err)).To(Equal(code))
		},
		Entry("no error", nil, 0),
		Entry("ConfigError", builder.ConfigError{Reason: "base image not set"}, 2),
		Entry("IoError", builder.IoError{Op: "mkdir", Path: "/x", Err: syscall.EACCES}, 3),
		Entry("MountError", builder.MountError{Op: "mount", Target: "/x", Errno: syscall.EBUSY}, 4),
		Entry("BusyError", builder.BusyError{Active: 1}, 5),
		Entry("InvalidStateError", builder.InvalidStateError{Op: "run", State: builder.Down}, 6),
		Entry("a wrapped MountError", fmt.Errorf("demo: %w", builder.MountError{Errno: syscall.EINVAL}), 4),
		Entry("anything else", errors.New("boom"), 1),
	)

	DescribeTable("status codes",
		func(err error, code int) {
			Expect(builder.Error{Err: err}.StatusCode()).To(Equal(code))
		},
		Entry("ConfigError", builder.ConfigError{}, http.StatusBadRequest),
		Entry("BusyError", builder.BusyError{Updating: true}, http.StatusConflict),
		Entry("InvalidStateError", builder.InvalidStateError{}, http.StatusConflict),
		Entry("InstanceNotFoundError", builder.InstanceNotFoundError{Name: "x"}, http.StatusNotFound),
		Entry("MountError", builder.MountError{}, http.StatusInternalServerError),
		Entry("anything else", errors.New("boom"), http.StatusInternalServerError),
	)

	Describe("messages", func() {
		It("describes a MountError by its errno", func() {
			err := builder.MountError{Op: "unmount", Target: "/srv/stable", Errno: syscall.EINVAL}
			Expect(err.Error()).To(Equal("unmount overlay /srv/stable: invalid argument"))
			Expect(errors.Is(err, syscall.EINVAL)).To(BeTrue())
		})

		It("prefers an explicit MountError message", func() {
			err := builder.MountError{Op: "mount", Target: "/x", Message: "bad options"}
			Expect(err.Error()).To(Equal("mount overlay /x: bad options"))
			Expect(errors.Unwrap(err)).To(BeNil())
		})

		It("distinguishes the two BusyError refusals", func() {
			Expect(builder.BusyError{Updating: true}.Error()).To(Equal("base image is being updated"))
			Expect(builder.BusyError{Active: 2}.Error()).To(Equal("cannot update base image: 2 container(s) still up"))
		})

		It("unwraps an IoError to its cause", func() {
			err := builder.IoError{Op: "remove", Path: "/x", Err: syscall.EACCES}
			Expect(errors.Is(err, syscall.EACCES)).To(BeTrue())
		})
	})

	Describe("the API envelope", func() {
		roundTrip := func(err error) error {
			payload, marshalErr := json.Marshal(builder.Error{Err: err})
			Expect(marshalErr).ToNot(HaveOccurred())

			var decoded builder.Error
			Expect(json.Unmarshal(payload, &decoded)).To(Succeed())

			return decoded.Err
		}

		It("keeps the kind and fields of each error", func() {
			Expect(roundTrip(builder.ConfigError{Reason: "nope"})).To(Equal(builder.ConfigError{Reason: "nope"}))
			Expect(roundTrip(builder.BusyError{Active: 3})).To(Equal(builder.BusyError{Active: 3}))
			Expect(roundTrip(builder.InvalidStateError{Op: "up", State: builder.Up})).To(Equal(builder.InvalidStateError{Op: "up", State: builder.Up}))
			Expect(roundTrip(builder.InstanceNotFoundError{Name: "x"})).To(Equal(builder.InstanceNotFoundError{Name: "x"}))
			Expect(roundTrip(builder.MountError{Op: "mount", Target: "/x", Errno: syscall.EBUSY})).To(Equal(builder.MountError{Op: "mount", Target: "/x", Errno: syscall.EBUSY}))
		})

		It("keeps the message of an IoError", func() {
			err := roundTrip(builder.IoError{Op: "mkdir", Path: "/x", Err: syscall.EACCES})
			Expect(err).To(BeAssignableToTypeOf(builder.IoError{}))
			Expect(err.Error()).To(Equal("mkdir /x: permission denied"))
		})

		It("keeps the message of a rejected mount", func() {
			rejected := builder.MountError{
				Op:      "mount",
				Target:  "/srv/stable",
				Errno:   syscall.EINVAL,
				Message: `path "/a,b" contains an overlay option separator`,
			}

			err := roundTrip(rejected)
			Expect(err).To(Equal(rejected))
			Expect(err.Error()).To(ContainSubstring("option separator"))
		})

		It("falls back to a plain error for unknown kinds", func() {
			Expect(roundTrip(errors.New("boom"))).To(MatchError("boom"))
		})
	})
})
