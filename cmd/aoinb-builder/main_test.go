//go:build linux

package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"syscall"

	"code.cloudfoundry.org/lager/lagertest"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"

	builder "github.com/aoinb/builder"
	"github.com/aoinb/builder/base_image"
	"github.com/aoinb/builder/command_runner/fake_command_runner"
	"github.com/aoinb/builder/linux_backend/container_pool"
	"github.com/aoinb/builder/nspawn/fake_executor"
	"github.com/aoinb/builder/overlay/fake_mounter"
)

var _ = Describe("aoinb-builder", func() {
	var (
		stdout *gbytes.Buffer
		stderr *gbytes.Buffer
	)

	BeforeEach(func() {
		stdout = gbytes.NewBuffer()
		stderr = gbytes.NewBuffer()
	})

	Context("with fewer than two paths", func() {
		It("prints the usage and exits 1", func() {
			err := run([]string{"/srv/build"}, stdout, stderr)
			Expect(err).To(Equal(errUsage))
			Expect(stderr).To(gbytes.Say("Usage: aoinb-builder WORK_PATH BUILDKIT_PATH"))
		})
	})

	Context("with --serve but no config", func() {
		It("returns a ConfigError", func() {
			err := run([]string{"--serve"}, stdout, stderr)
			Expect(err).To(BeAssignableToTypeOf(builder.ConfigError{}))
			Expect(builder.ExitCode(err)).To(Equal(2))
		})
	})

	Context("with an unknown flag", func() {
		It("returns a ConfigError", func() {
			err := run([]string{"--frobnicate", "a", "b"}, stdout, stderr)
			Expect(builder.ExitCode(err)).To(Equal(2))
		})
	})

	Context("with a missing config file", func() {
		It("returns a ConfigError", func() {
			err := run([]string{"--config", "/nonexistent/builder.yml", "--serve"}, stdout, stderr)
			Expect(builder.ExitCode(err)).To(Equal(2))
		})
	})

	Context("with an invalid log level", func() {
		It("returns a ConfigError", func() {
			err := run([]string{"--log-level", "chatty", "/srv/build", "/img"}, stdout, stderr)
			Expect(err).To(MatchError(ContainSubstring("invalid log_level")))
		})
	})

	Context("when the work path is a file", func() {
		It("fails with an IoError before mounting anything", func() {
			tmpdir, err := ioutil.TempDir("", "aoinb-builder")
			Expect(err).ToNot(HaveOccurred())
			defer os.RemoveAll(tmpdir)

			workPath := filepath.Join(tmpdir, "work")
			Expect(ioutil.WriteFile(workPath, []byte("not a dir"), 0644)).To(Succeed())

			err = run([]string{workPath, "/img"}, stdout, stderr)
			Expect(builder.ExitCode(err)).To(Equal(3))
		})
	})

	Describe("the demo", func() {
		var (
			workDir string

			fakeMounter  *fake_mounter.FakeMounter
			fakeExecutor *fake_executor.FakeExecutor
			registry     *base_image.Registry
			pool         *container_pool.ContainerPool
		)

		BeforeEach(func() {
			var err error
			workDir, err = ioutil.TempDir("", "aoinb-builder-demo")
			Expect(err).ToNot(HaveOccurred())

			logger := lagertest.NewTestLogger("test")

			fakeMounter = fake_mounter.New()
			fakeExecutor = fake_executor.New()

			registry = base_image.New(fakeExecutor, "apt-get update", logger)
			registry.SetPath("/img")

			pool = container_pool.New(workDir, registry, fakeMounter, fakeExecutor, fake_command_runner.New(), logger)
		})

		AfterEach(func() {
			os.RemoveAll(workDir)
		})

		It("runs the command in the stable instance and then updates the base image", func() {
			Expect(demo(pool, registry, stdout)).To(Succeed())

			Expect(stdout).To(gbytes.Say("Try to mount container: stable."))
			Expect(stdout).To(gbytes.Say("command exited with status 0"))
			Expect(stdout).To(gbytes.Say("base image update exited with status 0"))

			Expect(fakeExecutor.Executions()).To(Equal([]fake_executor.Execution{
				{Root: filepath.Join(workDir, "stable"), Command: "cat /etc/os-release"},
				{Root: "/img", Command: "apt-get update"},
			}))

			Expect(fakeMounter.Mounts()).To(BeEmpty())
			Expect(registry.Active()).To(BeZero())
		})

		Context("when mounting the workspace fails", func() {
			BeforeEach(func() {
				target := filepath.Join(workDir, "stable")
				fakeMounter.FailMount(target, builder.MountError{Op: "mount", Target: target, Errno: syscall.EPERM})
			})

			It("exits 4 without running anything or leaving mounts behind", func() {
				err := demo(pool, registry, stdout)
				Expect(err).To(BeAssignableToTypeOf(builder.MountError{}))
				Expect(builder.ExitCode(err)).To(Equal(4))

				Expect(fakeExecutor.Executions()).To(BeEmpty())
				Expect(fakeMounter.Mounts()).To(BeEmpty())
				Expect(registry.Active()).To(BeZero())
				Expect(pool.List()).To(BeEmpty())
			})
		})
	})
})
