package nspawn_test

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"code.cloudfoundry.org/lager/lagertest"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/aoinb/builder/command_runner"
	"github.com/aoinb/builder/command_runner/fake_command_runner"
	. "github.com/aoinb/builder/command_runner/fake_command_runner/matchers"
	"github.com/aoinb/builder/nspawn"
)

type exitError int

func (e exitError) Error() string { return "exit status" }
func (e exitError) ExitCode() int { return int(e) }

var _ = Describe("Executor", func() {
	var (
		fakeRunner *fake_command_runner.FakeCommandRunner
		logger     *lagertest.TestLogger
		stdout     *bytes.Buffer
		opts       nspawn.Options
		executor   *nspawn.Executor
	)

	BeforeEach(func() {
		fakeRunner = fake_command_runner.New()
		logger = lagertest.NewTestLogger("test")
		stdout = new(bytes.Buffer)
		opts = nspawn.Options{Path: "/usr/bin/systemd-nspawn", Stdout: stdout}
	})

	JustBeforeEach(func() {
		executor = nspawn.New(fakeRunner, logger, opts)
	})

	It("runs the command through a shell inside the root", func() {
		status, err := executor.Execute(context.Background(), "/work/stable", "echo hi")
		Expect(err).ToNot(HaveOccurred())
		Expect(status).To(Equal(0))

		Expect(fakeRunner).To(HaveExecutedSerially(
			fake_command_runner.CommandSpec{
				Path: "/usr/bin/systemd-nspawn",
				Args: []string{"--quiet", "-D", "/work/stable", "/bin/sh", "-c", "echo hi"},
			},
		))
	})

	It("streams output to the configured writers", func() {
		Expect(fakeRunner.StartedCommands()).To(BeEmpty())

		_, err := executor.Execute(context.Background(), "/work/stable", "true")
		Expect(err).ToNot(HaveOccurred())

		started := fakeRunner.StartedCommands()
		Expect(started).To(HaveLen(1))
		Expect(started[0].Stdout).To(Equal(stdout))
		Expect(fakeRunner.WaitedCommands()).To(HaveLen(1))
	})

	It("logs the exit status", func() {
		_, err := executor.Execute(context.Background(), "/work/stable", "true")
		Expect(err).ToNot(HaveOccurred())

		Expect(logger.LogMessages()).To(ContainElement("test.nspawn.execute.exited"))
	})

	Context("when the command exits non-zero", func() {
		BeforeEach(func() {
			fakeRunner.WhenWaitingFor(fake_command_runner.CommandSpec{}, func(*exec.Cmd) error {
				return exitError(42)
			})
		})

		It("returns the exit status without an error", func() {
			status, err := executor.Execute(context.Background(), "/work/stable", "false")
			Expect(err).ToNot(HaveOccurred())
			Expect(status).To(Equal(42))
		})
	})

	Context("when waiting fails without an exit status", func() {
		BeforeEach(func() {
			fakeRunner.WhenWaitingFor(fake_command_runner.CommandSpec{}, func(*exec.Cmd) error {
				return errors.New("oh no!")
			})
		})

		It("surfaces the failure as a status", func() {
			status, err := executor.Execute(context.Background(), "/work/stable", "true")
			Expect(err).ToNot(HaveOccurred())
			Expect(status).To(Equal(nspawn.StartFailedStatus))
		})
	})

	Context("when the isolation tool cannot be started", func() {
		It("surfaces the failure as a status", func() {
			executor := nspawn.New(command_runner.New(logger), logger, nspawn.Options{Path: "/nonexistent/systemd-nspawn"})

			status, err := executor.Execute(context.Background(), "/work/stable", "true")
			Expect(err).ToNot(HaveOccurred())
			Expect(status).To(Equal(nspawn.StartFailedStatus))
		})
	})

	Context("when the command outlives its timeout", func() {
		BeforeEach(func() {
			opts.Timeout = 10 * time.Millisecond

			fakeRunner.WhenWaitingFor(fake_command_runner.CommandSpec{}, func(*exec.Cmd) error {
				time.Sleep(100 * time.Millisecond)
				return exitError(137)
			})
		})

		It("returns the context error", func() {
			status, err := executor.Execute(context.Background(), "/work/stable", "sleep 1000")
			Expect(err).To(Equal(context.DeadlineExceeded))
			Expect(status).To(Equal(-1))
		})
	})

	Context("when the caller cancels", func() {
		It("returns the context error", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := executor.Execute(ctx, "/work/stable", "true")
			Expect(err).To(Equal(context.Canceled))
		})
	})
})

var _ = Describe("ExitStatus", func() {
	It("is 0 for success", func() {
		Expect(nspawn.ExitStatus(nil)).To(Equal(0))
	})

	It("uses the exit code of a real process", func() {
		err := exec.Command("/bin/sh", "-c", "exit 7").Run()
		Expect(nspawn.ExitStatus(err)).To(Equal(7))
	})
})
