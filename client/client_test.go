package client_test

import (
	"context"
	"io/ioutil"
	"net/http/httptest"
	"os"
	"path/filepath"

	"code.cloudfoundry.org/lager/lagertest"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	builder "github.com/aoinb/builder"
	"github.com/aoinb/builder/base_image"
	. "github.com/aoinb/builder/client"
	"github.com/aoinb/builder/client/connection"
	"github.com/aoinb/builder/command_runner/fake_command_runner"
	"github.com/aoinb/builder/linux_backend/container_pool"
	"github.com/aoinb/builder/nspawn/fake_executor"
	"github.com/aoinb/builder/overlay/fake_mounter"
	"github.com/aoinb/builder/server"
)

var _ = Describe("Client", func() {
	var (
		workDir string

		fakeMounter  *fake_mounter.FakeMounter
		fakeExecutor *fake_executor.FakeExecutor

		httpServer *httptest.Server
		client     Client
	)

	BeforeEach(func() {
		var err error
		workDir, err = ioutil.TempDir("", "builder-client")
		Expect(err).ToNot(HaveOccurred())

		logger := lagertest.NewTestLogger("test")
		fakeMounter = fake_mounter.New()
		fakeExecutor = fake_executor.New()

		registry := base_image.New(fakeExecutor, "apt-get update", logger)
		registry.SetPath("/img")

		pool := container_pool.New(workDir, registry, fakeMounter, fakeExecutor, fake_command_runner.New(), logger)

		apiServer := server.New("tcp", "127.0.0.1:0", pool, registry, logger)
		httpServer = httptest.NewServer(apiServer.Handler())

		client = New(connection.New("tcp", httpServer.Listener.Addr().String()))
	})

	AfterEach(func() {
		httpServer.Close()
		os.RemoveAll(workDir)
	})

	It("pings the server", func() {
		Expect(client.Ping()).To(Succeed())
	})

	It("drives an instance through its lifecycle", func() {
		instance, err := client.Create("stable")
		Expect(err).ToNot(HaveOccurred())
		Expect(instance.Name()).To(Equal("stable"))

		Expect(instance.Up()).To(Succeed())

		info, err := instance.Info()
		Expect(err).ToNot(HaveOccurred())
		Expect(info.State).To(Equal("up"))
		Expect(info.WorkspaceMounted).To(BeTrue())

		fakeExecutor.WhenExecuting(func(ctx context.Context, root, command string) (int, error) {
			return 7, nil
		})

		status, err := instance.Run(context.Background(), "cat /etc/os-release", 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(status).To(Equal(7))

		Expect(fakeExecutor.Executions()).To(ContainElement(fake_executor.Execution{
			Root:    filepath.Join(workDir, "stable"),
			Command: "cat /etc/os-release",
		}))

		Expect(instance.Down()).To(Succeed())
		Expect(fakeMounter.Mounts()).To(BeEmpty())

		Expect(instance.Cleanup()).To(Succeed())
	})

	It("refuses a base image update while an instance is up", func() {
		instance, err := client.Create("stable")
		Expect(err).ToNot(HaveOccurred())
		Expect(instance.Up()).To(Succeed())

		_, err = client.UpdateBaseImage(context.Background())
		Expect(err).To(Equal(builder.BusyError{Active: 1}))

		base, err := client.BaseImage()
		Expect(err).ToNot(HaveOccurred())
		Expect(base).To(Equal(builder.BaseImageInfo{Path: "/img", Active: 1}))

		Expect(instance.Down()).To(Succeed())

		status, err := client.UpdateBaseImage(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(status).To(BeZero())
	})

	It("lists and destroys instances", func() {
		_, err := client.Create("stable")
		Expect(err).ToNot(HaveOccurred())

		_, err = client.Create("nightly")
		Expect(err).ToNot(HaveOccurred())

		instances, err := client.Instances()
		Expect(err).ToNot(HaveOccurred())
		Expect(instances).To(HaveLen(2))
		Expect(instances[0].Name()).To(Equal("nightly"))

		Expect(client.Destroy("nightly")).To(Succeed())

		_, err = client.Lookup("nightly")
		Expect(err).To(Equal(builder.InstanceNotFoundError{Name: "nightly"}))
	})

	It("surfaces a down without up as a MountError", func() {
		instance, err := client.Create("stable")
		Expect(err).ToNot(HaveOccurred())

		err = instance.Down()
		Expect(err).To(BeAssignableToTypeOf(builder.MountError{}))
		Expect(builder.ExitCode(err)).To(Equal(4))
	})
})
