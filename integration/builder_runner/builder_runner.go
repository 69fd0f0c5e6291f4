// Package builder_runner starts a compiled aoinb-builder serving its API,
// for integration tests.
package builder_runner

import (
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo"
	"github.com/onsi/gomega/gexec"

	"github.com/aoinb/builder/client"
	"github.com/aoinb/builder/client/connection"
)

type BuilderRunner struct {
	Network string
	Addr    string

	WorkDir   string
	BaseImage string
	Instances []string

	builderBin string
	session    *gexec.Session

	tmpdir string
}

func New(builderBin, baseImage string, instances ...string) (*BuilderRunner, error) {
	runner := &BuilderRunner{
		Network:   "tcp",
		BaseImage: baseImage,
		Instances: instances,

		builderBin: builderBin,
	}

	return runner, runner.Prepare()
}

func (r *BuilderRunner) Prepare() error {
	var err error

	r.tmpdir, err = ioutil.TempDir("", "builder-server")
	if err != nil {
		return err
	}

	r.WorkDir = filepath.Join(r.tmpdir, "work")

	if err := os.Mkdir(r.WorkDir, 0755); err != nil {
		return err
	}

	r.Addr, err = freeAddr()

	return err
}

func (r *BuilderRunner) ConfigPath() string {
	return filepath.Join(r.tmpdir, "builder.yml")
}

func (r *BuilderRunner) Start(argv ...string) error {
	config := fmt.Sprintf(
		"work_dir: %s\nbase_image: %s\nlisten_network: %s\nlisten_addr: %s\nlog_level: debug\ninstances: [%s]\n",
		r.WorkDir, r.BaseImage, r.Network, r.Addr, strings.Join(r.Instances, ", "),
	)

	err := ioutil.WriteFile(r.ConfigPath(), []byte(config), 0644)
	if err != nil {
		return err
	}

	args := append([]string{"--config", r.ConfigPath(), "--serve"}, argv...)

	session, err := gexec.Start(exec.Command(r.builderBin, args...), GinkgoWriter, GinkgoWriter)
	if err != nil {
		return err
	}

	r.session = session

	return r.WaitForStart()
}

func (r *BuilderRunner) WaitForStart() error {
	timeout := 10 * time.Second
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	for {
		conn, dialErr := net.Dial(r.Network, r.Addr)
		if dialErr == nil {
			conn.Close()
			return nil
		}

		select {
		case <-r.session.Exited:
			return fmt.Errorf("builder exited with status %d before listening", r.session.ExitCode())
		case <-timeoutTimer.C:
			return fmt.Errorf("builder did not come up within %s: %s", timeout, dialErr)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Stop interrupts the server and returns its exit status.
func (r *BuilderRunner) Stop() (int, error) {
	if r.session == nil {
		return 0, nil
	}

	r.session.Interrupt()

	select {
	case <-r.session.Exited:
		return r.session.ExitCode(), nil
	case <-time.After(10 * time.Second):
		r.session.Kill()
		return -1, fmt.Errorf("builder did not stop within 10s")
	}
}

func (r *BuilderRunner) TearDown() error {
	return os.RemoveAll(r.tmpdir)
}

func (r *BuilderRunner) NewClient() client.Client {
	return client.New(connection.New(r.Network, r.Addr))
}

func freeAddr() (string, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}

	defer listener.Close()

	return listener.Addr().String(), nil
}
