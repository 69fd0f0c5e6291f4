package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"

	"code.cloudfoundry.org/lager"
	"github.com/tedsuo/rata"

	"github.com/aoinb/builder/base_image"
	"github.com/aoinb/builder/linux_backend/container_pool"
	"github.com/aoinb/builder/routes"
)

type BuilderServer struct {
	logger lager.Logger

	server        http.Server
	listenNetwork string
	listenAddr    string

	listener net.Listener

	// requests is the parent of every served request's context; Stop
	// cancels it once its own deadline has passed.
	requests       context.Context
	cancelRequests context.CancelFunc

	pool      *container_pool.ContainerPool
	baseImage *base_image.Registry

	started bool
	mu      sync.Mutex
}

func New(
	listenNetwork, listenAddr string,
	pool *container_pool.ContainerPool,
	baseImage *base_image.Registry,
	logger lager.Logger,
) *BuilderServer {
	s := &BuilderServer{
		logger: logger.Session("builder-server"),

		listenNetwork: listenNetwork,
		listenAddr:    listenAddr,

		pool:      pool,
		baseImage: baseImage,
	}

	handlers := rata.Handlers{
		routes.Ping:            http.HandlerFunc(s.handlePing),
		routes.BaseImage:       http.HandlerFunc(s.handleBaseImage),
		routes.UpdateBaseImage: http.HandlerFunc(s.handleUpdateBaseImage),
		routes.List:            http.HandlerFunc(s.handleList),
		routes.Create:          http.HandlerFunc(s.handleCreate),
		routes.Info:            http.HandlerFunc(s.handleInfo),
		routes.Destroy:         http.HandlerFunc(s.handleDestroy),
		routes.Up:              http.HandlerFunc(s.handleUp),
		routes.Down:            http.HandlerFunc(s.handleDown),
		routes.Run:             http.HandlerFunc(s.handleRun),
		routes.CopyIn:          http.HandlerFunc(s.handleCopyIn),
		routes.Cleanup:         http.HandlerFunc(s.handleCleanup),
		routes.Metrics:         http.HandlerFunc(s.handleMetrics),
	}

	mux, err := rata.NewRouter(routes.Routes, handlers)
	if err != nil {
		logger.Fatal("failed-to-initialize-rata", err)
	}

	s.requests, s.cancelRequests = context.WithCancel(context.Background())

	s.server = http.Server{
		Handler: mux,
		BaseContext: func(net.Listener) context.Context {
			return s.requests
		},
	}

	return s
}

func (s *BuilderServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *BuilderServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.removeExistingSocket()
	if err != nil {
		return err
	}

	listener, err := net.Listen(s.listenNetwork, s.listenAddr)
	if err != nil {
		return err
	}

	s.listener = listener
	s.started = true

	if s.listenNetwork == "unix" {
		os.Chmod(s.listenAddr, 0770)
	}

	s.logger.Info("listening", lager.Data{"addr": listener.Addr().String()})

	go s.server.Serve(listener)

	return nil
}

func (s *BuilderServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Stop stops accepting requests, waits for in-flight ones and then brings
// every instance down. Requests still running when ctx is done are cancelled,
// interrupting their commands.
func (s *BuilderServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	if started {
		s.logger.Info("waiting-for-requests")

		err := s.server.Shutdown(ctx)
		if err != nil {
			s.logger.Error("failed-to-shut-down", err)
		}
	}

	s.cancelRequests()

	s.logger.Info("destroying-instances")

	err := s.pool.DestroyAll()
	if err != nil {
		s.logger.Error("failed-to-destroy-instances", err)
		return err
	}

	s.logger.Info("stopped")

	return nil
}

func (s *BuilderServer) removeExistingSocket() error {
	if s.listenNetwork != "unix" {
		return nil
	}

	if _, err := os.Stat(s.listenAddr); os.IsNotExist(err) {
		return nil
	}

	err := os.Remove(s.listenAddr)
	if err != nil {
		return fmt.Errorf("error deleting existing socket: %s", err)
	}

	return nil
}
