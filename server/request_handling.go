package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"code.cloudfoundry.org/lager"

	builder "github.com/aoinb/builder"
	"github.com/aoinb/builder/metrics"
)

var ErrInvalidContentType = errors.New("content-type must be application/json")

type CreateRequest struct {
	Name string `json:"name"`
}

type RunRequest struct {
	Command string `json:"command"`

	// Timeout is a Go duration string; empty means no limit beyond the
	// builder's own.
	Timeout string `json:"timeout,omitempty"`
}

type RunResponse struct {
	ExitStatus int `json:"exit_status"`
}

type CopyInRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

func (s *BuilderServer) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeSuccess(w)
}

func (s *BuilderServer) handleBaseImage(w http.ResponseWriter, r *http.Request) {
	s.writeResponse(w, s.baseImage.Info())
}

func (s *BuilderServer) handleUpdateBaseImage(w http.ResponseWriter, r *http.Request) {
	hLog := s.logger.Session("update-base-image")

	hLog.Debug("updating")

	status, err := s.baseImage.Update(r.Context())
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Info("updated", lager.Data{"status": status})

	s.writeResponse(w, RunResponse{ExitStatus: status})
}

func (s *BuilderServer) handleList(w http.ResponseWriter, r *http.Request) {
	hLog := s.logger.Session("list")

	infos := []builder.ContainerInfo{}

	for _, container := range s.pool.List() {
		info, err := container.Info()
		if err != nil {
			s.writeError(w, err, hLog)
			return
		}

		infos = append(infos, info)
	}

	s.writeResponse(w, infos)
}

func (s *BuilderServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var request CreateRequest
	if !s.readRequest(&request, w, r) {
		return
	}

	hLog := s.logger.Session("create", lager.Data{
		"name": request.Name,
	})

	hLog.Debug("creating")

	container, err := s.pool.Create(request.Name)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	info, err := container.Info()
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Info("created")

	s.writeResponse(w, info)
}

func (s *BuilderServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue(":name")

	hLog := s.logger.Session("info", lager.Data{
		"name": name,
	})

	container, err := s.pool.Lookup(name)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	info, err := container.Info()
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	s.writeResponse(w, info)
}

func (s *BuilderServer) handleDestroy(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue(":name")

	hLog := s.logger.Session("destroy", lager.Data{
		"name": name,
	})

	hLog.Debug("destroying")

	err := s.pool.Destroy(name)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Info("destroyed")

	s.writeSuccess(w)
}

func (s *BuilderServer) handleUp(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue(":name")

	hLog := s.logger.Session("up", lager.Data{
		"name": name,
	})

	container, err := s.pool.Lookup(name)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Debug("mounting")

	err = container.Up()
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Info("mounted")

	s.writeSuccess(w)
}

func (s *BuilderServer) handleDown(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue(":name")

	hLog := s.logger.Session("down", lager.Data{
		"name": name,
	})

	container, err := s.pool.Lookup(name)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Debug("unmounting")

	err = container.Down()
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Info("unmounted")

	s.writeSuccess(w)
}

func (s *BuilderServer) handleRun(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue(":name")

	var request RunRequest
	if !s.readRequest(&request, w, r) {
		return
	}

	hLog := s.logger.Session("run", lager.Data{
		"name":    name,
		"command": request.Command,
		"timeout": request.Timeout,
	})

	container, err := s.pool.Lookup(name)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	ctx := r.Context()

	if request.Timeout != "" {
		timeout, err := time.ParseDuration(request.Timeout)
		if err != nil {
			s.writeError(w, builder.ConfigError{Reason: "invalid timeout: " + err.Error()}, hLog)
			return
		}

		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	hLog.Debug("running")

	status, err := container.Run(ctx, request.Command)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Info("exited", lager.Data{"status": status})

	s.writeResponse(w, RunResponse{ExitStatus: status})
}

func (s *BuilderServer) handleCopyIn(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue(":name")

	var request CopyInRequest
	if !s.readRequest(&request, w, r) {
		return
	}

	hLog := s.logger.Session("copy-in", lager.Data{
		"name":        name,
		"source":      request.Source,
		"destination": request.Destination,
	})

	container, err := s.pool.Lookup(name)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	err = container.CopyIn(request.Source, request.Destination)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Info("copied")

	s.writeSuccess(w)
}

func (s *BuilderServer) handleCleanup(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue(":name")

	hLog := s.logger.Session("cleanup", lager.Data{
		"name": name,
	})

	container, err := s.pool.Lookup(name)
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	err = container.Cleanup()
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	hLog.Info("cleaned")

	s.writeSuccess(w)
}

func (s *BuilderServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	hLog := s.logger.Session("metrics")

	rows, err := metrics.Snapshot()
	if err != nil {
		s.writeError(w, err, hLog)
		return
	}

	s.writeResponse(w, rows)
}

func (s *BuilderServer) writeError(w http.ResponseWriter, err error, logger lager.Logger) {
	logger.Error("failed", err)

	wrapped := builder.Error{Err: err}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(wrapped.StatusCode())

	json.NewEncoder(w).Encode(wrapped)
}

func (s *BuilderServer) writeSuccess(w http.ResponseWriter) {
	s.writeResponse(w, &struct{}{})
}

func (s *BuilderServer) writeResponse(w http.ResponseWriter, msg interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msg)
}

func (s *BuilderServer) readRequest(msg interface{}, w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Content-Type") != "application/json" {
		s.writeError(w, builder.ConfigError{Reason: ErrInvalidContentType.Error()}, s.logger)
		return false
	}

	err := json.NewDecoder(r.Body).Decode(msg)
	if err != nil {
		s.writeError(w, builder.ConfigError{Reason: "malformed request: " + err.Error()}, s.logger)
		return false
	}

	return true
}
