package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"time"

	"github.com/tedsuo/rata"

	builder "github.com/aoinb/builder"
	"github.com/aoinb/builder/metrics"
	"github.com/aoinb/builder/routes"
	"github.com/aoinb/builder/server"
)

type Connection interface {
	Ping() error

	BaseImage() (builder.BaseImageInfo, error)
	UpdateBaseImage(ctx context.Context) (int, error)

	Create(name string) (builder.ContainerInfo, error)
	List() ([]builder.ContainerInfo, error)
	Info(name string) (builder.ContainerInfo, error)
	Destroy(name string) error

	Up(name string) error
	Down(name string) error
	Run(ctx context.Context, name, command string, timeout time.Duration) (int, error)
	CopyIn(name, src, dst string) error
	Cleanup(name string) error

	Metrics() ([]metrics.Row, error)
}

type connection struct {
	req *rata.RequestGenerator

	httpClient *http.Client
}

func New(network, address string) Connection {
	dialer := func(ctx context.Context, _, _ string) (net.Conn, error) {
		return (&net.Dialer{Timeout: time.Second}).DialContext(ctx, network, address)
	}

	return &connection{
		req: rata.NewRequestGenerator("http://builder", routes.Routes),

		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: dialer,
			},
		},
	}
}

func (c *connection) Ping() error {
	return c.do(context.Background(), routes.Ping, nil, &struct{}{}, nil)
}

func (c *connection) BaseImage() (builder.BaseImageInfo, error) {
	var info builder.BaseImageInfo

	err := c.do(context.Background(), routes.BaseImage, nil, &info, nil)

	return info, err
}

func (c *connection) UpdateBaseImage(ctx context.Context) (int, error) {
	var res server.RunResponse

	err := c.do(ctx, routes.UpdateBaseImage, nil, &res, nil)
	if err != nil {
		return 0, err
	}

	return res.ExitStatus, nil
}

func (c *connection) Create(name string) (builder.ContainerInfo, error) {
	var info builder.ContainerInfo

	err := c.do(context.Background(), routes.Create, server.CreateRequest{Name: name}, &info, nil)

	return info, err
}

func (c *connection) List() ([]builder.ContainerInfo, error) {
	var infos []builder.ContainerInfo

	err := c.do(context.Background(), routes.List, nil, &infos, nil)

	return infos, err
}

func (c *connection) Info(name string) (builder.ContainerInfo, error) {
	var info builder.ContainerInfo

	err := c.do(context.Background(), routes.Info, nil, &info, rata.Params{"name": name})

	return info, err
}

func (c *connection) Destroy(name string) error {
	return c.do(context.Background(), routes.Destroy, nil, &struct{}{}, rata.Params{"name": name})
}

func (c *connection) Up(name string) error {
	return c.do(context.Background(), routes.Up, nil, &struct{}{}, rata.Params{"name": name})
}

func (c *connection) Down(name string) error {
	return c.do(context.Background(), routes.Down, nil, &struct{}{}, rata.Params{"name": name})
}

// Run returns the command's exit status. A zero timeout leaves the bound to
// the server.
func (c *connection) Run(ctx context.Context, name, command string, timeout time.Duration) (int, error) {
	req := server.RunRequest{Command: command}
	if timeout > 0 {
		req.Timeout = timeout.String()
	}

	var res server.RunResponse

	err := c.do(ctx, routes.Run, req, &res, rata.Params{"name": name})
	if err != nil {
		return 0, err
	}

	return res.ExitStatus, nil
}

func (c *connection) CopyIn(name, src, dst string) error {
	return c.do(
		context.Background(),
		routes.CopyIn,
		server.CopyInRequest{Source: src, Destination: dst},
		&struct{}{},
		rata.Params{"name": name},
	)
}

func (c *connection) Cleanup(name string) error {
	return c.do(context.Background(), routes.Cleanup, nil, &struct{}{}, rata.Params{"name": name})
}

func (c *connection) Metrics() ([]metrics.Row, error) {
	var rows []metrics.Row

	err := c.do(context.Background(), routes.Metrics, nil, &rows, nil)

	return rows, err
}

func (c *connection) do(
	ctx context.Context,
	handler string,
	req, res interface{},
	params rata.Params,
) error {
	var body io.Reader

	if req != nil {
		buf := new(bytes.Buffer)

		err := json.NewEncoder(buf).Encode(req)
		if err != nil {
			return err
		}

		body = buf
	}

	request, err := c.req.CreateRequest(handler, params, body)
	if err != nil {
		return err
	}

	if req != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(request.WithContext(ctx))
	if err != nil {
		return err
	}

	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		errResponse, err := ioutil.ReadAll(httpResp.Body)
		if err != nil {
			return fmt.Errorf("bad response: %s", httpResp.Status)
		}

		var builderErr builder.Error
		if err := json.Unmarshal(errResponse, &builderErr); err != nil {
			return fmt.Errorf("bad response: %s: %s", httpResp.Status, errResponse)
		}

		return builderErr.Err
	}

	return json.NewDecoder(httpResp.Body).Decode(res)
}
