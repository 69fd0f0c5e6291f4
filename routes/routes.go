package routes

import "github.com/tedsuo/rata"

const (
	Ping = "Ping"

	BaseImage       = "BaseImage"
	UpdateBaseImage = "UpdateBaseImage"

	List    = "List"
	Create  = "Create"
	Info    = "Info"
	Destroy = "Destroy"

	Up      = "Up"
	Down    = "Down"
	Run     = "Run"
	CopyIn  = "CopyIn"
	Cleanup = "Cleanup"

	Metrics = "Metrics"
)

var Routes = rata.Routes{
	{Path: "/ping", Method: "GET", Name: Ping},

	{Path: "/base", Method: "GET", Name: BaseImage},
	{Path: "/base/update", Method: "PUT", Name: UpdateBaseImage},

	{Path: "/instances", Method: "GET", Name: List},
	{Path: "/instances", Method: "POST", Name: Create},

	{Path: "/instances/:name", Method: "GET", Name: Info},
	{Path: "/instances/:name", Method: "DELETE", Name: Destroy},

	{Path: "/instances/:name/up", Method: "PUT", Name: Up},
	{Path: "/instances/:name/down", Method: "PUT", Name: Down},
	{Path: "/instances/:name/run", Method: "POST", Name: Run},
	{Path: "/instances/:name/files", Method: "PUT", Name: CopyIn},
	{Path: "/instances/:name/cleanup", Method: "PUT", Name: Cleanup},

	{Path: "/metrics", Method: "GET", Name: Metrics},
}
