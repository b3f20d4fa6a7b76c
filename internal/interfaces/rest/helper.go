package rest

import (
	"fmt"
	"path"

	"github.com/labstack/echo/v4"
)

type endpoint struct {
	apiVersion  string
	middlewares []echo.MiddlewareFunc
	groups      []*apiGroup
}

type apiGroup struct {
	prefix      string
	middlewares []echo.MiddlewareFunc
	routes      []*route
	// streaming routes hold the connection open, request deadlines do not apply
	streaming bool
}

type route struct {
	method      string
	path        string
	handler     echo.HandlerFunc
	middlewares []echo.MiddlewareFunc
}

// routeTable routes registered by createEndpoint
type routeTable struct {
	routes    []*echo.Route
	streaming map[string]bool // keyed by echo route path
}

func newRouteTable() *routeTable {
	return &routeTable{streaming: make(map[string]bool)}
}

// isStreaming whether the matched route of c belongs to a streaming group
func (rt *routeTable) isStreaming(c echo.Context) bool {
	return rt.streaming[c.Path()]
}

var allowedMethods = map[string]bool{
	echo.GET:    true,
	echo.POST:   true,
	echo.PUT:    true,
	echo.PATCH:  true,
	echo.DELETE: true,
	echo.HEAD:   true,
}

func createEndpoint(app *echo.Echo, table *routeTable, def *endpoint) {
	base := path.Join("/", def.apiVersion)
	root := app.Group(base, def.middlewares...)

	for _, group := range def.groups {
		echoGroup := root.Group(group.prefix, group.middlewares...)
		for _, api := range group.routes {
			if !allowedMethods[api.method] {
				panic(fmt.Errorf("createEndpoint: unknown method %s", api.method))
			}
			r := echoGroup.Add(api.method, api.path, api.handler, api.middlewares...)
			table.routes = append(table.routes, r)
			if group.streaming {
				table.streaming[path.Join(base, group.prefix, api.path)] = true
			}
		}
	}
}
