// Package server serves the widget's tools and resources over MCP.
//
// The package provides:
//
//   - Server: binds the capability providers to a session's method table
//   - Invoker: validates tool input against the declared schema and runs handlers
//   - Renderer: produces resource contents on each read
//   - HTTPHandler: runs one session per HTTP request and closes it exactly once
//   - NewRouter: the chi router with /health, /mcp and /metrics
//
// # Serving a Registry
//
//	b := registry.NewBuilder()
//	if err := widget.NewHello(bundle, nil).Register(b); err != nil {
//	    return err
//	}
//
//	srv := server.New(
//	    server.WithRegistry(b.Freeze()),
//	    server.WithLogger(logger),
//	    server.WithObserver(observer),
//	)
//
//	handler := server.NewHTTPHandler(srv, server.WithSessionMetrics(observer.Metrics()))
//	router := server.NewRouter(handler, observer, logger, server.RouterConfig{
//	    AllowedOrigins: []string{"*"},
//	})
//
// # Error Mapping
//
// Unknown tools and resources are answered with JSON-RPC error -32002 and
// schema violations with -32602. A tool whose handler fails still produces a
// successful response whose result has isError set, so the calling model can
// read the failure.
package server
