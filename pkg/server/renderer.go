package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	mcperrors "github.com/ajitpratap0/mcp-widget-server/pkg/errors"
	"github.com/ajitpratap0/mcp-widget-server/pkg/logging"
	"github.com/ajitpratap0/mcp-widget-server/pkg/observability"
	"github.com/ajitpratap0/mcp-widget-server/pkg/protocol"
	"github.com/ajitpratap0/mcp-widget-server/pkg/registry"
)

// Renderer produces resource contents on demand
type Renderer struct {
	resources ResourcesProvider
	observer  *observability.Observer
	logger    logging.Logger
}

// NewRenderer creates a renderer over resources
func NewRenderer(resources ResourcesProvider, observer *observability.Observer, logger logging.Logger) *Renderer {
	if observer == nil {
		observer = observability.NewObserver(nil, nil)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Renderer{resources: resources, observer: observer, logger: logger}
}

// Render builds the contents of uri. Contents are produced fresh on each
// call; producer failures become ResourceUnavailable errors.
func (r *Renderer) Render(ctx context.Context, uri string) (*protocol.ResourceContents, error) {
	res, err := r.resources.Resource(uri)
	if err != nil {
		if mcperrors.IsUnknownCapability(err) {
			r.logger.WithContext(ctx).Debug("Unknown resource requested", logging.String("uri", uri))
		}
		return nil, err
	}

	ctx, span := r.observer.StartSpan(ctx, "resource.read", attribute.String("mcp.resource.uri", uri))
	start := time.Now()
	contents, err := produce(ctx, res)
	duration := time.Since(start)

	status := observability.StatusSuccess
	if err != nil {
		status = observability.StatusError
		r.logger.WithContext(ctx).WithError(err).Warn("Resource read failed",
			logging.String("uri", uri),
			logging.Duration("duration", duration),
		)
	}
	r.observer.Metrics().RecordResourceOperation(ctx, "read", uri, status, duration)
	observability.EndSpan(span, err)
	return contents, err
}

func produce(ctx context.Context, res *registry.Resource) (contents *protocol.ResourceContents, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			contents, err = nil, mcperrors.ResourceUnavailable(res.URI, fmt.Errorf("panic: %v", rec))
		}
	}()

	contents, err = res.Produce(ctx, res.URI)
	if err != nil {
		if mcperrors.IsResourceUnavailable(err) {
			return nil, err
		}
		return nil, mcperrors.ResourceUnavailable(res.URI, err)
	}
	if contents == nil {
		return nil, mcperrors.ResourceUnavailable(res.URI, errors.New("producer returned no contents"))
	}

	out := *contents
	if out.URI == "" {
		out.URI = res.URI
	}
	if out.MimeType == "" {
		out.MimeType = res.MimeType
	}
	return &out, nil
}
