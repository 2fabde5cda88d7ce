package tunnel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.ngrok.com/ngrok"
	"golang.ngrok.com/ngrok/config"

	mcperrors "github.com/ajitpratap0/mcp-widget-server/pkg/errors"
	"github.com/ajitpratap0/mcp-widget-server/pkg/logging"
)

// Provider names the tunnel provider in errors and logs
const Provider = "ngrok"

// NgrokOpener forwards a public ngrok HTTP endpoint to a local port
type NgrokOpener struct {
	authToken string
	logger    logging.Logger
}

// NewNgrokOpener creates an opener. The token is trimmed; an empty token
// makes Open fail without touching the network.
func NewNgrokOpener(authToken string, logger logging.Logger) *NgrokOpener {
	if logger == nil {
		logger = logging.Nop()
	}
	return &NgrokOpener{
		authToken: strings.TrimSpace(authToken),
		logger:    logger.WithFields(logging.String("component", "tunnel")),
	}
}

// Open starts forwarding to http://localhost:port
func (o *NgrokOpener) Open(ctx context.Context, port int) (Tunnel, error) {
	if o.authToken == "" {
		return nil, mcperrors.TunnelEstablish(Provider, ErrMissingCredential)
	}

	backend, err := url.Parse(fmt.Sprintf("http://localhost:%d", port))
	if err != nil {
		return nil, mcperrors.TunnelEstablish(Provider, err)
	}

	fwd, err := ngrok.ListenAndForward(ctx, backend,
		config.HTTPEndpoint(),
		ngrok.WithAuthtoken(o.authToken),
		ngrok.WithLogger(NewLogBridge(o.logger)),
	)
	if err != nil {
		return nil, mcperrors.TunnelEstablish(Provider, err)
	}
	return &ngrokTunnel{fwd: fwd}, nil
}

type ngrokTunnel struct {
	fwd  ngrok.Forwarder
	once sync.Once
	err  error
}

func (t *ngrokTunnel) URL() string {
	return t.fwd.URL()
}

func (t *ngrokTunnel) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.once.Do(func() { t.err = t.fwd.Close() })
	}()

	select {
	case <-done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
