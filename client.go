// Package momentum wires the passkey client in one call: a bootstrap and an
// authenticated session transport sharing one cookie jar, the identity wire
// client, the token manager and the auth service.
package momentum

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/myeganeh2876/MomentumPasskeyTest/adapters/identity"
	"github.com/myeganeh2876/MomentumPasskeyTest/adapters/tokenizer"
	"github.com/myeganeh2876/MomentumPasskeyTest/core"
	"github.com/myeganeh2876/MomentumPasskeyTest/ports"
	"github.com/myeganeh2876/MomentumPasskeyTest/service"
	transport "github.com/myeganeh2876/MomentumPasskeyTest/transport/http"
)

// Options configure a Client. Store and APIURL are required.
type Options struct {
	APIURL        string
	Store         ports.Store
	Authenticator ports.Authenticator  // Optional; passkey operations fail without it
	Events        ports.EventPublisher // Optional
	Logger        *zap.Logger

	// HTTPClient carries the cookie jar; NewHTTPClient(HTTPTimeout) when nil
	HTTPClient  *http.Client
	HTTPTimeout time.Duration

	// Anti-forgery cookie, header and priming path; transport defaults when empty
	CSRFCookie    string
	CSRFHeader    string
	CSRFPrimePath string
	DisableCSRF   bool

	Settings service.Settings
}

// Client is a fully wired passkey client
type Client struct {
	*service.AuthService

	Tokens   *service.TokenManager
	Identity *identity.Client
}

// New wires a client
func New(opts Options) (*Client, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", core.ErrInvalidInput)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = transport.NewHTTPClient(opts.HTTPTimeout)
	}

	transportOpts := []transport.Option{
		transport.WithHTTPClient(httpClient),
		transport.WithLogger(logger.Named("transport")),
		transport.WithUserAgent(opts.Settings.UserAgent),
	}
	switch {
	case opts.DisableCSRF:
		transportOpts = append(transportOpts, transport.WithCSRF("", "", ""))
	case opts.CSRFCookie != "":
		transportOpts = append(transportOpts, transport.WithCSRF(opts.CSRFCookie, opts.CSRFHeader, opts.CSRFPrimePath))
	}

	bootstrap, err := transport.NewBootstrapClient(opts.APIURL, transportOpts...)
	if err != nil {
		return nil, err
	}

	tokens := service.NewTokenManager(opts.Store, tokenizer.NewJWTDecoder(),
		identity.NewRefresher(bootstrap), logger.Named("tokens"))

	authed, err := transport.NewClient(opts.APIURL, tokens, transportOpts...)
	if err != nil {
		return nil, err
	}

	identityClient := identity.NewClient(authed, bootstrap, logger.Named("identity"))
	auth, err := service.NewAuthService(service.Dependencies{
		Identity:      identityClient,
		Authenticator: opts.Authenticator,
		Tokens:        tokens,
		Device:        service.NewDeviceIdentity(opts.Store),
		Events:        opts.Events,
		Logger:        logger,
	}, opts.Settings)
	if err != nil {
		return nil, err
	}

	return &Client{AuthService: auth, Tokens: tokens, Identity: identityClient}, nil
}
