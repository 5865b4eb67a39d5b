package gphotos

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/gphotos-sync/internal/auth"
)

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// callbackPath is the HTTP path the OAuth2 redirect hits on the local server.
const callbackPath = "/"

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// OAuthConfig identifies the OAuth2 client and its endpoints.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string
}

// OAuth performs the authorization code exchange and token refreshes.
// It implements auth.Refresher.
type OAuth struct {
	cfg        oauth2.Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOAuth creates an OAuth helper. httpClient may be nil.
func NewOAuth(c OAuthConfig, httpClient *http.Client, logger *slog.Logger) *OAuth {
	if logger == nil {
		logger = slog.Default()
	}

	return &OAuth{
		cfg: oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Scopes:       c.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   c.AuthURL,
				TokenURL:  c.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		logger:     logger,
	}
}

// withClient makes the oauth2 package use o.httpClient for token calls.
func (o *OAuth) withClient(ctx context.Context) context.Context {
	if o.httpClient == nil {
		return ctx
	}

	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

// Refresh exchanges a refresh token for a new access token. Any refresh
// token in the response is ignored by the caller.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (auth.Grant, error) {
	src := o.cfg.TokenSource(o.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		return auth.Grant{}, fmt.Errorf("gphotos: refreshing token: %w", err)
	}

	return grantFromToken(tok), nil
}

// Exchange trades an authorization code (with its PKCE verifier) for a
// full credential pair.
func (o *OAuth) Exchange(ctx context.Context, code, verifier, redirectURL string) (auth.Grant, error) {
	cfg := o.cfg
	cfg.RedirectURL = redirectURL

	tok, err := cfg.Exchange(o.withClient(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return auth.Grant{}, fmt.Errorf("gphotos: token exchange failed: %w", err)
	}

	if tok.RefreshToken == "" {
		return auth.Grant{}, errors.New("gphotos: token exchange returned no refresh token")
	}

	return grantFromToken(tok), nil
}

func grantFromToken(tok *oauth2.Token) auth.Grant {
	return auth.Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
}

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code string
	err  error
}

// LoginWithBrowser performs the authorization code + PKCE flow:
//  1. Binds a loopback HTTP server (port 0 picks a free one)
//  2. Opens the browser to the authorization endpoint
//  3. Receives the callback with the authorization code
//  4. Exchanges the code for tokens using PKCE
//
// openURL is called with the authorization URL. If it fails, the URL is
// printed to stderr so the user can open it manually.
func (o *OAuth) LoginWithBrowser(ctx context.Context, port int, openURL func(string) error) (auth.Grant, error) {
	o.logger.Info("starting browser auth flow (authorization code + PKCE)")

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, boundPort, err := startCallbackServer(ctx, mux, port, resultCh, o.logger)
	if err != nil {
		return auth.Grant{}, err
	}

	defer shutdownCallbackServer(srv, o.logger)

	redirectURL := fmt.Sprintf("http://localhost:%d%s", boundPort, callbackPath)
	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return auth.Grant{}, fmt.Errorf("gphotos: generating state token: %w", err)
	}

	registerCallbackHandler(mux, state, resultCh)

	cfg := o.cfg
	cfg.RedirectURL = redirectURL
	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)

	launchBrowser(authURL, openURL, o.logger)

	code, err := waitForCallback(ctx, resultCh)
	if err != nil {
		return auth.Grant{}, err
	}

	o.logger.Info("received authorization code, exchanging for token")

	grant, err := o.Exchange(ctx, code, verifier, redirectURL)
	if err != nil {
		return auth.Grant{}, err
	}

	o.logger.Info("browser login successful", slog.Time("expiry", grant.Expiry))

	return grant, nil
}

// startCallbackServer binds to 127.0.0.1 on the given port and serves mux.
// Returns the server and the bound port.
func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	port int,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, 0, fmt.Errorf("gphotos: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, fmt.Errorf("gphotos: listener address is not TCP")
	}

	logger.Info("callback server listening", slog.Int("port", tcpAddr.Port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("gphotos: callback server error: %w", serveErr)}:
			default:
			}
		}
	}()

	return srv, tcpAddr.Port, nil
}

// registerCallbackHandler adds the callback route to the mux.
func registerCallbackHandler(mux *http.ServeMux, state string, resultCh chan<- callbackResult) {
	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})
}

// handleOAuthCallback validates the state, extracts the code, and sends the
// result. Only the first callback is delivered.
func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	send := func(res callbackResult) {
		select {
		case resultCh <- res:
		default:
		}
	}

	q := r.URL.Query()

	if q.Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("gphotos: OAuth2 state mismatch (possible CSRF)")})

		return
	}

	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("gphotos: authorization failed: %s: %s", errParam, q.Get("error_description"))})

		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		send(callbackResult{err: fmt.Errorf("gphotos: callback missing authorization code")})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	send(callbackResult{code: code})
}

// shutdownCallbackServer gracefully shuts down the callback HTTP server.
func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// launchBrowser attempts to open the auth URL, printing it to stderr when
// that fails.
func launchBrowser(authURL string, openURL func(string) error, logger *slog.Logger) {
	logger.Info("opening browser for authorization")

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)

		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}

// waitForCallback blocks until the callback fires or the context is canceled.
func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("gphotos: browser auth canceled: %w", ctx.Err())
	}
}

// generateState produces a random hex string for the OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
