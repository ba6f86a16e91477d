package oauth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pkg/browser"
	"github.com/rs/zerolog/log"
)

// BrowserUserAgent opens the system browser for the authorization URL and
// receives the redirect on a loopback listener bound to the configured
// callback host. Only redirects arriving on that scheme/host are accepted.
//
// No timeout is enforced here: the user may take arbitrarily long, and
// cancellation arrives through the context.
type BrowserUserAgent struct{}

func NewBrowserUserAgent() *BrowserUserAgent {
	return &BrowserUserAgent{}
}

func (a *BrowserUserAgent) Authorize(ctx context.Context, authURL string, match CallbackMatch) (string, error) {
	if match.Scheme != "http" {
		return "", fmt.Errorf("unsupported callback scheme %q for browser flow", match.Scheme)
	}

	listener, err := net.Listen("tcp", match.Host)
	if err != nil {
		return "", fmt.Errorf("failed to listen for callback on %s: %w", match.Host, err)
	}

	callbackCh := make(chan string, 1)

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Host != match.Host {
				http.Error(w, "unexpected callback host", http.StatusBadRequest)
				return
			}

			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, "<html><body>Authorization received. You can close this window.</body></html>")

			select {
			case callbackCh <- match.Scheme + "://" + match.Host + r.URL.RequestURI():
			default:
			}
		}),
	}

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Debug().Err(err).Msg("Callback listener stopped")
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := browser.OpenURL(authURL); err != nil {
		log.Warn().Err(err).Msg("Could not open browser, the authorization URL must be opened manually")
		log.Info().Str("url", authURL).Msg("Authorization URL")
	}

	select {
	case callbackURL := <-callbackCh:
		return callbackURL, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
