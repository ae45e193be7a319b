package oauth

import (
	"context"
	"fmt"
	"html"
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	// LoopbackCallbackPort is the preferred port of the CLI callback server
	LoopbackCallbackPort = 51121
	// CallbackTimeout is how long to wait for the OAuth callback
	CallbackTimeout = 5 * time.Minute
)

// LoopbackLogin is a sign-in started from a terminal: the user opens AuthURL
// and the provider redirects back to a temporary local server.
type LoopbackLogin struct {
	AuthURL string
	Result  <-chan error
	cleanup func()
}

// Close stops the callback server.
func (l *LoopbackLogin) Close() {
	l.cleanup()
}

// StartLoopbackLogin starts a callback server on 127.0.0.1, preferring
// LoopbackCallbackPort and falling back to a random port.
func StartLoopbackLogin(providerID string, backend Exchanger, sessions Sessions) (*LoopbackLogin, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", LoopbackCallbackPort))
	if err != nil {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("failed to start callback server: %w", err)
		}
		log.Printf("[OAuth] Port %d in use, using random port", LoopbackCallbackPort)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	p, err := ResolveProvider(providerID, fmt.Sprintf("http://localhost:%d/oauth-callback", port))
	if err != nil {
		listener.Close()
		return nil, err
	}
	states := NewStates()
	state := states.Issue(p.Info.ID)

	result := make(chan error, 1)
	var once sync.Once
	finish := func(err error) {
		once.Do(func() { result <- err })
	}

	mux := http.NewServeMux()
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	mux.HandleFunc("/oauth-callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		// Anything on this port can hit the callback; only the provider
		// redirect carrying our state may end the sign-in.
		if err := states.Consume(p.Info.ID, q.Get("state")); err != nil {
			log.Printf("[OAuth] Ignoring callback with invalid state: %v", err)
			http.Error(w, "Invalid state token", http.StatusBadRequest)
			return
		}
		if errParam := q.Get("error"); errParam != "" {
			finish(fmt.Errorf("sign-in cancelled: %s", errParam))
			http.Error(w, "Sign-in cancelled", http.StatusBadRequest)
			return
		}
		if err := p.Complete(r.Context(), q.Get("code"), backend, sessions); err != nil {
			finish(err)
			http.Error(w, err.Error(), StatusFor(err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, successPage, html.EscapeString(p.Info.AuthProvider))
		finish(nil)
	})

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[OAuth] Callback server error: %v", err)
		}
	}()
	log.Printf("[OAuth] Callback server listening on port %d", port)

	timer := time.AfterFunc(CallbackTimeout, func() {
		log.Printf("[OAuth] Callback timeout after %v", CallbackTimeout)
		finish(fmt.Errorf("OAuth callback timeout"))
	})

	var closeOnce sync.Once
	cleanup := func() {
		closeOnce.Do(func() {
			timer.Stop()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Printf("[OAuth] Error shutting down callback server: %v", err)
			}
		})
	}

	return &LoopbackLogin{AuthURL: p.AuthCodeURL(state), Result: result, cleanup: cleanup}, nil
}
