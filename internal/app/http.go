package app

import (
	"context"
	"net/http"

	"chatsync/pkg/api"
	"chatsync/pkg/banner"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(a.eff, verStr)
}

// startHTTP builds the handler, starts the HTTP server in a goroutine and
// returns a channel that will contain any server error.
func (a *App) startHTTP(ctx context.Context) <-chan error {
	handler := api.Handler(api.Deps{
		Store:   a.store,
		Pipe:    a.pipe,
		Manager: a.manager,
		MaxBody: a.eff.Config.Server.MaxBody.Int64(),
	})

	srv := &http.Server{Addr: a.eff.Addr, Handler: handler}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	return errCh
}
