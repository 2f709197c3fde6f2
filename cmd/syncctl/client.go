package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/foldersync/foldersync/internal/client/apiclient"
	"github.com/foldersync/foldersync/internal/client/config"
	"github.com/foldersync/foldersync/internal/client/credstore"
)

// errNotLoggedIn is returned by newAuthenticatedClient when no credential
// file exists.
var errNotLoggedIn = fmt.Errorf("not logged in — run 'syncctl login' first")

// newAuthenticatedClient loads the saved credential file and returns an
// apiclient.Client backed by a self-refreshing credstore.TokenSource, for
// commands that need to talk to the server under the logged-in user's
// identity. httpClient lets callers pick the transfer (no-timeout) or
// default (30s) client.
func newAuthenticatedClient(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) (*apiclient.Client, *credstore.File, error) {
	credPath := config.DefaultCredentialPath()

	creds, err := credstore.Load(credPath)
	if err != nil {
		return nil, nil, err
	}

	if creds == nil {
		return nil, nil, errNotLoggedIn
	}

	authClient := apiclient.New(cfg.Server.URL, defaultHTTPClient(), nil, logger)
	ts := credstore.NewTokenSource(credPath, creds, authClient, logger)

	return apiclient.New(cfg.Server.URL, httpClient, ts, logger), creds, nil
}
