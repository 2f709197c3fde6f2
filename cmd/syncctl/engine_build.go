package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foldersync/foldersync/internal/client/apiclient"
	"github.com/foldersync/foldersync/internal/client/chunkclient"
	"github.com/foldersync/foldersync/internal/client/config"
	"github.com/foldersync/foldersync/internal/client/conflict"
	"github.com/foldersync/foldersync/internal/client/credstore"
	"github.com/foldersync/foldersync/internal/client/engine"
	"github.com/foldersync/foldersync/internal/client/localstate"
	"github.com/foldersync/foldersync/internal/client/pushclient"
	"github.com/foldersync/foldersync/internal/client/watcher"
	"github.com/foldersync/foldersync/internal/clientid"
	"github.com/foldersync/foldersync/internal/wire"
)

// buildEngine wires up a full Engine from the on-disk config and saved
// credentials, shared by the foreground "sync" daemon and the one-shot
// "resolve" command. withPush controls whether push-channel clients are
// constructed; "resolve" doesn't need them since it acts once and exits.
// The returned closer releases the local state database.
func buildEngine(cfg *config.Config, logger *slog.Logger, withPush bool) (*engine.Engine, func(), error) {
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
	api := apiclient.New(cfg.Server.URL, transferHTTPClient(), ts, logger)

	store, err := localstate.Open(backgroundContext(), config.DefaultStatePath(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening local state: %w", err)
	}

	closeStore := func() { store.Close() }

	sessions := chunkclient.NewSessionStore(config.DefaultDataDir(), logger)
	uploader := chunkclient.NewUploader(api, sessions, cfg.Sync.ChunkSize, cfg.Sync.MaxConcurrentChunks, logger)
	arbiter := conflict.NewAutomaticArbiter(logger)
	w := watcher.New(cfg.Sync.Path, logger)

	id := clientid.Derive(creds.Username)

	var pushClients []*pushclient.Client

	// eng is filled in once the Engine exists; the handler closures below
	// capture it by reference so pushclient.New (which must be called
	// before the Engine can be constructed) can still forward events to
	// Engine.OnPushEvent.
	var eng *engine.Engine

	if withPush {
		wsURL, wsErr := websocketURL(cfg.Server.URL)
		if wsErr != nil {
			closeStore()
			return nil, nil, wsErr
		}

		forward := func(event wire.SyncEvent) {
			if eng != nil {
				eng.OnPushEvent(event)
			}
		}

		pushClients = []*pushclient.Client{
			pushclient.New(wsURL, creds.AccessToken, id, pushclient.DestFileChanges, forward, logger),
			pushclient.New(wsURL, creds.AccessToken, id, pushclient.DestConflicts, forward, logger),
		}
	}

	eng = engine.New(store, api, uploader, arbiter, w, pushClients,
		cfg.Sync.Path, id, cfg.Sync.ChunkThreshold, time.Duration(cfg.Sync.IntervalSeconds)*time.Second, logger)

	return eng, closeStore, nil
}

// websocketURL rewrites an http(s) server URL into the ws(s) URL the push
// channel listens on (internal/server/httpapi/router.go registers it at
// "/ws/sync").
func websocketURL(serverURL string) (string, error) {
	switch {
	case strings.HasPrefix(serverURL, "https://"):
		return "wss://" + strings.TrimPrefix(serverURL, "https://") + "/ws/sync", nil
	case strings.HasPrefix(serverURL, "http://"):
		return "ws://" + strings.TrimPrefix(serverURL, "http://") + "/ws/sync", nil
	default:
		return "", fmt.Errorf("server.url must start with http:// or https://, got %q", serverURL)
	}
}
