package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/MKhiriev/go-doc-sync/internal/adapter"
	"github.com/MKhiriev/go-doc-sync/internal/blip"
	"github.com/MKhiriev/go-doc-sync/internal/config"
	"github.com/MKhiriev/go-doc-sync/internal/crypto"
	"github.com/MKhiriev/go-doc-sync/internal/logger"
	"github.com/MKhiriev/go-doc-sync/internal/repl"
	"github.com/MKhiriev/go-doc-sync/internal/store"
	"github.com/MKhiriev/go-doc-sync/models"
)

// App runs one replication against a remote sync server and blocks until
// it stops.
type App struct {
	cfg *config.ClientConfig
	log *logger.Logger

	docs  store.DocumentStore
	blobs store.BlobStore
}

func NewApp(cfg *config.ClientConfig, log *logger.Logger) (*App, error) {
	ctx := context.Background()

	docs, err := store.NewDocumentStore(ctx, cfg.Storage.DB.DSN, log)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}

	var blobKey []byte
	if cfg.Storage.Blobs.Passphrase != "" {
		blobKey = crypto.DeriveKey(cfg.Storage.Blobs.Passphrase, []byte(cfg.Storage.Blobs.KeySalt))
	}
	blobDir := cfg.Storage.Blobs.Dir
	if blobDir == "" {
		blobDir = cfg.Storage.DB.DSN + ".blobs"
	}
	blobs, err := store.NewBlobStore(blobDir, blobKey, log)
	if err != nil {
		return nil, fmt.Errorf("create blob storage: %w", err)
	}

	return &App{cfg: cfg, log: log, docs: docs, blobs: blobs}, nil
}

// Run performs the server compatibility check, dials the sync endpoint,
// and replicates until the replicator stops.
func (a *App) Run() error {
	ctx := context.Background()
	defer a.docs.Close()

	if err := a.checkServer(ctx); err != nil {
		return err
	}

	opts, err := a.replicationOptions()
	if err != nil {
		return err
	}

	header, err := a.dialHeader(ctx)
	if err != nil {
		return err
	}
	conn := blip.NewWebSocketClient(a.cfg.Sync.Remote, header)

	done := &doneDelegate{log: a.log, done: make(chan models.Status, 1)}
	replicator := repl.NewReplicator(conn, a.docs, a.blobs, a.cfg.Sync.Remote, done, opts, a.log)
	replicator.Start()

	status := <-done.done
	if status.Error != nil {
		return fmt.Errorf("replication failed: %w", status.Error)
	}
	a.log.Info().
		Uint64("documents", status.Progress.DocumentCount).
		Msg("replication finished")
	return nil
}

func (a *App) checkServer(ctx context.Context) error {
	serverAdapter := adapter.NewHTTPServerAdapter(adapter.HTTPClientConfig{
		BaseURL: httpBaseURL(a.cfg.Sync.Remote),
		Token:   a.cfg.Sync.Token,
	})
	if err := serverAdapter.CheckCompatibility(ctx); err != nil {
		return fmt.Errorf("server compatibility check: %w", err)
	}
	return nil
}

func (a *App) replicationOptions() (*repl.Options, error) {
	push, err := config.ParseMode(a.cfg.Sync.Push)
	if err != nil {
		return nil, err
	}
	pull, err := config.ParseMode(a.cfg.Sync.Pull)
	if err != nil {
		return nil, err
	}
	return &repl.Options{
		Push:               push,
		Pull:               pull,
		NoConflicts:        a.cfg.Sync.NoConflicts,
		SkipDeleted:        a.cfg.Sync.SkipDeleted,
		DocIDs:             a.cfg.Sync.DocIDs,
		Cookies:            a.cfg.Sync.Cookies,
		CheckpointInterval: a.cfg.Sync.CheckpointInterval,
	}, nil
}

// dialHeader assembles the upgrade request headers: the auth token,
// configured cookies, and every cookie the server set on previous
// connections.
func (a *App) dialHeader(ctx context.Context) (http.Header, error) {
	header := http.Header{}
	if a.cfg.Sync.Token != "" {
		header.Set("Authorization", "Bearer "+a.cfg.Sync.Token)
	}

	cookies := []string{}
	if a.cfg.Sync.Cookies != "" {
		cookies = append(cookies, a.cfg.Sync.Cookies)
	}
	stored, err := a.docs.Cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("read stored cookies: %w", err)
	}
	for _, raw := range stored {
		// Stored values are Set-Cookie headers; only the name=value pair
		// travels back.
		if pair, _, ok := strings.Cut(raw, ";"); ok {
			cookies = append(cookies, strings.TrimSpace(pair))
		} else {
			cookies = append(cookies, strings.TrimSpace(raw))
		}
	}
	if len(cookies) > 0 {
		header.Set("Cookie", strings.Join(cookies, "; "))
	}
	return header, nil
}

// httpBaseURL turns a ws:// sync URL into the server's http:// base.
func httpBaseURL(remote string) string {
	u, err := url.Parse(remote)
	if err != nil {
		return remote
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = ""
	return u.String()
}

// doneDelegate resolves once the replicator stops.
type doneDelegate struct {
	log  *logger.Logger
	once sync.Once
	done chan models.Status
}

func (d *doneDelegate) ReplicatorStatusChanged(_ *repl.Replicator, status models.Status) {
	d.log.Debug().Str("level", status.Level.String()).
		Uint64("completed", status.Progress.UnitsCompleted).
		Uint64("total", status.Progress.UnitsTotal).
		Msg("replication status")
	if status.Level == models.ActivityStopped {
		d.once.Do(func() { d.done <- status })
	}
}

func (d *doneDelegate) ReplicatorDocumentError(_ *repl.Replicator, pushing bool, docID string, err *models.Error, transient bool) {
	d.log.Warn().Bool("pushing", pushing).Bool("transient", transient).
		Str("docID", docID).Str("error", err.Error()).Msg("document error")
}

func (d *doneDelegate) ReplicatorConnectionClosed(_ *repl.Replicator, status blip.CloseStatus) {
	d.log.Info().Int("code", status.Code).Str("message", status.Message).
		Msg("connection closed")
}
