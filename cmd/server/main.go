package main

import (
	"context"
	"fmt"

	"github.com/MKhiriev/go-doc-sync/internal/config"
	"github.com/MKhiriev/go-doc-sync/internal/crypto"
	"github.com/MKhiriev/go-doc-sync/internal/logger"
	"github.com/MKhiriev/go-doc-sync/internal/server"
	"github.com/MKhiriev/go-doc-sync/internal/store"
)

var (
	buildVersion string
	buildDate    string
	buildCommit  string
)

func main() {
	printBuildInfo()

	log := logger.NewLogger("doc-sync-server")
	cfg, err := config.GetServerConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error getting configs")
	}
	if cfg.App.Version == "" {
		cfg.App.Version = buildVersion
	}

	ctx := context.Background()
	docs, err := store.NewDocumentStore(ctx, cfg.Storage.DB.DSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error creating document store")
	}
	defer docs.Close()

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
		log.Fatal().Err(err).Msg("error creating blob store")
	}

	router := server.NewRouter(server.Deps{
		Docs:   docs,
		Blobs:  blobs,
		App:    cfg.App,
		Logger: log,
	})

	srv, err := server.NewServer(router, cfg.Server, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error creating server")
	}
	srv.RunServer()
}

func printBuildInfo() {
	if buildVersion == "" {
		buildVersion = "N/A"
	}
	if buildDate == "" {
		buildDate = "N/A"
	}
	if buildCommit == "" {
		buildCommit = "N/A"
	}

	fmt.Printf("Build version: %s\n", buildVersion)
	fmt.Printf("Build date: %s\n", buildDate)
	fmt.Printf("Build commit: %s\n", buildCommit)
}
