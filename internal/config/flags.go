package config

import (
	"errors"
	"flag"
	"net"
	"strconv"
	"strings"
	"time"
)

// NetAddress holds structured network address data for host and port.
// It implements the flag.Value interface.
type NetAddress struct {
	Host string
	Port int
}

// ParseFlags parses all configuration flags.
//
// Flags:
//
//	-a server address in format [host]:[port]
//	-d database path
//	-blobs blob directory path
//	-remote sync endpoint URL
//	-push / -pull replication modes (disabled, one-shot, continuous)
//	-doc-ids comma-separated document ID filter
//	-token sync auth token
//	-token-sign-key token signing key
//	-token-issuer token issuer name
//	-token-duration token duration (e.g., "1h", "30m")
//	-checkpoint-interval checkpoint autosave bound
//	-request-timeout request timeout (e.g., "30s", "1m")
//	-c/-config json file path with configs
func ParseFlags() *StructuredConfig {
	var serverAddress NetAddress
	var databaseDSN string
	var blobsDir string
	var remote string
	var pushMode, pullMode string
	var docIDs string
	var token string
	var tokenSignKey string
	var tokenIssuer string
	var tokenDuration time.Duration
	var checkpointInterval time.Duration
	var requestTimeout time.Duration
	var jsonConfigPath string

	flag.Var(&serverAddress, "a", "Net address host:port")
	flag.StringVar(&databaseDSN, "d", "", "Document database path")
	flag.StringVar(&blobsDir, "blobs", "", "Blob directory path")
	flag.StringVar(&remote, "remote", "", "Sync endpoint URL (ws:// or wss://)")
	flag.StringVar(&pushMode, "push", "", "Push mode: disabled, one-shot, continuous")
	flag.StringVar(&pullMode, "pull", "", "Pull mode: disabled, one-shot, continuous")
	flag.StringVar(&docIDs, "doc-ids", "", "Comma-separated document ID filter")
	flag.StringVar(&token, "token", "", "Sync auth token")
	flag.StringVar(&tokenSignKey, "token-sign-key", "", "Token signing key")
	flag.StringVar(&tokenIssuer, "token-issuer", "", "Token issuer")
	flag.DurationVar(&tokenDuration, "token-duration", 0, "Token duration (e.g., 1h, 30m)")
	flag.DurationVar(&checkpointInterval, "checkpoint-interval", 0, "Checkpoint autosave bound")
	flag.DurationVar(&requestTimeout, "request-timeout", 0, "Request timeout (e.g., 30s, 1m)")
	flag.StringVar(&jsonConfigPath, "c", "", "JSON config file path")
	flag.StringVar(&jsonConfigPath, "config", "", "JSON config file path (alias)")

	flag.Parse()

	var ids []string
	if docIDs != "" {
		ids = strings.Split(docIDs, ",")
	}

	return &StructuredConfig{
		App: App{
			TokenSignKey:  tokenSignKey,
			TokenIssuer:   tokenIssuer,
			TokenDuration: tokenDuration,
		},
		Storage: Storage{
			DB:    DB{DSN: databaseDSN},
			Blobs: Blobs{Dir: blobsDir},
		},
		Server: Server{
			HTTPAddress:    serverAddress.String(),
			RequestTimeout: requestTimeout,
		},
		Sync: Sync{
			Remote:             remote,
			Push:               pushMode,
			Pull:               pullMode,
			DocIDs:             ids,
			CheckpointInterval: checkpointInterval,
			Token:              token,
		},
		JSONFilePath: jsonConfigPath,
	}
}

// String returns a canonical host:port string for a NetAddress.
func (a *NetAddress) String() string {
	if a.Host == "" && a.Port == 0 {
		return ""
	}

	return a.Host + ":" + strconv.Itoa(a.Port)
}

// Set parses the input string of form host:port and populates the NetAddress.
// It rejects ports below 1, checks IP correctness unless host is "localhost",
// and returns an error if the format or values are invalid.
func (a *NetAddress) Set(s string) error {
	hostAndPort := strings.Split(s, ":")
	if len(hostAndPort) != 2 {
		return errors.New("need address in a form `host:port`")
	}

	host := hostAndPort[0]
	port, err := strconv.Atoi(hostAndPort[1])
	if err != nil {
		return err
	}

	if port < 1 {
		return errors.New("port number is a positive integer")
	}

	if host != "localhost" && host != "" {
		ip := net.ParseIP(hostAndPort[0])
		if ip == nil {
			return errors.New("incorrect IP-address provided")
		}
	}

	a.Host = host
	a.Port = port
	return nil
}
