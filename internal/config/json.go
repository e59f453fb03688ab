package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// StructuredJSONConfig mirrors StructuredConfig for file-based
// configuration, with JSON-friendly duration fields.
type StructuredJSONConfig struct {
	App struct {
		TokenSignKey  string   `json:"token_sign_key"`
		TokenIssuer   string   `json:"token_issuer"`
		TokenDuration Duration `json:"token_duration"`
		Version       string   `json:"version"`
	} `json:"app,omitempty"`

	Storage struct {
		DB struct {
			DSN string `json:"dsn"`
		} `json:"db,omitempty"`

		Blobs struct {
			Dir        string `json:"dir"`
			Passphrase string `json:"passphrase"`
			KeySalt    string `json:"key_salt"`
		} `json:"blobs,omitempty"`
	} `json:"storage,omitempty"`

	Server struct {
		HTTPAddress    string   `json:"http_address"`
		RequestTimeout Duration `json:"request_timeout"`
	} `json:"server,omitempty"`

	Sync struct {
		Remote             string   `json:"remote"`
		Push               string   `json:"push"`
		Pull               string   `json:"pull"`
		NoConflicts        bool     `json:"no_conflicts"`
		SkipDeleted        bool     `json:"skip_deleted"`
		DocIDs             []string `json:"doc_ids"`
		CheckpointInterval Duration `json:"checkpoint_interval"`
		Token              string   `json:"token"`
		Cookies            string   `json:"cookies"`
	} `json:"sync,omitempty"`
}

func parseJSON(jsonFilePath string) (*StructuredConfig, error) {
	jsonFile, err := os.Open(jsonFilePath)
	if err != nil {
		return nil, fmt.Errorf("error reading a json file: %w", err)
	}
	defer jsonFile.Close()

	var jsonCfg StructuredJSONConfig
	if err := json.NewDecoder(jsonFile).Decode(&jsonCfg); err != nil {
		return nil, fmt.Errorf("error decoding json configs: %w", err)
	}

	cfg := &StructuredConfig{
		App: App{
			TokenSignKey:  jsonCfg.App.TokenSignKey,
			TokenIssuer:   jsonCfg.App.TokenIssuer,
			TokenDuration: time.Duration(jsonCfg.App.TokenDuration),
			Version:       jsonCfg.App.Version,
		},
		Storage: Storage{
			DB: DB{
				DSN: jsonCfg.Storage.DB.DSN,
			},
			Blobs: Blobs{
				Dir:        jsonCfg.Storage.Blobs.Dir,
				Passphrase: jsonCfg.Storage.Blobs.Passphrase,
				KeySalt:    jsonCfg.Storage.Blobs.KeySalt,
			},
		},
		Server: Server{
			HTTPAddress:    jsonCfg.Server.HTTPAddress,
			RequestTimeout: time.Duration(jsonCfg.Server.RequestTimeout),
		},
		Sync: Sync{
			Remote:             jsonCfg.Sync.Remote,
			Push:               jsonCfg.Sync.Push,
			Pull:               jsonCfg.Sync.Pull,
			NoConflicts:        jsonCfg.Sync.NoConflicts,
			SkipDeleted:        jsonCfg.Sync.SkipDeleted,
			DocIDs:             jsonCfg.Sync.DocIDs,
			CheckpointInterval: time.Duration(jsonCfg.Sync.CheckpointInterval),
			Token:              jsonCfg.Sync.Token,
			Cookies:            jsonCfg.Sync.Cookies,
		},
		JSONFilePath: "",
	}

	return cfg, nil
}

// Duration is a wrapper around time.Duration that supports JSON
// unmarshaling from strings like "1h", "30s".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return json.Unmarshal(b, (*time.Duration)(d))
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
