package blob

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// HandlerConfig is one entry of the blob json configuration: a blob id, its
// image handler, and the ActionPack it triggers. Mirrors
// ipmi_flash::HandlerConfig as built by buildjson.cpp.
type HandlerConfig struct {
	BlobID  string
	Handler ImageHandler
	Actions *ActionPack
}

type jsonHandler struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

type jsonAction struct {
	Type string `json:"type"`
	Unit string `json:"unit"`
	Path string `json:"path"`
	Mode string `json:"mode"`
}

type jsonActions struct {
	Preparation  jsonAction `json:"preparation"`
	Verification jsonAction `json:"verification"`
	Update       jsonAction `json:"update"`
}

type jsonEntry struct {
	Blob    string      `json:"blob"`
	Handler jsonHandler `json:"handler"`
	Actions jsonActions `json:"actions"`
}

func buildAction(a jsonAction) (TriggerableAction, error) {
	switch a.Type {
	case "skip":
		return SkipAction{}, nil
	case "systemd":
		if a.Unit == "" {
			return nil, fmt.Errorf("blob: systemd action missing unit")
		}
		return NewSystemdAction(a.Unit, a.Mode), nil
	case "fileSystemdVerify", "fileSystemdUpdate":
		if a.Unit == "" || a.Path == "" {
			return nil, fmt.Errorf("blob: %s action missing unit or path", a.Type)
		}
		return NewSystemdWithStatusFile(a.Path, a.Unit, a.Mode), nil
	case "reboot":
		return NewRebootAction(), nil
	default:
		return nil, fmt.Errorf("blob: invalid action type %q", a.Type)
	}
}

func buildHandlerFromJSON(data []byte) []HandlerConfig {
	var entries []jsonEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.WithError(err).Warn("blob: failed to parse blob configuration")
		return nil
	}

	var out []HandlerConfig
	for _, e := range entries {
		cfg, err := buildOneEntry(e)
		if err != nil {
			log.WithError(err).WithField("blob", e.Blob).Warn("blob: discarding invalid configuration entry")
			continue
		}
		out = append(out, cfg)
	}
	return out
}

func buildOneEntry(e jsonEntry) (HandlerConfig, error) {
	if !strings.HasPrefix(e.Blob, "/flash/") {
		return HandlerConfig{}, fmt.Errorf("invalid blob name %q: must start with /flash/", e.Blob)
	}

	var handler ImageHandler
	switch e.Handler.Type {
	case "file":
		if e.Handler.Path == "" {
			return HandlerConfig{}, fmt.Errorf("file handler missing path")
		}
		handler = NewFileImageHandler(e.Handler.Path)
	default:
		return HandlerConfig{}, fmt.Errorf("invalid handler type %q", e.Handler.Type)
	}

	prep, err := buildAction(e.Actions.Preparation)
	if err != nil {
		return HandlerConfig{}, fmt.Errorf("preparation: %w", err)
	}
	verify, err := buildAction(e.Actions.Verification)
	if err != nil {
		return HandlerConfig{}, fmt.Errorf("verification: %w", err)
	}
	update, err := buildAction(e.Actions.Update)
	if err != nil {
		return HandlerConfig{}, fmt.Errorf("update: %w", err)
	}

	return HandlerConfig{
		BlobID:  e.Blob,
		Handler: handler,
		Actions: &ActionPack{Preparation: prep, Verification: verify, Update: update},
	}, nil
}

// LoadHandlerConfigs reads every *.json file in directory and builds the
// HandlerConfig list the Handler is constructed from. Invalid entries and
// unparseable files are logged and skipped rather than failing startup, per
// the blob json configuration format (§6). Mirrors
// ipmi_flash::BuildHandlerConfigs.
func LoadHandlerConfigs(directory string) []HandlerConfig {
	entries, err := os.ReadDir(directory)
	if err != nil {
		log.WithError(err).WithField("dir", directory).Warn("blob: failed to list configuration directory")
		return nil
	}

	var out []HandlerConfig
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(directory, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("blob: failed to read configuration file")
			continue
		}
		out = append(out, buildHandlerFromJSON(data)...)
	}
	return out
}
