package auth

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Directory is the set of known agent credentials, loaded from a yaml file:
//
//	agents:
//	  - name: alice
//	    token_hash: $argon2id$v=19$m=65536,t=3,p=1$...$...
//
// A nil or empty Directory verifies nothing; every connection is then a visitor.
type Directory struct {
	log    *slog.Logger
	agents []AgentEntry
}

// AgentEntry is one agent credential record.
type AgentEntry struct {
	Name      string `yaml:"name"`
	TokenHash string `yaml:"token_hash"`
}

type directoryFile struct {
	Agents []AgentEntry `yaml:"agents"`
}

// LoadDirectory reads an agent directory from path. A missing path ("" or the
// file not existing) yields an empty directory, not an error: running without
// agents is a valid dev configuration.
func LoadDirectory(log *slog.Logger, path string) (*Directory, error) {
	if log == nil {
		log = slog.Default()
	}

	d := &Directory{log: log}
	if strings.TrimSpace(path) == "" {
		log.Info("auth.directory.none")
		return d, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("auth.directory.missing", "path", path)
			return d, nil
		}
		return nil, fmt.Errorf("read agent directory: %w", err)
	}

	var f directoryFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse agent directory: %w", err)
	}

	for _, a := range f.Agents {
		name := strings.TrimSpace(a.Name)
		hash := strings.TrimSpace(a.TokenHash)
		if name == "" || hash == "" {
			log.Warn("auth.directory.skip_entry", "name", a.Name)
			continue
		}
		d.agents = append(d.agents, AgentEntry{Name: name, TokenHash: hash})
	}

	log.Info("auth.directory.loaded", "path", path, "agents", len(d.agents))
	return d, nil
}

// VerifyToken checks a bearer token against every known agent.
// It implements broker.Authenticator. Malformed stored hashes are logged and
// treated as a mismatch.
func (d *Directory) VerifyToken(token string) (string, bool) {
	if d == nil || token == "" {
		return "", false
	}

	for _, a := range d.agents {
		ok, err := VerifyToken(a.TokenHash, token)
		if err != nil {
			d.log.Warn("auth.hash.invalid", "agent", a.Name, "err", err)
			continue
		}
		if ok {
			return a.Name, true
		}
	}
	return "", false
}

// Len reports the number of loaded agent entries.
func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.agents)
}
