package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConnectionEntry is one named connection from a connections file.
type ConnectionEntry struct {
	ID       string            `yaml:"id"`
	Engine   string            `yaml:"engine"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Database string            `yaml:"database"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Params   map[string]string `yaml:"params"`
}

type connectionsFile struct {
	Connections []ConnectionEntry `yaml:"connections"`
}

// LoadConnectionsFile reads a YAML file of named connections. Values of the
// form ${NAME} are expanded from the environment.
func LoadConnectionsFile(path string) ([]ConnectionEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read connections file: %w", err)
	}
	return ParseConnections(raw, os.LookupEnv)
}

func ParseConnections(raw []byte, lookup LookupFunc) ([]ConnectionEntry, error) {
	var file connectionsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse connections file: %w", err)
	}
	seen := make(map[string]struct{}, len(file.Connections))
	for i := range file.Connections {
		entry := &file.Connections[i]
		entry.ID = strings.TrimSpace(entry.ID)
		entry.Engine = strings.TrimSpace(entry.Engine)
		if entry.ID == "" {
			return nil, fmt.Errorf("connection %d: id is required", i)
		}
		if entry.Engine == "" {
			return nil, fmt.Errorf("connection %q: engine is required", entry.ID)
		}
		if _, dup := seen[entry.ID]; dup {
			return nil, fmt.Errorf("connection %q: duplicate id", entry.ID)
		}
		seen[entry.ID] = struct{}{}
		entry.Password = expandEnv(entry.Password, lookup)
		entry.Username = expandEnv(entry.Username, lookup)
	}
	return file.Connections, nil
}

func expandEnv(value string, lookup LookupFunc) string {
	if lookup == nil || !strings.HasPrefix(value, "${") || !strings.HasSuffix(value, "}") {
		return value
	}
	resolved, ok := lookup(value[2 : len(value)-1])
	if !ok {
		return value
	}
	return resolved
}
