// Package config loads the server's `[section] key = value` config
// file. No INI-parsing library appears anywhere in the example pack
// this codebase is grounded on (it uses YAML, TOML, and flag-struct
// tags for its own configuration needs), so this is a small
// hand-rolled reader rather than a borrowed dependency — see
// DESIGN.md for the justification this requires.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the normative keys from the server's configuration file.
type Config struct {
	// FileDirectory is the storage prefix ([file_backend] file-directory).
	FileDirectory string
	// DirLevel is the block store fan-out level ([file_backend] dir-level).
	DirLevel int
	// ServerIP is the bind address ([Server] ip).
	ServerIP string
	// ServerPort is the bind port ([Server] port).
	ServerPort int
}

// Default returns the reference implementation's documented defaults.
func Default() Config {
	return Config{
		FileDirectory: "/var/tmp/cdpfgl/server",
		DirLevel:      2,
		ServerIP:      "",
		ServerPort:    5468,
	}
}

// Load reads a config file at path, overlaying values onto Default().
// A missing path is not an error: callers that don't pass
// --configuration get the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	section := ""
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Config{}, fmt.Errorf("config: %s:%d: expected key = value", path, lineNo)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if err := cfg.apply(section, key, value); err != nil {
			return Config{}, fmt.Errorf("config: %s:%d: %w", path, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) apply(section, key, value string) error {
	switch section {
	case "file_backend":
		switch key {
		case "file-directory":
			c.FileDirectory = value
		case "dir-level":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("dir-level: %w", err)
			}
			c.DirLevel = n
		}
	case "Server":
		switch key {
		case "ip":
			c.ServerIP = value
		case "port":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("port: %w", err)
			}
			c.ServerPort = n
		}
	}
	return nil
}

// Validate checks constraints the core relies on at startup.
func (c Config) Validate() error {
	if c.DirLevel < 2 || c.DirLevel > 5 {
		return fmt.Errorf("dir-level %d out of range [2,5]", c.DirLevel)
	}
	if c.FileDirectory == "" {
		return fmt.Errorf("file-directory must not be empty")
	}
	return nil
}
