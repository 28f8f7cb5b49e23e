package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

const DefaultBranch = "main"

// RegexpTypeMap - parsed typemap entry
type RegexpTypeMap struct {
	Binary bool           // true: store archive uncompressed
	RePath *regexp.Regexp // Compiled regexp
}

// Config for svnfastexport
type Config struct {
	DefaultBranch string   `yaml:"default_branch"`
	GitSvnID      *bool    `yaml:"git_svn_id"`  // append git-svn-id trailer to commit messages
	PersistDir    string   `yaml:"persist_dir"` // checkpoint dir for the store arenas ("" = in-memory only)
	TypeMaps      []string `yaml:"typemaps"`
	ReTypeMaps    []RegexpTypeMap
}

// Unmarshal the config
func Unmarshal(config []byte) (*Config, error) {
	// Default values specified here
	cfg := &Config{
		DefaultBranch: DefaultBranch,
		ReTypeMaps:    make([]RegexpTypeMap, 0),
	}
	err := yaml.Unmarshal(config, cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %v. make sure to use 'single quotes' around strings with special characters (like match patterns)", err.Error())
	}
	err = cfg.validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile - loads config file
func LoadConfigFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	cfg, err := LoadConfigString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	return cfg, nil
}

// LoadConfigString - loads a string
func LoadConfigString(content []byte) (*Config, error) {
	cfg, err := Unmarshal([]byte(content))
	return cfg, err
}

// AppendGitSvnID - whether commit messages carry the git-svn-id trailer
func (c *Config) AppendGitSvnID() bool {
	return c.GitSvnID == nil || *c.GitSvnID
}

func (c *Config) validate() error {
	if c.DefaultBranch == "" {
		return fmt.Errorf("default_branch must not be empty")
	}
	for _, m := range c.TypeMaps {
		parts := strings.Fields(m)
		if len(parts) != 2 {
			return fmt.Errorf("failed to split '%s' on a space", m)
		}
		ftype := parts[0]
		reStr := parts[1]
		if ftype != "binary" && ftype != "text" {
			return fmt.Errorf("typemaps must start with either 'binary' or 'text': %s", m)
		}
		// Perforce-style wildcards: "..." spans directories, "*" stays within one
		reStr = strings.ReplaceAll(reStr, "...", "\x00")
		reStr = strings.ReplaceAll(reStr, "*", "[^/]*")
		reStr = strings.ReplaceAll(reStr, "\x00", ".*")
		reStr += "$"
		rePath, err := regexp.Compile(reStr)
		if err != nil {
			return fmt.Errorf("failed to parse '%s' as a regex", reStr)
		}
		c.ReTypeMaps = append(c.ReTypeMaps, RegexpTypeMap{Binary: ftype == "binary", RePath: rePath})
	}
	return nil
}
