package server

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/janelia-flyem/densityserver/density"
	"github.com/janelia-flyem/densityserver/query"
)

const (
	// DefaultWebAddress is the default address of the density web server.
	DefaultWebAddress = "localhost:1337"

	// DefaultAPIPrefix is the path prefix of all API routes.
	DefaultAPIPrefix = "/DensityServer"

	// MaxIdentifierLength bounds source names and entry ids.  Longer requests are
	// answered with 404 without touching storage.
	MaxIdentifierLength = 32

	idPlaceholder = "${id}"
)

// Config is the parsed TOML configuration of a server.
type Config struct {
	Server  serverConfig
	Logging density.LogConfig
	Limits  query.Limits
	Cache   cacheConfig

	// IDMap maps a source name like "x-ray" to a path or bucket reference template in
	// which ${id} is replaced by the requested entry id.
	IDMap map[string]string `toml:"idmap"`
}

type serverConfig struct {
	HTTPAddress    string `toml:"httpAddress"`
	APIPrefix      string `toml:"apiPrefix"`
	MaxConnections int    `toml:"maxConnections"`
	DefaultDetail  int    `toml:"defaultDetail"`
}

type cacheConfig struct {
	HeaderMB int `toml:"header_mb"`
}

// DefaultConfig returns the configuration used for settings absent from a file.
func DefaultConfig() *Config {
	return &Config{
		Server: serverConfig{
			HTTPAddress: DefaultWebAddress,
			APIPrefix:   DefaultAPIPrefix,
		},
		Limits: query.DefaultLimits(),
		IDMap:  map[string]string{},
	}
}

// LoadConfig loads server configuration from a TOML file.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no server TOML configuration file provided")
	}
	c := DefaultConfig()
	if _, err := toml.DecodeFile(filename, c); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	idmap := make(map[string]string, len(c.IDMap))
	for src, tmpl := range c.IDMap {
		idmap[strings.ToLower(src)] = tmpl
	}
	c.IDMap = idmap
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return nil, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	c.Server.APIPrefix = "/" + strings.Trim(c.Server.APIPrefix, "/")
	if c.Server.APIPrefix == "/" {
		c.Server.APIPrefix = ""
	}
	return c, nil
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *Config) convertPathsToAbsolute(configPath string) error {
	configDir := filepath.Dir(configPath)

	// [logging].logfile
	if c.Logging.Logfile != "" {
		p, err := convertToAbsolute(c.Logging.Logfile, configDir)
		if err != nil {
			return fmt.Errorf("error converting logfile setting to absolute path")
		}
		c.Logging.Logfile = p
	}

	// [idmap] local templates
	for src, tmpl := range c.IDMap {
		if strings.Contains(tmpl, "://") {
			continue
		}
		p, err := convertToAbsolute(tmpl, configDir)
		if err != nil {
			return fmt.Errorf("error converting idmap.%s to absolute path: %q", src, tmpl)
		}
		c.IDMap[src] = p
	}
	return nil
}

func convertToAbsolute(path, dir string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	return filepath.Abs(filepath.Join(dir, path))
}

// MapFile returns the packed file reference of an entry.  Source and id are matched
// in lower case.  found is false for unknown sources and for identifiers that are too
// long or could escape the template.
func (c *Config) MapFile(source, id string) (ref string, found bool) {
	source, id = strings.ToLower(source), strings.ToLower(id)
	if !validIdentifier(source) || !validIdentifier(id) {
		return "", false
	}
	tmpl, ok := c.IDMap[source]
	if !ok {
		return "", false
	}
	return strings.ReplaceAll(tmpl, idPlaceholder, id), true
}

func validIdentifier(s string) bool {
	if s == "" || len(s) > MaxIdentifierLength {
		return false
	}
	return !strings.ContainsAny(s, `/\`) && !strings.Contains(s, "..")
}

// HTTPAddress returns the configured listen address.
func (c *Config) HTTPAddress() string {
	if c.Server.HTTPAddress == "" {
		return DefaultWebAddress
	}
	return c.Server.HTTPAddress
}
