package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcrelay/relay"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultListenAddr = "localhost:8335"
	defaultLogFile    = "relayd.log"
	defaultDebugLevel = "info"
)

var defaultDataDir = btcutil.AppDataDir("relayd", false)

// config holds the daemon's runtime configuration, populated from defaults
// and command line flags.
type config struct {
	DataDir    string `long:"datadir" description:"Directory housing the relay database and logs"`
	Listen     string `long:"listen" description:"Address the HTTP boundary binds to"`
	APIKey     string `long:"apikey" description:"API key guarding the HTTP and websocket boundary; empty disables auth"`
	DebugLevel string `long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`

	FilterCapacity uint32  `long:"filtercapacity" description:"Number of watched items the in-memory filter is sized for"`
	FilterFPRate   float64 `long:"filterfprate" description:"Target false positive rate of the in-memory filter"`

	DBTimeout      time.Duration `long:"dbtimeout" description:"Database file lock timeout"`
	NoFreelistSync bool          `long:"nofreelistsync" description:"Skip syncing the database freelist to disk"`
}

// loadConfig fills in default values and overlays any command line flags.
func loadConfig() (*config, error) {
	cfg := &config{
		DataDir:        defaultDataDir,
		Listen:         defaultListenAddr,
		DebugLevel:     defaultDebugLevel,
		FilterCapacity: relay.DefaultFilterCapacity,
		FilterFPRate:   relay.DefaultFilterFPRate,
		DBTimeout:      time.Second * 60,
		NoFreelistSync: true,
	}

	if _, err := flags.Parse(cfg); err != nil {
		return nil, err
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("unable to create data dir: %w", err)
	}

	if !validLogLevel(cfg.DebugLevel) {
		return nil, fmt.Errorf("invalid debuglevel %q", cfg.DebugLevel)
	}

	return cfg, nil
}

// cleanAndExpandPath expands a leading ~ into the caller's home directory
// and normalizes the result.
func cleanAndExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	return filepath.Clean(os.ExpandEnv(path))
}
