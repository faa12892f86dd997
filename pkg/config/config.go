// Package config provides a go-simpler.org/env configuration table and helpers
// for working with the list of key/value lists stored in .env files.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"go-simpler.org/env"
	"relaypool.dev/pkg/utils/apputil"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/log"
	"relaypool.dev/pkg/utils/lol"
	"relaypool.dev/pkg/version"
)

// C holds client configuration settings loaded from environment variables and
// default values. It defines parameters for the relay pool, per-relay
// connection behaviour, gossip based relay selection, logging, and the
// transport used to reach relays.
type C struct {
	AppName             string        `env:"RELAYPOOL_APP_NAME" default:"relaypool"`
	Config              string        `env:"RELAYPOOL_CONFIG_DIR" usage:"location for configuration file, which has the name '.env' to make it harder to delete, and is a standard environment KEY=value<newline>... style" default:"~/.config/relaypool"`
	LogLevel            string        `env:"RELAYPOOL_LOG_LEVEL" default:"info" usage:"debug level: fatal error warn info debug trace"`
	Relays              []string      `env:"RELAYPOOL_RELAYS" usage:"relay URLs the pool connects to at startup (comma separated)"`
	SecretKey           string        `env:"RELAYPOOL_SECRET_KEY" usage:"hex encoded secret key used for authentication and publishing"`
	MaxRelays           int           `env:"RELAYPOOL_MAX_RELAYS" usage:"maximum number of relays the pool will hold, 0 means unlimited"`
	NotificationBuffer  int           `env:"RELAYPOOL_NOTIFICATION_BUFFER" default:"4096" usage:"per receiver notification channel capacity, oldest are dropped on overflow"`
	AutoAuthenticate    bool          `env:"RELAYPOOL_AUTO_AUTH" default:"true" usage:"respond to relay AUTH challenges automatically when a signer is configured"`
	VerifySubscriptions bool          `env:"RELAYPOOL_VERIFY_SUBSCRIPTIONS" default:"true" usage:"verify id and signature of events received on subscriptions"`
	BanOnMismatch       bool          `env:"RELAYPOOL_BAN_ON_MISMATCH" default:"false" usage:"ban a relay that delivers an event failing verification"`
	SleepWhenIdle       bool          `env:"RELAYPOOL_SLEEP_WHEN_IDLE" default:"false" usage:"close idle connections and redial on next use"`
	IdleTimeout         time.Duration `env:"RELAYPOOL_IDLE_TIMEOUT" default:"5m" usage:"how long a connection may sit without traffic or subscriptions before it is considered idle"`
	Gossip              bool          `env:"RELAYPOOL_GOSSIP" default:"false" usage:"route publishes and fetches using NIP-65 relay lists"`
	GossipMaxPerMarker  int           `env:"RELAYPOOL_GOSSIP_MAX_PER_MARKER" default:"3" usage:"relays selected per read/write marker from an author's relay list"`
	RetryBase           time.Duration `env:"RELAYPOOL_RETRY_BASE" default:"10s" usage:"initial reconnect backoff interval"`
	RetryMax            time.Duration `env:"RELAYPOOL_RETRY_MAX" default:"10m" usage:"reconnect backoff ceiling"`
	PingInterval        time.Duration `env:"RELAYPOOL_PING_INTERVAL" default:"55s" usage:"websocket keepalive ping interval"`
	WriteTimeout        time.Duration `env:"RELAYPOOL_WRITE_TIMEOUT" default:"1m" usage:"deadline for a single websocket write"`
	PublishTimeout      time.Duration `env:"RELAYPOOL_PUBLISH_TIMEOUT" default:"10s" usage:"how long to wait for an OK result after publishing an event"`
	MaxMessageSize      int           `env:"RELAYPOOL_MAX_MESSAGE_SIZE" default:"5242880" usage:"largest websocket message accepted or sent, in bytes"`
	QueueCapacity       int           `env:"RELAYPOOL_QUEUE_CAPACITY" default:"512" usage:"outbound message queue capacity per relay"`
	ReconnectOnDrop     bool          `env:"RELAYPOOL_RECONNECT" default:"true" usage:"redial with backoff when a connection drops"`
	ConnectionMode      string        `env:"RELAYPOOL_CONNECTION_MODE" default:"direct" usage:"how to reach relays: direct, socks5, tor"`
	ProxyAddr           string        `env:"RELAYPOOL_PROXY_ADDR" usage:"socks5 proxy address for the socks5 and tor connection modes"`
	NoCompression       bool          `env:"RELAYPOOL_NO_COMPRESSION" default:"false" usage:"disable websocket permessage-deflate negotiation"`
}

// fileSource adapts the key/value map read from a .env file into the lookup
// interface go-simpler.org/env expects as an alternative variable source.
type fileSource map[string]string

func (f fileSource) LookupEnv(key string) (value string, ok bool) {
	value, ok = f[key]
	return
}

// New creates and initializes a new configuration object for the relay pool
// client
//
// # Return Values
//
//   - cfg: A pointer to the initialized configuration struct containing default
//     or environment-provided values
//
//   - err: An error object that is non-nil if any operation during
//     initialization fails
//
// # Expected Behaviour:
//
// Initializes a new configuration instance by loading environment variables and
// checking for a .env file in the default configuration directory. Sets logging
// levels based on configuration values and returns the populated configuration
// or an error if any step fails
func New() (cfg *C, err error) {
	cfg = &C{}
	if err = env.Load(cfg, &env.Options{SliceSep: ","}); chk.T(err) {
		return
	}
	if cfg.Config == "" || strings.Contains(cfg.Config, "~") {
		cfg.Config = filepath.Join(xdg.ConfigHome, cfg.AppName)
	}
	envPath := filepath.Join(cfg.Config, ".env")
	if apputil.FileExists(envPath) {
		var e map[string]string
		if e, err = godotenv.Read(envPath); chk.T(err) {
			return
		}
		if err = env.Load(
			cfg, &env.Options{SliceSep: ",", Source: fileSource(e)},
		); chk.E(err) {
			return
		}
		lol.SetLogLevel(cfg.LogLevel)
		log.I.F("loaded configuration from %s", envPath)
	}
	// a slice var set to an empty string still yields one empty element, and
	// empty strings anywhere in the list need to be removed.
	var relays []string
	for _, u := range cfg.Relays {
		if u == "" {
			continue
		}
		relays = append(relays, u)
	}
	cfg.Relays = relays
	return
}

// HelpRequested determines if the command line arguments indicate a request for help
//
// # Return Values
//
//   - help: A boolean value indicating true if a help flag was detected in the
//     command line arguments, false otherwise
//
// # Expected Behaviour
//
// The function checks the first command line argument for common help flags and
// returns true if any of them are present. Returns false if no help flag is found
func HelpRequested() (help bool) {
	if len(os.Args) > 1 {
		switch strings.ToLower(os.Args[1]) {
		case "help", "-h", "--h", "-help", "--help", "?":
			help = true
		}
	}
	return
}

// GetEnv checks if the first command line argument is "env" and returns
// whether the environment configuration should be printed.
//
// # Return Values
//
//   - requested: A boolean indicating true if the 'env' argument was
//     provided, false otherwise.
//
// # Expected Behaviour
//
// The function returns true when the first command line argument is "env"
// (case-insensitive), signalling that the environment configuration should be
// printed. Otherwise, it returns false.
func GetEnv() (requested bool) {
	if len(os.Args) > 1 {
		switch strings.ToLower(os.Args[1]) {
		case "env":
			requested = true
		}
	}
	return
}

// KV is a key/value pair.
type KV struct{ Key, Value string }

// KVSlice is a sortable slice of key/value pairs, designed for managing
// configuration data and enabling operations like merging and sorting based on
// keys.
type KVSlice []KV

func (kv KVSlice) Len() int           { return len(kv) }
func (kv KVSlice) Less(i, j int) bool { return kv[i].Key < kv[j].Key }
func (kv KVSlice) Swap(i, j int)      { kv[i], kv[j] = kv[j], kv[i] }

// Compose merges two KVSlice instances into a new slice where key-value pairs
// from the second slice override any duplicate keys from the first slice.
//
// # Parameters
//
//   - kv2: The second KVSlice whose entries will be merged with the receiver.
//
// # Return Values
//
//   - out: A new KVSlice containing all entries from both slices, with keys
//     from kv2 taking precedence over keys from the receiver.
//
// # Expected Behaviour
//
// The method returns a new KVSlice that combines the contents of the receiver
// and kv2. If any key exists in both slices, the value from kv2 is used. The
// resulting slice remains sorted by keys as per the KVSlice implementation.
func (kv KVSlice) Compose(kv2 KVSlice) (out KVSlice) {
	// duplicate the initial KVSlice
	for _, p := range kv {
		out = append(out, p)
	}
out:
	for i, p := range kv2 {
		for j, q := range out {
			// if the key is repeated, replace the value
			if p.Key == q.Key {
				out[j].Value = kv2[i].Value
				continue out
			}
		}
		out = append(out, p)
	}
	return
}

// EnvKV generates key/value pairs from a configuration object's struct tags
//
// # Parameters
//
//   - cfg: A configuration object whose struct fields are processed for env tags
//
// # Return Values
//
//   - m: A KVSlice containing key/value pairs derived from the config's env tags
//
// # Expected Behaviour
//
// Processes each field of the config object, extracting values tagged with
// "env" and converting them to strings. Skips fields without an "env" tag.
// Handles various value types including strings, integers, booleans, durations,
// and string slices by joining elements with commas.
func EnvKV(cfg any) (m KVSlice) {
	t := reflect.TypeOf(cfg)
	for i := 0; i < t.NumField(); i++ {
		k := t.Field(i).Tag.Get("env")
		v := reflect.ValueOf(cfg).Field(i).Interface()
		var val string
		switch v.(type) {
		case string:
			val = v.(string)
		case int, bool, time.Duration:
			val = fmt.Sprint(v)
		case []string:
			arr := v.([]string)
			if len(arr) > 0 {
				val = strings.Join(arr, ",")
			}
		}
		// this can happen with embedded structs
		if k == "" {
			continue
		}
		m = append(m, KV{k, val})
	}
	return
}

// PrintEnv outputs sorted environment key/value pairs from a configuration object
// to the provided writer
//
// # Parameters
//
//   - cfg: Pointer to the configuration object containing env tags
//
//   - printer: Destination for the output, typically an io.Writer implementation
//
// # Expected Behaviour
//
// Outputs each environment variable derived from the config's struct tags in
// sorted order, formatted as "key=value\n" to the specified writer
func PrintEnv(cfg *C, printer io.Writer) {
	kvs := EnvKV(*cfg)
	sort.Sort(kvs)
	for _, v := range kvs {
		_, _ = fmt.Fprintf(printer, "%s=%s\n", v.Key, v.Value)
	}
}

// PrintHelp prints help information including application version, environment
// variable configuration, and details about .env file handling to the provided
// writer
//
// # Parameters
//
//   - cfg: Configuration object containing app name and config directory path
//
//   - printer: Output destination for the help text
//
// # Expected Behaviour
//
// Prints application name and version followed by environment variable
// configuration details, explains .env file behaviour including automatic
// loading and custom path options, and displays current configuration values
// using PrintEnv. Outputs all information to the specified writer
func PrintHelp(cfg *C, printer io.Writer) {
	_, _ = fmt.Fprintf(
		printer,
		"%s %s\n\n", cfg.AppName, version.V,
	)
	_, _ = fmt.Fprintf(
		printer,
		"Environment variables that configure %s:\n\n", cfg.AppName,
	)
	env.Usage(cfg, printer, &env.Options{SliceSep: ","})
	_, _ = fmt.Fprintf(
		printer,
		"\nCLI parameter 'help' also prints this information\n"+
			"\n.env file found at the path %s will be automatically "+
			"loaded for configuration.\nset these two variables for a custom load path,"+
			" this file will be created on first startup.\nenvironment overrides it and "+
			"you can also edit the file to set configuration options\n\n"+
			"use the parameter 'env' to print out the current configuration to the terminal\n\n"+
			"set the environment using\n\n\t%s env > %s/.env\n",
		cfg.Config,
		os.Args[0],
		cfg.Config,
	)
	fmt.Fprintf(printer, "\ncurrent configuration:\n\n")
	PrintEnv(cfg, printer)
	fmt.Fprintln(printer)
	return
}
