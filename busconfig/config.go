// Package busconfig holds per-API bus settings (rpc_timeout,
// event_fire_timeout, transport selectors), loaded with
// github.com/spf13/viper from a single document into typed sub-structures.
// The bus core never parses transport config itself; it only reads the
// selector strings back out.
package busconfig

import (
	"bytes"
	"time"

	"github.com/spf13/viper"
)

// TransportSelectors names, by capability, which transport plugin an API
// should use. The core never interprets these strings — transports
// register themselves under a name and a wiring layer looks them up.
type TransportSelectors struct {
	RPC    string `mapstructure:"rpc_transport"`
	Result string `mapstructure:"result_transport"`
	Event  string `mapstructure:"event_transport"`
}

// APIConfig is the configuration surface the bus reads for any given API
// name.
type APIConfig struct {
	RPCTimeout       time.Duration      `mapstructure:"rpc_timeout"`
	EventFireTimeout time.Duration      `mapstructure:"event_fire_timeout"`
	Transports       TransportSelectors `mapstructure:"transports"`
	// Extra carries unrecognized keys opaquely — the core never inspects them.
	Extra map[string]interface{} `mapstructure:",remain"`
}

// DefaultAPIConfig is applied when an API has no explicit configuration
// entry.
var DefaultAPIConfig = APIConfig{
	RPCTimeout:       5 * time.Second,
	EventFireTimeout: 5 * time.Second,
}

// Provider resolves per-API settings by name.
type Provider interface {
	API(name string) APIConfig
}

// Loader is a viper-backed Provider. It reads a document shaped like:
//
//	apis:
//	  auth:
//	    rpc_timeout: 5s
//	    event_fire_timeout: 2s
//	    transports:
//	      rpc_transport: memory
//	      result_transport: memory
//	      event_transport: memory
type Loader struct {
	v        *viper.Viper
	apis     map[string]APIConfig
	fallback APIConfig
}

// NewLoader constructs a Loader around its own *viper.Viper instance so
// that multiple buses in one process never share global Viper state.
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Loader{v: v, apis: map[string]APIConfig{}, fallback: DefaultAPIConfig}
}

// ReadYAML parses a YAML document into the loader's per-API table.
func (l *Loader) ReadYAML(data []byte) error {
	if err := l.v.ReadConfig(bytes.NewReader(data)); err != nil {
		return err
	}
	var parsed struct {
		Apis map[string]APIConfig `mapstructure:"apis"`
	}
	if err := l.v.Unmarshal(&parsed); err != nil {
		return err
	}
	l.apis = parsed.Apis
	return nil
}

// Set installs configuration for a single API directly — useful for tests
// and for programmatic setup that skips YAML entirely.
func (l *Loader) Set(name string, cfg APIConfig) {
	if l.apis == nil {
		l.apis = map[string]APIConfig{}
	}
	l.apis[name] = cfg
}

// API implements Provider. Unrecognized API names fall back to
// DefaultAPIConfig rather than erroring — an API with no explicit config
// uses the defaults, it is not a configuration error.
func (l *Loader) API(name string) APIConfig {
	if cfg, ok := l.apis[name]; ok {
		return cfg
	}
	return l.fallback
}
