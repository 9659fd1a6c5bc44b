// Package config loads ControlPoint tuning knobs, in the shape
// navidrome's conf package exposes server settings: a struct populated
// from environment variables and command-line flags over the values
// Default returns. A zero-value Config is not a usable configuration.
package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every tunable the core needs. Callers normally get one
// from Load; tests construct one directly.
type Config struct {
	// SearchTimeout is how long upnpctl --search-only keeps collecting
	// replies after its M-SEARCH before it exits. M-SEARCH requests
	// always advertise MX: 1, whatever this value is.
	SearchTimeout time.Duration

	// NotifyPort is the UDP port the notify receiver binds to. UPnP
	// requires 1900; overridable for tests that can't bind well-known
	// ports.
	NotifyPort int

	// EventReceiverAddr supplies the port the local GENA callback server
	// binds to; port 0 means OS-chosen. Its host part is ignored: the
	// server binds to the first interface's IPv4 address.
	EventReceiverAddr string

	// HTTPReadTimeout is the overall per-request timeout of the HTTP
	// client used for description fetch, SOAP invocation, and GENA
	// requests. HTTPConnectTimeout is not applied to connection setup on
	// its own; it is added to HTTPReadTimeout to form the deadline of one
	// whole description fetch.
	HTTPConnectTimeout time.Duration
	HTTPReadTimeout    time.Duration

	// DescriptionFetchWorkers sizes the description-fetch pool.
	DescriptionFetchWorkers int

	// ExpirySweepInterval is the device-expiry sweep tick.
	ExpirySweepInterval time.Duration

	// MinRenewSleep floors the keep-alive scheduler's sleep between
	// wake-ups.
	MinRenewSleep time.Duration

	// DefaultMaxAge is not read by the SSDP parser: when CACHE-CONTROL's
	// max-age is missing or unparsable it substitutes its own fixed 1800,
	// whatever this field holds.
	DefaultMaxAge int

	// SubscriptionTimeout is the Second-N value requested on SUBSCRIBE.
	SubscriptionTimeout time.Duration

	// UserAgent is sent as USER-AGENT on SOAP and M-SEARCH requests.
	UserAgent string
}

// Default returns the configuration used when the caller doesn't load
// one from the environment.
func Default() Config {
	return Config{
		SearchTimeout:           1 * time.Second,
		NotifyPort:              1900,
		EventReceiverAddr:       ":0",
		HTTPConnectTimeout:      30 * time.Second,
		HTTPReadTimeout:         30 * time.Second,
		DescriptionFetchWorkers: 2,
		ExpirySweepInterval:     1 * time.Second,
		MinRenewSleep:           1000 * time.Millisecond,
		DefaultMaxAge:           1800,
		SubscriptionTimeout:     300 * time.Second,
		UserAgent:               "Go-UPnP-ControlPoint/1.0 UPnP/1.0",
	}
}

// AddFlags registers the command-line overrides Load understands on the
// given flag set. Callers that don't expose flags pass nil to Load.
func AddFlags(flags *pflag.FlagSet) {
	cfg := Default()
	flags.Duration("search-timeout", cfg.SearchTimeout, "how long --search-only waits for M-SEARCH replies before exiting")
	flags.String("event-receiver-addr", cfg.EventReceiverAddr, "address whose port the GENA callback server binds to on the first interface (port 0 = OS-chosen)")
	flags.String("user-agent", cfg.UserAgent, "USER-AGENT sent on SOAP and M-SEARCH requests")
}

// Load reads UPNPCP_-prefixed environment variables over the defaults,
// mirroring the ND_-prefixed viper setup navidrome's conf package uses,
// with any flags registered by AddFlags taking precedence over both.
func Load(flags *pflag.FlagSet) Config {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("UPNPCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		_ = v.BindPFlag("search_timeout", flags.Lookup("search-timeout"))
		_ = v.BindPFlag("event_receiver_addr", flags.Lookup("event-receiver-addr"))
		_ = v.BindPFlag("user_agent", flags.Lookup("user-agent"))
	}

	v.SetDefault("search_timeout", cfg.SearchTimeout)
	v.SetDefault("notify_port", cfg.NotifyPort)
	v.SetDefault("event_receiver_addr", cfg.EventReceiverAddr)
	v.SetDefault("http_connect_timeout", cfg.HTTPConnectTimeout)
	v.SetDefault("http_read_timeout", cfg.HTTPReadTimeout)
	v.SetDefault("description_fetch_workers", cfg.DescriptionFetchWorkers)
	v.SetDefault("expiry_sweep_interval", cfg.ExpirySweepInterval)
	v.SetDefault("min_renew_sleep", cfg.MinRenewSleep)
	v.SetDefault("default_max_age", cfg.DefaultMaxAge)
	v.SetDefault("subscription_timeout", cfg.SubscriptionTimeout)
	v.SetDefault("user_agent", cfg.UserAgent)

	cfg.SearchTimeout = v.GetDuration("search_timeout")
	cfg.NotifyPort = v.GetInt("notify_port")
	cfg.EventReceiverAddr = v.GetString("event_receiver_addr")
	cfg.HTTPConnectTimeout = v.GetDuration("http_connect_timeout")
	cfg.HTTPReadTimeout = v.GetDuration("http_read_timeout")
	cfg.DescriptionFetchWorkers = v.GetInt("description_fetch_workers")
	cfg.ExpirySweepInterval = v.GetDuration("expiry_sweep_interval")
	cfg.MinRenewSleep = v.GetDuration("min_renew_sleep")
	cfg.DefaultMaxAge = v.GetInt("default_max_age")
	cfg.SubscriptionTimeout = v.GetDuration("subscription_timeout")
	cfg.UserAgent = v.GetString("user_agent")

	return cfg
}
