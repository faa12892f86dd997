package config

import (
	"bytes"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaypool.dev/pkg/protocol/transport"
)

func TestNewDefaults(t *testing.T) {
	t.Setenv("RELAYPOOL_CONFIG_DIR", t.TempDir())
	cfg, err := New()
	require.NoError(t, err)
	require.Equal(t, "relaypool", cfg.AppName)
	require.Equal(t, "info", cfg.LogLevel)
	require.True(t, cfg.AutoAuthenticate)
	require.True(t, cfg.VerifySubscriptions)
	require.True(t, cfg.ReconnectOnDrop)
	require.Equal(t, 10*time.Second, cfg.RetryBase)
	require.Equal(t, 10*time.Minute, cfg.RetryMax)
	require.Equal(t, 55*time.Second, cfg.PingInterval)
	require.Equal(t, 512, cfg.QueueCapacity)
	require.Equal(t, 4096, cfg.NotificationBuffer)
	require.Empty(t, cfg.Relays)
}

func TestNewFromEnvironment(t *testing.T) {
	t.Setenv("RELAYPOOL_CONFIG_DIR", t.TempDir())
	t.Setenv(
		"RELAYPOOL_RELAYS", "wss://a.example.com,,wss://b.example.com",
	)
	t.Setenv("RELAYPOOL_AUTO_AUTH", "false")
	t.Setenv("RELAYPOOL_RETRY_BASE", "2s")
	cfg, err := New()
	require.NoError(t, err)
	// empty elements from doubled commas must not survive
	require.Equal(
		t, []string{"wss://a.example.com", "wss://b.example.com"}, cfg.Relays,
	)
	require.False(t, cfg.AutoAuthenticate)
	require.Equal(t, 2*time.Second, cfg.RetryBase)
}

func TestMode(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want transport.Mode
	}{
		{"", transport.Direct},
		{"direct", transport.Direct},
		{"DIRECT", transport.Direct},
		{"socks5", transport.Socks5},
		{"tor", transport.EmbeddedTor},
		{"garbage", transport.Direct},
	} {
		cfg := &C{ConnectionMode: tc.in}
		require.Equal(t, tc.want, cfg.Mode(), "mode %q", tc.in)
	}
}

func TestSigner(t *testing.T) {
	cfg := &C{}
	sign, err := cfg.Signer()
	require.NoError(t, err)
	require.Nil(t, sign)

	cfg.SecretKey = strings.Repeat("0f", 32)
	sign, err = cfg.Signer()
	require.NoError(t, err)
	require.NotNil(t, sign)
	require.Len(t, sign.Pub(), 32)

	cfg.SecretKey = "not hex"
	_, err = cfg.Signer()
	require.Error(t, err)
}

func TestPoolOptionsNegations(t *testing.T) {
	cfg := &C{
		AutoAuthenticate:    true,
		VerifySubscriptions: true,
		ReconnectOnDrop:     true,
	}
	opt, err := cfg.PoolOptions()
	require.NoError(t, err)
	require.False(t, opt.NoAutoAuth)
	require.False(t, opt.NoVerify)
	require.False(t, opt.RelayDefaults.NoReconnect)

	cfg = &C{}
	opt, err = cfg.PoolOptions()
	require.NoError(t, err)
	require.True(t, opt.NoAutoAuth)
	require.True(t, opt.NoVerify)
	require.True(t, opt.RelayDefaults.NoReconnect)
}

func TestRelayOptionsCarriesTransport(t *testing.T) {
	cfg := &C{
		ConnectionMode: "socks5",
		ProxyAddr:      "127.0.0.1:9050",
		NoCompression:  true,
		WriteTimeout:   30 * time.Second,
		MaxMessageSize: 1 << 20,
	}
	opt := cfg.RelayOptions()
	require.Equal(t, transport.Socks5, opt.Transport.Mode)
	require.Equal(t, "127.0.0.1:9050", opt.Transport.ProxyAddr)
	require.True(t, opt.Transport.NoCompression)
	require.Equal(t, 30*time.Second, opt.WriteTimeout)
	require.Equal(t, int64(1<<20), opt.MaxMessageSize)
}

func TestValidate(t *testing.T) {
	good := &C{
		RetryBase:      10 * time.Second,
		RetryMax:       10 * time.Minute,
		ConnectionMode: "direct",
	}
	require.NoError(t, good.Validate())

	bad := &C{RetryBase: time.Minute, RetryMax: time.Second}
	require.Error(t, bad.Validate())

	bad = &C{WriteTimeout: 48 * time.Hour}
	require.Error(t, bad.Validate())

	bad = &C{ConnectionMode: "carrier-pigeon"}
	require.Error(t, bad.Validate())

	bad = &C{ConnectionMode: "socks5"}
	require.Error(t, bad.Validate())
}

func TestKVSliceCompose(t *testing.T) {
	a := KVSlice{{"A", "1"}, {"B", "2"}}
	b := KVSlice{{"B", "3"}, {"C", "4"}}
	out := a.Compose(b)
	sort.Sort(out)
	require.Equal(t, KVSlice{{"A", "1"}, {"B", "3"}, {"C", "4"}}, out)
}

func TestEnvKVAndPrint(t *testing.T) {
	t.Setenv("RELAYPOOL_CONFIG_DIR", t.TempDir())
	cfg, err := New()
	require.NoError(t, err)
	kv := EnvKV(*cfg)
	keys := map[string]bool{}
	for _, p := range kv {
		keys[p.Key] = true
	}
	require.True(t, keys["RELAYPOOL_RELAYS"])
	require.True(t, keys["RELAYPOOL_LOG_LEVEL"])

	var buf bytes.Buffer
	PrintEnv(cfg, &buf)
	require.Contains(t, buf.String(), "RELAYPOOL_LOG_LEVEL=")
}
