package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	conf, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conf.PeerAddr != DefaultPeerAddr || conf.TTL != DefaultTTL || conf.WindowSize != DefaultWindowSize {
		t.Errorf("defaults not applied: %+v", conf)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "peer_addr: 10.0.0.2:8080\nlocal_ip: 10.0.0.1\nttl: 32\nsocket_backend: rawconn\nappend_newline: false\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	conf, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conf.PeerAddr != "10.0.0.2:8080" || conf.LocalIP != "10.0.0.1" {
		t.Errorf("addresses not loaded: %+v", conf)
	}
	if conf.TTL != 32 || conf.SocketBackend != BackendRawConn || conf.AppendNewline {
		t.Errorf("overrides not loaded: %+v", conf)
	}
	// untouched keys keep their defaults
	if conf.WindowSize != DefaultWindowSize || conf.RecvBufferSize != DefaultRecvBufferSize {
		t.Errorf("defaults lost: %+v", conf)
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}, wantErr: false},
		{name: "peer without port", mutate: func(c *Config) { c.PeerAddr = "127.0.0.1" }, wantErr: true},
		{name: "peer not ipv4", mutate: func(c *Config) { c.PeerAddr = "[::1]:80" }, wantErr: true},
		{name: "peer port zero", mutate: func(c *Config) { c.PeerAddr = "127.0.0.1:0" }, wantErr: true},
		{name: "bad local ip", mutate: func(c *Config) { c.LocalIP = "localhost" }, wantErr: true},
		{name: "inverted port range", mutate: func(c *Config) { c.ClientPortLower = 5000; c.ClientPortUpper = 4000 }, wantErr: true},
		{name: "tiny receive buffer", mutate: func(c *Config) { c.RecvBufferSize = 20 }, wantErr: true},
		{name: "rawsocket backend", mutate: func(c *Config) { c.SocketBackend = BackendRawSocket }},
		{name: "unknown backend", mutate: func(c *Config) { c.SocketBackend = "pcap" }, wantErr: true},
	}

	for _, tc := range testCases {
		conf := DefaultConfig()
		tc.mutate(conf)
		err := conf.Validate()
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: expected error %t, got %v", tc.name, tc.wantErr, err)
		}
	}
}

func TestLoadConfigRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("ttl: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected a parse error")
	}
}
