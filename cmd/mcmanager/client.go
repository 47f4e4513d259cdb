package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/mcmanager/internal/config"
	"github.com/loykin/mcmanager/pkg/client"
)

const defaultAPITimeout = client.DefaultTimeout

// clientFromFlags builds a client from --api-url/--token, falling back to
// the [server] section of the config file.
func clientFromFlags(g *GlobalFlags) (*client.Client, error) {
	cc := client.Config{BaseURL: g.API.URL, Token: g.API.Token, Timeout: g.API.Timeout}
	if g.API.URL != "" {
		return client.New(cc)
	}
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return nil, err
	}
	if cc.Token == "" {
		if cc.Token, err = configToken(cfg); err != nil {
			return nil, err
		}
	}
	cc.BaseURL = baseURLFromConfig(cfg)
	if cfg.Server.TLS.Enabled {
		cert, err := daemonCert(cfg)
		if err != nil {
			return nil, err
		}
		cc.TLS = &client.TLSClientConfig{CACert: cert}
	}
	return client.New(cc)
}

func baseURLFromConfig(cfg *config.Config) string {
	scheme := "http"
	if cfg.Server.TLS.Enabled {
		scheme = "https"
	}
	host, port, err := net.SplitHostPort(cfg.Server.Listen)
	if err != nil {
		host, port = "127.0.0.1", "8787"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	base := cfg.Server.BasePath
	if base != "" && !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return scheme + "://" + net.JoinHostPort(host, port) + strings.TrimRight(base, "/")
}

func configToken(cfg *config.Config) (string, error) {
	if cfg.Server.Auth.TokenFile != "" {
		b, err := os.ReadFile(cfg.Server.Auth.TokenFile)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	return cfg.Server.Auth.Token, nil
}

// daemonCert locates the daemon's certificate, which is usually
// self-signed, so the client can trust it.
func daemonCert(cfg *config.Config) (string, error) {
	certFile := cfg.Server.TLS.CertFile
	if certFile == "" {
		certFile = filepath.Join(cfg.Server.TLS.Dir, "tls.crt")
	}
	if _, err := os.Stat(certFile); err != nil {
		return "", fmt.Errorf("daemon certificate: %w", err)
	}
	return certFile, nil
}

