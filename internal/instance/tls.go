package instance

import (
	"crypto/tls"
	"crypto/x509"
	"os"
)

// tlsConfig builds a *tls.Config from settings.TLS, or returns nil when TLS
// is not enabled for this instance. There's no ecosystem library for
// assembling a tls.Config from PEM file paths worth reaching for here —
// crypto/tls and crypto/x509 already are the idiomatic way this is done.
func (inst *Instance) tlsConfig() *tls.Config {
	t := inst.settings.TLS
	if !t.Enabled {
		return nil
	}
	cfg := &tls.Config{}
	if t.CACert != "" {
		pem, err := os.ReadFile(t.CACert)
		if err != nil {
			inst.logger.Warn("failed to read ssl_cacert", "path", t.CACert, "error", err)
		} else {
			pool := x509.NewCertPool()
			if pool.AppendCertsFromPEM(pem) {
				cfg.RootCAs = pool
			}
		}
	}
	if t.Cert != "" && t.Key != "" {
		cert, err := tls.LoadX509KeyPair(t.Cert, t.Key)
		if err != nil {
			inst.logger.Warn("failed to load ssl_cert/ssl_key", "error", err)
		} else {
			cfg.Certificates = []tls.Certificate{cert}
		}
	}
	return cfg
}
