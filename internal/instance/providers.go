package instance

import (
	"context"
	"net/http"
	"time"

	"github.com/couchbase/lcbgo/internal/clustermap"
	"github.com/couchbase/lcbgo/internal/confmon"
	"github.com/couchbase/lcbgo/internal/config"
)

// bootstrapNodes turns the parsed host list into the minimal NodeInfo set a
// provider needs to dial: KVPort for CCCP, MgmtPort for HTTP. Real port
// numbers for the other services only become known once a real config
// document is parsed; providers only need somewhere to ask.
func bootstrapNodes(hosts []config.HostSpec) []clustermap.NodeInfo {
	nodes := make([]clustermap.NodeInfo, 0, len(hosts))
	for _, h := range hosts {
		n := clustermap.NodeInfo{Hostname: h.Host}
		if h.HTTPOnly {
			n.MgmtPort = h.Port
		} else {
			n.KVPort = h.Port
			n.MgmtPort = h.Port
		}
		nodes = append(nodes, n)
	}
	return nodes
}

// buildProviders assembles the confmon provider chain per spec.md §4.9:
// CCCP and HTTP are both active by default; NoCCCP/NoHTTP drop one or the
// other, and a configured config-cache file is tried first as a cold-start
// seed.
func (inst *Instance) buildProviders() []confmon.Provider {
	var providers []confmon.Provider
	nodes := bootstrapNodes(inst.settings.Hosts)

	if inst.settings.ConfigCache != "" {
		fp := confmon.NewFileProvider(inst.settings.ConfigCache)
		fp.ConfigureNodes(nodes)
		providers = append(providers, fp)
	}

	if !inst.settings.NoCCCP {
		cp := confmon.NewCCCPProvider(inst.logger)
		cp.ConfigureNodes(nodes)
		providers = append(providers, cp)
	}

	if inst.settings.ConfigPushURL != "" {
		wp := confmon.NewWSProvider(inst.settings.ConfigPushURL, inst.logger)
		if err := wp.Start(context.Background()); err != nil {
			inst.logger.Warn("config push provider failed to start", "url", inst.settings.ConfigPushURL, "error", err)
		} else {
			providers = append(providers, wp)
		}
	}

	if !inst.settings.NoHTTP {
		user, pass := inst.settings.EffectiveCredentials()
		httpTimeout := inst.settings.Timeouts.HTTP
		if httpTimeout <= 0 {
			httpTimeout = 75 * time.Second
		}
		hc := &http.Client{Timeout: httpTimeout, Transport: &http.Transport{TLSClientConfig: inst.tlsConfig()}}
		hp := confmon.NewHTTPProvider(inst.settings.Bucket, user, pass, hc, inst.logger)
		hp.ConfigureNodes(nodes)
		providers = append(providers, hp)
	}

	return providers
}
