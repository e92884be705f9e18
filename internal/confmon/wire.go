package confmon

import (
	"encoding/json"
	"fmt"

	"github.com/couchbase/lcbgo/internal/clustermap"
)

// wireConfig mirrors the subset of a Couchbase cluster config document (the
// "terse" bucket config JSON) this client understands: node list, vbucket
// server map or ketama hint, and the revision pair. Field names follow the
// server's actual wire JSON, recovered from
// original_source/deps/lcb/src/bucketconfig/bc_http.cc's parsing path.
type wireConfig struct {
	Rev      int64  `json:"rev"`
	RevEpoch int64  `json:"revEpoch"`
	Name     string `json:"name"`
	NodesExt []struct {
		Hostname string `json:"hostname"`
		Services struct {
			KV      int `json:"kv"`
			Mgmt    int `json:"mgmt"`
			Capi    int `json:"capi"`
			N1QL    int `json:"n1ql"`
			FTS     int `json:"fts"`
			KVSSL   int `json:"kvSSL"`
			MgmtSSL int `json:"mgmtSSL"`
		} `json:"services"`
	} `json:"nodesExt"`
	VBucketServerMap *struct {
		HashAlgorithm string   `json:"hashAlgorithm"`
		NumReplicas   int      `json:"numReplicas"`
		ServerList    []string `json:"serverList"`
		VBucketMap    [][]int  `json:"vBucketMap"`
	} `json:"vBucketServerMap"`
}

// parseWireConfig converts a cluster config JSON document into a
// clustermap.Config. hostOverride replaces an empty "hostname" field with
// the host the document was fetched from, matching the server's convention
// of omitting hostname for the node the client is already talking to.
func parseWireConfig(data []byte, origin, hostOverride string, nowNano int64) (*clustermap.Config, error) {
	var w wireConfig
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("confmon: parse config: %w", err)
	}

	cfg := clustermap.NewConfig(nowNano)
	cfg.Rev = w.Rev
	cfg.RevEpoch = w.RevEpoch
	cfg.Origin = origin

	cfg.Nodes = make([]clustermap.NodeInfo, len(w.NodesExt))
	for i, n := range w.NodesExt {
		host := n.Hostname
		if host == "" {
			host = hostOverride
		}
		cfg.Nodes[i] = clustermap.NodeInfo{
			Hostname:   host,
			KVPort:     n.Services.KV,
			MgmtPort:   n.Services.Mgmt,
			ViewsPort:  n.Services.Capi,
			N1QLPort:   n.Services.N1QL,
			SearchPort: n.Services.FTS,
		}
	}

	if w.VBucketServerMap != nil {
		cfg.Dist = clustermap.DistVBucket
		cfg.NumReplicas = w.VBucketServerMap.NumReplicas
		cfg.VBucketMap = w.VBucketServerMap.VBucketMap
	} else {
		cfg.Dist = clustermap.DistKetama
		cfg.Ketama = clustermap.BuildKetamaRing(cfg.Nodes)
	}

	return cfg, nil
}

// ParseWireConfig is parseWireConfig for callers outside this package that
// need to interpret a config document arriving by a channel none of this
// package's own providers own — spec.md §4.6 point 1's NOT_MY_VBUCKET
// piggyback, handed over by internal/dispatch, parsed by internal/instance
// and fed back in via
// Monitor.ConfigUpdatedExternally.
func ParseWireConfig(data []byte, origin, hostOverride string) (*clustermap.Config, error) {
	return parseWireConfig(data, origin, hostOverride, clustermap.NowNano())
}
