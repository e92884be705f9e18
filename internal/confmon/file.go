package confmon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/couchbase/lcbgo/internal/clustermap"
	cberrors "github.com/couchbase/lcbgo/internal/errors"
)

// FileProvider persists the last-known-good config to a local cache file so
// a restarting client can bootstrap without reaching the cluster first
// (spec.md §4.4's File/cache provider). Writes are atomic: write a temp file
// in the same directory, then rename over the target, so a crash mid-write
// never leaves a truncated cache behind.
type FileProvider struct {
	baseProvider

	Path string

	mu sync.Mutex
}

func NewFileProvider(path string) *FileProvider {
	return &FileProvider{Path: path}
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Shutdown() {}

func (p *FileProvider) Dump(w io.Writer) {
	fmt.Fprintf(w, "file provider: path=%s\n", p.Path)
}

// Refresh reads whatever config is on disk. It never blocks waiting for the
// network, so it always either returns immediately or errors.
func (p *FileProvider) Refresh(ctx context.Context) (*clustermap.Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cberrors.Wrap("confmon.file.read", err)
	}
	cfg, err := parseWireConfig(data, "file", "", clustermap.NowNano())
	if err != nil {
		return nil, err
	}
	p.setCached(cfg)
	return cfg, nil
}

// ConfigUpdated records cfg like every provider and, unless cfg was read
// from this file, persists it so the cache tracks the latest accepted config.
func (p *FileProvider) ConfigUpdated(cfg *clustermap.Config) {
	p.baseProvider.ConfigUpdated(cfg)
	if cfg == nil || cfg.Origin == "file" {
		return
	}
	raw, err := MarshalForCache(cfg)
	if err != nil {
		return
	}
	_ = p.Persist(raw)
}

// Persist writes cfg's originating wire document to disk atomically.
// FileProvider.ConfigUpdated calls it for every config the monitor accepts
// from a *non-file* source, so the cache always reflects the most recent
// cluster-sourced config rather than a stale bootstrap snapshot.
func (p *FileProvider) Persist(raw []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dir := filepath.Dir(p.Path)
	tmp, err := os.CreateTemp(dir, ".lcbconfig-*.tmp")
	if err != nil {
		return cberrors.Wrap("confmon.file.persist", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return cberrors.Wrap("confmon.file.persist", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return cberrors.Wrap("confmon.file.persist", err)
	}
	if err := os.Rename(tmpName, p.Path); err != nil {
		os.Remove(tmpName)
		return cberrors.Wrap("confmon.file.persist", err)
	}
	return nil
}

// MarshalForCache re-serializes a Config back into the minimal wire shape
// FileProvider.Persist expects, for callers that only have the parsed
// Config (not the original raw bytes) at hand.
func MarshalForCache(cfg *clustermap.Config) ([]byte, error) {
	w := wireConfig{Rev: cfg.Rev, RevEpoch: cfg.RevEpoch}
	for _, n := range cfg.Nodes {
		var ext struct {
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
		}
		ext.Hostname = n.Hostname
		ext.Services.KV = n.KVPort
		ext.Services.Mgmt = n.MgmtPort
		ext.Services.Capi = n.ViewsPort
		ext.Services.N1QL = n.N1QLPort
		ext.Services.FTS = n.SearchPort
		w.NodesExt = append(w.NodesExt, ext)
	}
	if cfg.Dist == clustermap.DistVBucket {
		w.VBucketServerMap = &struct {
			HashAlgorithm string   `json:"hashAlgorithm"`
			NumReplicas   int      `json:"numReplicas"`
			ServerList    []string `json:"serverList"`
			VBucketMap    [][]int  `json:"vBucketMap"`
		}{NumReplicas: cfg.NumReplicas, VBucketMap: cfg.VBucketMap}
	}
	return json.Marshal(w)
}
