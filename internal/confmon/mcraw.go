package confmon

import (
	"context"
	"fmt"
	"io"

	"github.com/couchbase/lcbgo/internal/clustermap"
)

// MCRAWProvider (aka ClusterAdmin/static in spec.md §4.4) synthesizes a
// single-revision Config directly from a user-supplied node list, for
// "memcached bucket, no config service" deployments and for tests. It never
// performs network I/O of its own; Refresh just hands back the synthesized
// config once, and nil thereafter so it never wins a later cycle over a
// config a real provider has since produced.
type MCRAWProvider struct {
	baseProvider

	served bool
}

func NewMCRAWProvider(nodes []clustermap.NodeInfo, numVbuckets int, dist clustermap.DistMode) *MCRAWProvider {
	p := &MCRAWProvider{}
	p.ConfigureNodes(nodes)

	cfg := clustermap.NewConfig(clustermap.NowNano())
	cfg.Origin = "mcraw"
	cfg.Nodes = nodes
	cfg.Dist = dist
	if dist == clustermap.DistKetama {
		cfg.Ketama = clustermap.BuildKetamaRing(nodes)
	} else {
		cfg.VBucketMap = make([][]int, numVbuckets)
		for i := range cfg.VBucketMap {
			cfg.VBucketMap[i] = []int{i % len(nodes)}
		}
	}
	p.setCached(cfg)
	return p
}

func (p *MCRAWProvider) Name() string { return "mcraw" }

func (p *MCRAWProvider) Shutdown() {}

func (p *MCRAWProvider) Dump(w io.Writer) {
	fmt.Fprintf(w, "mcraw provider: nodes=%d\n", len(p.GetNodes()))
}

func (p *MCRAWProvider) Refresh(ctx context.Context) (*clustermap.Config, error) {
	if p.served {
		return nil, nil
	}
	p.served = true
	return p.GetCached(), nil
}
