// Package clustermap implements ConfigInfo: the parsed cluster topology
// (vBucket map or ketama ring), its comparison rule, and the vbucket diff
// used by the config monitor to decide whether a freshly fetched config is
// actually new (spec.md §3, §4.5).
package clustermap

import (
	"crypto/md5"
	"encoding/binary"
	"sort"
	"sync/atomic"
	"time"
)

// DistMode selects how keys are mapped to nodes.
type DistMode int

const (
	DistVBucket DistMode = iota
	DistKetama
)

// NodeInfo describes one cluster node as carried in a config document.
type NodeInfo struct {
	Hostname   string
	KVPort     int
	MgmtPort   int
	ViewsPort  int
	N1QLPort   int
	SearchPort int
}

// Config is spec.md's ConfigInfo: immutable after publish, refcounted by
// monitor/providers/command-queue, compared by (RevEpoch, Rev) falling back
// to CompareClock. RevEpoch is recovered from
// _examples/original_source/deps/lcb/src/bucketconfig/clconfig.h, which the
// distilled spec.md compresses into a single "revision id".
type Config struct {
	Rev      int64
	RevEpoch int64
	Origin   string // provider tag: "cccp", "http", "file", "mcraw"

	Nodes      []NodeInfo
	VBucketMap [][]int // [vbucket][replica] -> node index, -1 = none
	NumReplicas int
	Dist       DistMode
	Ketama     *KetamaRing

	CompareClock int64 // monotonic timestamp attached at parse time

	refs int32
}

// NewConfig builds a Config and stamps its CompareClock. nowNano is
// injected so callers (and tests) control the monotonic source instead of
// relying on time.Now() directly inside this package.
func NewConfig(nowNano int64) *Config {
	return &Config{CompareClock: nowNano, refs: 1}
}

// Ref increments the refcount.
func (c *Config) Ref() { atomic.AddInt32(&c.refs, 1) }

// Unref decrements the refcount; callers must not use c after it reaches 0.
func (c *Config) Unref() int32 { return atomic.AddInt32(&c.refs, -1) }

// NewerThan implements spec.md §4.5's comparison rule: if both carry a
// revision, compare (RevEpoch, Rev); otherwise fall back to CompareClock.
func (c *Config) NewerThan(other *Config) bool {
	if other == nil {
		return true
	}
	if c.Rev != 0 && other.Rev != 0 {
		if c.RevEpoch != other.RevEpoch {
			return c.RevEpoch > other.RevEpoch
		}
		return c.Rev > other.Rev
	}
	return c.CompareClock > other.CompareClock
}

// VBucketForKey hashes key via CRC32 (libvbucket's function) modulo the
// vbucket count.
func VBucketForKey(key []byte, numVbuckets int) int {
	if numVbuckets == 0 {
		return -1
	}
	h := crc32Hash(key)
	return int(h) % numVbuckets
}

// NodeForVBucket returns the node index responsible for vbucket at the
// given replica depth (0 = master), or -1 if unmapped.
func (c *Config) NodeForVBucket(vb, replica int) int {
	if vb < 0 || vb >= len(c.VBucketMap) {
		return -1
	}
	row := c.VBucketMap[vb]
	if replica < 0 || replica >= len(row) {
		return -1
	}
	return row[replica]
}

// ServerListEqual reports whether two configs have the identical ordered
// node list, used by confmon to decide "no server changes" (spec.md §4.5).
func ServerListEqual(a, b *Config) bool {
	if len(a.Nodes) != len(b.Nodes) {
		return false
	}
	for i := range a.Nodes {
		if a.Nodes[i].Hostname != b.Nodes[i].Hostname || a.Nodes[i].KVPort != b.Nodes[i].KVPort {
			return false
		}
	}
	return true
}

// KetamaRing is the consistent-hash ring used by memcached-bucket
// (non-vbucket) distribution (spec.md glossary: "Ketama").
type KetamaRing struct {
	points []ketamaPoint
}

type ketamaPoint struct {
	hash uint32
	idx  int
}

// BuildKetamaRing constructs a ring with 160 points per node (the standard
// libmemcached/ketama density), using MD5 the way the canonical algorithm
// does.
func BuildKetamaRing(nodes []NodeInfo) *KetamaRing {
	r := &KetamaRing{}
	for idx, n := range nodes {
		for i := 0; i < 40; i++ {
			key := n.Hostname + "-" + itoa(i)
			sum := md5.Sum([]byte(key))
			for j := 0; j < 4; j++ {
				h := binary.LittleEndian.Uint32(sum[j*4 : j*4+4])
				r.points = append(r.points, ketamaPoint{hash: h, idx: idx})
			}
		}
	}
	sort.Slice(r.points, func(i, j int) bool { return r.points[i].hash < r.points[j].hash })
	return r
}

// Lookup returns the node index owning key's position on the ring,
// wrapping to the first point past the maximum hash (spec.md §4.6).
func (r *KetamaRing) Lookup(key []byte) int {
	if len(r.points) == 0 {
		return -1
	}
	h := crc32Hash(key)
	i := sort.Search(len(r.points), func(i int) bool { return r.points[i].hash >= h })
	if i == len(r.points) {
		i = 0
	}
	return r.points[i].idx
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// NowNano is a tiny seam so callers needn't import "time" just to stamp a
// Config's CompareClock.
func NowNano() int64 { return time.Now().UnixNano() }
