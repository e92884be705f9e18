package clustermap

import "hash/crc32"

// crc32Hash is the key-hashing primitive backing both vbucket assignment
// and ketama ring lookups (spec.md §4.6). libcouchbase uses a CRC32 over
// the raw key bytes; this is the same table-driven CRC32 (IEEE polynomial)
// the protocol's reference clients use.
func crc32Hash(key []byte) uint32 {
	return crc32.ChecksumIEEE(key)
}
