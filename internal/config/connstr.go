package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	cberrors "github.com/couchbase/lcbgo/internal/errors"
)

// ConnectionSpec is the raw parse of spec.md §6's connection-string
// grammar, before defaults/env overrides are layered on: `scheme://host[:port][,host[:port]]*[/bucket]?opt=val&opt=val`.
type ConnectionSpec struct {
	Scheme  string
	Hosts   []HostSpec
	Bucket  string
	Options map[string]string
}

// defaultPorts maps scheme -> (kvPort, httpPort), per spec.md §6.
var defaultPorts = map[string][2]int{
	"couchbase":               {11210, 8091},
	"couchbases":              {11207, 18091},
	"http":                    {11210, 8091},
	"couchbase+explicit_srv":  {11210, 8091},
	"couchbases+explicit_srv": {11207, 18091},
}

// ParseConnectionString parses a connection string into a ConnectionSpec.
// DNS-SRV expansion (couchbase+explicit_srv://) is handled by the caller
// (Load, via expandSRV in srv.go), not by this parser: it is
// recorded here only as a recognised scheme so the host list is treated as
// "one SRV name to resolve" rather than "a literal host list".
func ParseConnectionString(raw string) (*ConnectionSpec, error) {
	if raw == "" {
		return nil, cberrors.New(cberrors.CodeUsage, "config.connstr", "empty connection string", nil)
	}

	schemeSep := strings.Index(raw, "://")
	if schemeSep < 0 {
		return nil, cberrors.New(cberrors.CodeUsage, "config.connstr", "missing scheme", nil)
	}
	scheme := raw[:schemeSep]
	ports, ok := defaultPorts[scheme]
	if !ok {
		return nil, cberrors.New(cberrors.CodeUsage, "config.connstr", fmt.Sprintf("unrecognised scheme %q", scheme), nil)
	}
	rest := raw[schemeSep+3:]

	hostPart := rest
	bucket := ""
	query := ""
	if qi := strings.IndexByte(rest, '?'); qi >= 0 {
		hostPart = rest[:qi]
		query = rest[qi+1:]
	}
	if si := strings.IndexByte(hostPart, '/'); si >= 0 {
		bucket = hostPart[si+1:]
		hostPart = hostPart[:si]
	}
	if hostPart == "" {
		return nil, cberrors.New(cberrors.CodeUsage, "config.connstr", "no hosts given", nil)
	}

	var hosts []HostSpec
	for _, h := range strings.Split(hostPart, ",") {
		hs, err := parseHostSpec(h, ports)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, hs)
	}

	options := map[string]string{}
	if query != "" {
		values, err := url.ParseQuery(query)
		if err != nil {
			return nil, cberrors.New(cberrors.CodeUsage, "config.connstr", "malformed option string", err)
		}
		for k, vs := range values {
			if len(vs) > 0 {
				options[k] = vs[len(vs)-1]
			}
		}
	}

	return &ConnectionSpec{
		Scheme:  scheme,
		Hosts:   hosts,
		Bucket:  bucket,
		Options: options,
	}, nil
}

// parseHostSpec parses one "host[:port][:p=N]" entry. A bare host uses the
// scheme's default KV port and is eligible for both CCCP and HTTP
// bootstrap; a ":p=N" suffix marks the host HTTP-only on port N, matching
// spec.md §6's "per-host suffixes mark a host as HTTP-only or CCCP-only".
func parseHostSpec(h string, ports [2]int) (HostSpec, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return HostSpec{}, cberrors.New(cberrors.CodeUsage, "config.connstr", "empty host entry", nil)
	}

	hs := HostSpec{Host: h, Port: ports[0]}

	if pi := strings.Index(h, ":p="); pi >= 0 {
		portStr := h[pi+3:]
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return HostSpec{}, cberrors.New(cberrors.CodeUsage, "config.connstr", fmt.Sprintf("invalid :p= port %q", portStr), err)
		}
		hs.Host = h[:pi]
		hs.Port = port
		hs.HTTPOnly = true
		return hs, nil
	}

	if ci := strings.LastIndex(h, ":"); ci >= 0 {
		portStr := h[ci+1:]
		if port, err := strconv.Atoi(portStr); err == nil {
			hs.Host = h[:ci]
			hs.Port = port
			return hs, nil
		}
	}

	return hs, nil
}
