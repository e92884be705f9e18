package config

import (
	"context"
	"net"
	"strings"
	"time"

	cberrors "github.com/couchbase/lcbgo/internal/errors"
)

// expandSRV resolves spec.md §6's couchbase+explicit_srv /
// couchbases+explicit_srv schemes: the connection string's only host is
// actually a domain carrying a DNS SRV record (_couchbase._tcp.<domain> or
// _couchbases._tcp.<domain>) that enumerates the real bootstrap nodes.
func expandSRV(scheme string, hosts []HostSpec) ([]HostSpec, error) {
	if len(hosts) != 1 {
		return nil, cberrors.New(cberrors.CodeUsage, "config.srv", "couchbase+explicit_srv requires exactly one host", nil)
	}
	service := "couchbase"
	if strings.HasPrefix(scheme, "couchbases") {
		service = "couchbases"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, records, err := net.DefaultResolver.LookupSRV(ctx, service, "tcp", hosts[0].Host)
	if err != nil {
		return nil, cberrors.Wrap("config.srv", err)
	}
	out := make([]HostSpec, 0, len(records))
	for _, r := range records {
		out = append(out, HostSpec{Host: strings.TrimSuffix(r.Target, "."), Port: int(r.Port)})
	}
	return out, nil
}
