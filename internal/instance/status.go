package instance

import (
	cberrors "github.com/couchbase/lcbgo/internal/errors"
	"github.com/couchbase/lcbgo/internal/memd"
)

// statusErr maps a memcached binary protocol response status to the
// client's error taxonomy (spec.md §7's per-status mapping table).
func statusErr(s memd.Status) error {
	switch s {
	case memd.StatusSuccess:
		return nil
	case memd.StatusKeyEnoent:
		return cberrors.ErrKeyNotFound
	case memd.StatusKeyEexists:
		return cberrors.ErrKeyExists
	case memd.StatusE2big:
		return cberrors.ErrTooBig
	case memd.StatusEinval:
		return cberrors.ErrInvalidArg
	case memd.StatusNotStored:
		return cberrors.ErrNotStored
	case memd.StatusDeltaBadval:
		return cberrors.ErrDeltaBadval
	case memd.StatusNotMyVbucket:
		return cberrors.ErrNotMyVbucket
	case memd.StatusAuthError:
		return cberrors.ErrAuthFailed
	case memd.StatusRateLimited:
		return cberrors.ErrRateLimited
	case memd.StatusQuotaLimited:
		return cberrors.ErrQuotaLimited
	case memd.StatusUnknownCommand, memd.StatusNotSupported:
		return cberrors.New(cberrors.CodeUsage, "kv", "command not supported by server", nil)
	case memd.StatusEnomem, memd.StatusEbusy, memd.StatusEtmpfail:
		return cberrors.New(cberrors.CodeNetwork, "kv", "server temporarily unable to serve request", nil)
	default:
		return cberrors.New(cberrors.CodeInternal, "kv", "unexpected server status", nil)
	}
}

// isThrottleStatus reports whether s is one of the throttling codes
// instance uses to engage its own client-side rate.Limiter.
func isThrottleStatus(s memd.Status) bool {
	return s == memd.StatusRateLimited || s == memd.StatusQuotaLimited
}
