package instance

import (
	"fmt"

	cberrors "github.com/couchbase/lcbgo/internal/errors"
)

// plainSASL implements pipeline.SASLProvider for the PLAIN mechanism —
// spec.md §4.3's simplest negotiation path, and the one scenario 5
// exercises directly (refusing PLAIN over a connection that hasn't
// negotiated TLS, enforced by the caller, not by this provider).
type plainSASL struct {
	authzID, user, pass string
}

func newPlainSASL(user, pass string) *plainSASL {
	return &plainSASL{user: user, pass: pass}
}

func (p *plainSASL) Mechanisms() []string { return []string{"PLAIN"} }

func (p *plainSASL) Start(mechanism string) ([]byte, error) {
	if mechanism != "PLAIN" {
		return nil, cberrors.ErrSASLMechUnavail
	}
	return []byte(fmt.Sprintf("%s\x00%s\x00%s", p.authzID, p.user, p.pass)), nil
}

func (p *plainSASL) Step(challenge []byte) ([]byte, bool, error) {
	// PLAIN is a single round trip; any further challenge is unexpected.
	return nil, true, nil
}

func (p *plainSASL) VerifyFinal(serverFinal []byte) error { return nil }
