package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSASL struct{ mechs []string }

func (f fakeSASL) Mechanisms() []string                { return f.mechs }
func (f fakeSASL) Start(string) ([]byte, error)         { return nil, nil }
func (f fakeSASL) Step([]byte) ([]byte, bool, error)    { return nil, true, nil }
func (f fakeSASL) VerifyFinal([]byte) error             { return nil }

func TestChooseMechanismAllowsPlainOverTLS(t *testing.T) {
	opts := NegotiateOptions{TLSEnabled: true, SASL: fakeSASL{mechs: []string{"PLAIN"}}}
	mech := chooseMechanism(opts, []string{"PLAIN"})
	require.Equal(t, "PLAIN", mech, "PLAIN must be usable once the transport is TLS-secured")
}

func TestChooseMechanismRefusesPlainOnClearWithoutOverride(t *testing.T) {
	opts := NegotiateOptions{TLSEnabled: false, SASL: fakeSASL{mechs: []string{"PLAIN"}}}
	mech := chooseMechanism(opts, []string{"PLAIN"})
	require.Empty(t, mech)
}

func TestChooseMechanismAllowsPlainOnClearWithExplicitOverride(t *testing.T) {
	opts := NegotiateOptions{TLSEnabled: false, AllowPlainOnClear: true, SASL: fakeSASL{mechs: []string{"PLAIN"}}}
	mech := chooseMechanism(opts, []string{"PLAIN"})
	require.Equal(t, "PLAIN", mech)
}
