package instance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	cberrors "github.com/couchbase/lcbgo/internal/errors"

	"github.com/couchbase/lcbgo/internal/config"
	"github.com/couchbase/lcbgo/internal/memd"
)

func TestStateString(t *testing.T) {
	require.Equal(t, "CREATED", StateCreated.String())
	require.Equal(t, "BUCKET_OPEN", StateBucketOpen.String())
	require.Equal(t, "UNKNOWN", State(99).String())
}

func TestInstanceTransition(t *testing.T) {
	inst := &Instance{}
	inst.state.Store(int32(StateCreated))

	require.True(t, inst.transition(StateCreated, StateConnecting))
	require.Equal(t, StateConnecting, inst.State())

	require.False(t, inst.transition(StateCreated, StateConnecting))
}

func TestPendingOpsBeginEnd(t *testing.T) {
	var p PendingOps
	require.Equal(t, int64(0), p.Total())

	end := p.Begin(CategoryDurability)
	require.Equal(t, int64(1), p.Total())

	end()
	require.Equal(t, int64(0), p.Total())

	// End is idempotent.
	end()
	require.Equal(t, int64(0), p.Total())
}

func TestPendingOpsCounts(t *testing.T) {
	var p PendingOps
	endTimer := p.Begin(CategoryTimer)
	endHTTP := p.Begin(CategoryHTTP)
	defer endTimer()
	defer endHTTP()

	timer, http, durability, counter := p.Counts()
	require.Equal(t, int64(1), timer)
	require.Equal(t, int64(1), http)
	require.Equal(t, int64(0), durability)
	require.Equal(t, int64(0), counter)
}

func TestCryptoRegistryRegisterGet(t *testing.T) {
	r := newCryptoRegistry()
	_, ok := r.Get("missing")
	require.False(t, ok)

	p := &fakeCryptoProvider{alias: "field1"}
	r.Register(p)

	got, ok := r.Get("field1")
	require.True(t, ok)
	require.Same(t, p, got)
}

type fakeCryptoProvider struct{ alias string }

func (f *fakeCryptoProvider) Alias() string { return f.alias }
func (f *fakeCryptoProvider) Encrypt(p []byte) ([]byte, error) { return append([]byte("enc:"), p...), nil }
func (f *fakeCryptoProvider) Decrypt(c []byte) ([]byte, error) { return c[4:], nil }

func TestInstanceEncryptDecryptNoCryptoProvider(t *testing.T) {
	inst := &Instance{crypto: newCryptoRegistry()}
	_, err := inst.Encrypt("missing", []byte("x"))
	require.ErrorIs(t, err, errNoCryptoProvider)
}

func TestInstanceEncryptDecryptRoundTrip(t *testing.T) {
	inst := &Instance{crypto: newCryptoRegistry()}
	inst.crypto.Register(&fakeCryptoProvider{alias: "field1"})

	ct, err := inst.Encrypt("field1", []byte("secret"))
	require.NoError(t, err)

	pt, err := inst.Decrypt("field1", ct)
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), pt)
}

func TestStatusErrMapping(t *testing.T) {
	require.NoError(t, statusErr(memd.StatusSuccess))
	require.ErrorIs(t, statusErr(memd.StatusKeyEnoent), cberrors.ErrKeyNotFound)
	require.ErrorIs(t, statusErr(memd.StatusNotMyVbucket), cberrors.ErrNotMyVbucket)
	require.ErrorIs(t, statusErr(memd.StatusRateLimited), cberrors.ErrRateLimited)
}

func TestIsThrottleStatus(t *testing.T) {
	require.True(t, isThrottleStatus(memd.StatusRateLimited))
	require.True(t, isThrottleStatus(memd.StatusQuotaLimited))
	require.False(t, isThrottleStatus(memd.StatusSuccess))
	require.False(t, isThrottleStatus(memd.StatusKeyEnoent))
}

func TestPlainSASLStart(t *testing.T) {
	p := newPlainSASL("user1", "pass1")
	require.Equal(t, []string{"PLAIN"}, p.Mechanisms())

	out, err := p.Start("PLAIN")
	require.NoError(t, err)
	require.Equal(t, "\x00user1\x00pass1", string(out))

	_, err = p.Start("SCRAM-SHA1")
	require.Error(t, err)
}

func TestHelloFeaturesBaseline(t *testing.T) {
	inst := &Instance{settings: &config.Settings{}}
	f := inst.helloFeatures()

	require.Contains(t, f, memd.FeatureXerror)
	require.Contains(t, f, memd.FeatureSelectBucket)
	require.Contains(t, f, memd.FeatureJSON)
	require.NotContains(t, f, memd.FeatureTLS)
	require.NotContains(t, f, memd.FeatureCollections)
}

func TestHelloFeaturesOptIns(t *testing.T) {
	inst := &Instance{settings: &config.Settings{
		EnableCollections:        true,
		EnableMutationTokens:     true,
		EnableDurableWrite:       true,
		EnableUnorderedExecution: true,
		EnableTracing:            true,
		TCPNoDelay:               true,
		TLS:                      config.TLSConfig{Enabled: true},
	}}
	f := inst.helloFeatures()

	require.Contains(t, f, memd.FeatureTLS)
	require.Contains(t, f, memd.FeatureCollections)
	require.Contains(t, f, memd.FeatureMutationSeqno)
	require.Contains(t, f, memd.FeatureSyncReplication)
	require.Contains(t, f, memd.FeatureUnorderedExecution)
	require.Contains(t, f, memd.FeatureTracing)
	require.Contains(t, f, memd.FeatureTCPNoDelay)
}

func TestBucketNameReflectsOpen(t *testing.T) {
	inst := &Instance{bucket: "default"}
	require.Equal(t, "default", inst.bucketName())
}

func TestEngageThrottleCreatesThenTightens(t *testing.T) {
	inst := &Instance{}
	require.Nil(t, inst.currentLimiter())

	inst.engageThrottle()
	first := inst.currentLimiter().Limit()
	require.Equal(t, float64(200), float64(first))

	inst.engageThrottle()
	second := inst.currentLimiter().Limit()
	require.Less(t, float64(second), float64(first))
}

func TestExtrasEncodingHelpers(t *testing.T) {
	buf := extrasFlagsExpiry(0xdeadbeef, 60)
	require.Len(t, buf, 8)

	buf2 := extrasExpiry(120)
	require.Len(t, buf2, 4)

	buf3 := extrasDelta(1, 0, 0)
	require.Len(t, buf3, 20)
}

func TestDispatchKVRejectsWhenNotConnected(t *testing.T) {
	inst := &Instance{settings: &config.Settings{}}
	inst.state.Store(int32(StateCreated))

	_, err := inst.dispatchKV(context.Background(), &memd.Packet{Opcode: memd.OpGet}, 0)
	require.Error(t, err)
}
