package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"

	cberrors "github.com/couchbase/lcbgo/internal/errors"
	"github.com/couchbase/lcbgo/internal/memd"
)

// SessionInfo is the negotiated feature set + mechanism + bucket
// association attached to a pooled connection (spec.md §4.3, glossary).
type SessionInfo struct {
	Mechanism string
	Features  map[memd.HelloFeature]bool
	Bucket    string
}

func (s *SessionInfo) HasFeature(f memd.HelloFeature) bool {
	return s != nil && s.Features[f]
}

// SASLProvider is the pluggable SASL mechanism primitive spec.md §1 treats
// as an external collaborator. Step returns the next client blob to send,
// and done=true once no further SASL_STEP is required.
type SASLProvider interface {
	// Mechanisms advertises which SASL mechanism names this provider can
	// perform, in preference order.
	Mechanisms() []string
	// Start begins auth for the given mechanism, returning the initial
	// client response.
	Start(mechanism string) (resp []byte, err error)
	// Step continues a multi-round exchange (e.g. SCRAM) given the
	// server's challenge, returning the next client response.
	Step(challenge []byte) (resp []byte, done bool, err error)
	// VerifyFinal checks the server's final signature, relevant to SCRAM
	// mechanisms (spec.md §4.3 step 5).
	VerifyFinal(serverFinal []byte) error
}

// NegotiateOptions configures a single session-negotiation dialog.
type NegotiateOptions struct {
	AgentJSON         []byte
	RequestedFeatures []memd.HelloFeature
	EnableErrorMap    bool
	TLSEnabled        bool
	TLSClientCert     bool
	ForcedMechanism   string
	AllowPlainOnClear bool
	Bucket            string
	SASL              SASLProvider
	NextOpaque        func() uint32
}

// frame is a tiny synchronous request/response helper used only during
// negotiation, before the pipeline's async read loop takes over.
type frame struct {
	r *bufio.Reader
	w net.Conn
}

func (f *frame) roundTrip(p *memd.Packet) (*memd.Packet, error) {
	if _, err := f.w.Write(p.Encode()); err != nil {
		return nil, cberrors.Wrap("negotiate.write", err)
	}
	hdrBuf := make([]byte, memd.HeaderSize)
	if _, err := io.ReadFull(f.r, hdrBuf); err != nil {
		return nil, cberrors.Wrap("negotiate.read_header", err)
	}
	h, err := memd.DecodeHeader(hdrBuf)
	if err != nil {
		return nil, cberrors.New(cberrors.CodeProtocol, "negotiate.decode_header", "", err)
	}
	body := make([]byte, h.BodyLen)
	if h.BodyLen > 0 {
		if _, err := io.ReadFull(f.r, body); err != nil {
			return nil, cberrors.Wrap("negotiate.read_body", err)
		}
	}
	return memd.FromResponse(h, body)
}

// Negotiate runs the session-negotiation dialog described in spec.md §4.3
// over a freshly connected, not-yet-pooled socket. br must be the reader the
// caller will keep using for all subsequent traffic on conn: negotiation may
// buffer ahead of the frames it actually consumes, so the pipeline's read
// loop has to read through the same bufio.Reader rather than conn directly,
// or it would lose whatever Negotiate over-read.
func Negotiate(ctx context.Context, conn net.Conn, br *bufio.Reader, opts NegotiateOptions) (*SessionInfo, error) {
	fr := &frame{r: br, w: conn}
	info := &SessionInfo{Features: make(map[memd.HelloFeature]bool)}

	// 1. HELLO
	if err := helloStep(fr, opts, info); err != nil {
		return nil, err
	}

	// 2. GET_ERROR_MAP
	if opts.EnableErrorMap {
		errorMapStep(fr, opts)
	}

	// 3/4/5. SASL, unless TLS client-cert auth is in use.
	if !opts.TLSClientCert && opts.SASL != nil {
		if err := saslStep(fr, opts); err != nil {
			return nil, err
		}
	}

	// 6. SELECT_BUCKET
	if opts.Bucket != "" && info.HasFeature(memd.FeatureSelectBucket) {
		if err := selectBucketStep(fr, opts, info); err != nil {
			return nil, err
		}
		info.Bucket = opts.Bucket
	}

	return info, nil
}

func helloStep(fr *frame, opts NegotiateOptions, info *SessionInfo) error {
	extras := make([]byte, 0, len(opts.RequestedFeatures)*2)
	for _, f := range opts.RequestedFeatures {
		extras = append(extras, byte(f>>8), byte(f))
	}
	req := &memd.Packet{Opcode: memd.OpHello, Key: opts.AgentJSON, Value: extras, Opaque: nextOpaque(opts)}
	resp, err := fr.roundTrip(req)
	if err != nil {
		return err
	}
	switch resp.Status {
	case memd.StatusSuccess:
		for i := 0; i+1 < len(resp.Value); i += 2 {
			f := memd.HelloFeature(uint16(resp.Value[i])<<8 | uint16(resp.Value[i+1]))
			info.Features[f] = true
		}
	case memd.StatusNotSupported, memd.StatusUnknownCommand:
		// HELLO unsupported: feature set stays empty, not fatal.
	default:
		return cberrors.New(cberrors.CodeProtocol, "negotiate.hello", fmt.Sprintf("unexpected status %s", resp.Status), nil)
	}
	return nil
}

func errorMapStep(fr *frame, opts NegotiateOptions) {
	version := []byte{0, 1}
	req := &memd.Packet{Opcode: memd.OpGetErrorMap, Value: version, Opaque: nextOpaque(opts)}
	resp, err := fr.roundTrip(req)
	if err != nil {
		return
	}
	switch resp.Status {
	case memd.StatusNotSupported, memd.StatusUnknownCommand:
		// Feature simply disabled per spec.md §4.3.
	}
}

func saslStep(fr *frame, opts NegotiateOptions) error {
	var mechs []string
	if !opts.TLSClientCert {
		req := &memd.Packet{Opcode: memd.OpSASLListMechs, Opaque: nextOpaque(opts)}
		resp, err := fr.roundTrip(req)
		if err == nil && resp.Status == memd.StatusSuccess {
			mechs = splitMechs(string(resp.Value))
		}
	}

	mech := chooseMechanism(opts, mechs)
	if mech == "" {
		return cberrors.ErrSASLMechUnavail
	}

	clientResp, err := opts.SASL.Start(mech)
	if err != nil {
		return err
	}
	req := &memd.Packet{Opcode: memd.OpSASLAuth, Key: []byte(mech), Value: clientResp, Opaque: nextOpaque(opts)}
	resp, err := fr.roundTrip(req)
	if err != nil {
		return err
	}
	for resp.Status == memd.StatusAuthContinue {
		nextResp, done, serr := opts.SASL.Step(resp.Value)
		if serr != nil {
			return serr
		}
		if done {
			break
		}
		req = &memd.Packet{Opcode: memd.OpSASLStep, Key: []byte(mech), Value: nextResp, Opaque: nextOpaque(opts)}
		resp, err = fr.roundTrip(req)
		if err != nil {
			return err
		}
	}
	switch resp.Status {
	case memd.StatusSuccess:
		return opts.SASL.VerifyFinal(resp.Value)
	case memd.StatusAuthError, memd.StatusKeyEnoent:
		return cberrors.ErrAuthFailed
	default:
		return cberrors.New(cberrors.CodeAuth, "negotiate.sasl", fmt.Sprintf("unexpected status %s", resp.Status), nil)
	}
}

func selectBucketStep(fr *frame, opts NegotiateOptions, info *SessionInfo) error {
	req := &memd.Packet{Opcode: memd.OpSelectBucket, Key: []byte(opts.Bucket), Opaque: nextOpaque(opts)}
	resp, err := fr.roundTrip(req)
	if err != nil {
		return err
	}
	switch resp.Status {
	case memd.StatusSuccess:
		return nil
	case memd.StatusKeyEnoent:
		return cberrors.ErrBucketNotFound
	case memd.StatusAuthError:
		return cberrors.ErrBucketNotFound
	case memd.StatusRateLimited:
		return cberrors.ErrRateLimited
	case memd.StatusQuotaLimited:
		return cberrors.ErrQuotaLimited
	default:
		return cberrors.New(cberrors.CodeProtocol, "negotiate.select_bucket", fmt.Sprintf("unexpected status %s", resp.Status), nil)
	}
}

// chooseMechanism implements spec.md §4.3 step 4: honour a forced
// mechanism if advertised; otherwise defer to the provider's preference
// order; refuse to downgrade to PLAIN on a non-TLS transport unless the
// user explicitly asked.
func chooseMechanism(opts NegotiateOptions, advertised []string) string {
	if opts.ForcedMechanism != "" {
		if containsStr(advertised, opts.ForcedMechanism) || len(advertised) == 0 {
			return opts.ForcedMechanism
		}
		return ""
	}
	for _, want := range opts.SASL.Mechanisms() {
		if !containsStr(advertised, want) {
			continue
		}
		if want == "PLAIN" && !opts.TLSEnabled && !opts.AllowPlainOnClear {
			continue
		}
		return want
	}
	return ""
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func splitMechs(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ' ' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func nextOpaque(opts NegotiateOptions) uint32 {
	if opts.NextOpaque != nil {
		return opts.NextOpaque()
	}
	return 0
}

// AgentJSON builds the HELLO key payload: a JSON object carrying the client
// string under "a". No connection id is included.
func AgentJSON(clientString string) []byte {
	b, _ := json.Marshal(map[string]string{"a": clientString})
	return b
}
