package memd

// Opcode is a memcached binary protocol command code (spec.md §6).
type Opcode uint8

const (
	OpGet            Opcode = 0x00
	OpSet            Opcode = 0x01
	OpAdd            Opcode = 0x02
	OpReplace        Opcode = 0x03
	OpDelete         Opcode = 0x04
	OpIncrement      Opcode = 0x05
	OpDecrement      Opcode = 0x06
	OpFlush          Opcode = 0x08
	OpGetQ           Opcode = 0x09
	OpNoop           Opcode = 0x0a
	OpVersion        Opcode = 0x0b
	OpGetK           Opcode = 0x0c
	OpGetKQ          Opcode = 0x0d
	OpStat           Opcode = 0x10
	OpVerbosity      Opcode = 0x1b
	OpTouch          Opcode = 0x1c
	OpGAT            Opcode = 0x1d
	OpGATQ           Opcode = 0x1e
	OpHello          Opcode = 0x1f
	OpSASLListMechs  Opcode = 0x20
	OpSASLAuth       Opcode = 0x21
	OpSASLStep       Opcode = 0x22
	OpObserve        Opcode = 0x92
	OpGetReplica     Opcode = 0x83
	OpSelectBucket   Opcode = 0x89
	OpUnlockKey      Opcode = 0x95
	OpGetLocked      Opcode = 0x94
	OpGetClusterCfg  Opcode = 0xb5
	OpGetErrorMap    Opcode = 0xfe
)

func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return "OP_UNKNOWN"
}

var opcodeNames = map[Opcode]string{
	OpGet:           "GET",
	OpSet:           "SET",
	OpAdd:           "ADD",
	OpReplace:       "REPLACE",
	OpDelete:        "DELETE",
	OpIncrement:     "INCREMENT",
	OpDecrement:     "DECREMENT",
	OpFlush:         "FLUSH",
	OpGetQ:          "GETQ",
	OpNoop:          "NOOP",
	OpVersion:       "VERSION",
	OpGetK:          "GETK",
	OpGetKQ:         "GETKQ",
	OpStat:          "STAT",
	OpVerbosity:     "VERBOSITY",
	OpTouch:         "TOUCH",
	OpGAT:           "GAT",
	OpGATQ:          "GATQ",
	OpHello:         "HELLO",
	OpSASLListMechs: "SASL_LIST_MECHS",
	OpSASLAuth:      "SASL_AUTH",
	OpSASLStep:      "SASL_STEP",
	OpObserve:       "OBSERVE",
	OpGetReplica:    "GET_REPLICA",
	OpSelectBucket:  "SELECT_BUCKET",
	OpUnlockKey:     "UNLOCK_KEY",
	OpGetLocked:     "GET_LOCKED",
	OpGetClusterCfg: "GET_CLUSTER_CONFIG",
	OpGetErrorMap:   "GET_ERROR_MAP",
}

// IsQuiet reports whether the opcode is a "quiet" variant that suppresses
// a response on success (GETQ, GETKQ, GATQ and friends).
func (o Opcode) IsQuiet() bool {
	switch o {
	case OpGetQ, OpGetKQ, OpGATQ:
		return true
	default:
		return false
	}
}

// Status is a memcached binary protocol response status (spec.md §6).
type Status uint16

const (
	StatusSuccess          Status = 0x00
	StatusKeyEnoent        Status = 0x01
	StatusKeyEexists       Status = 0x02
	StatusE2big            Status = 0x03
	StatusEinval           Status = 0x04
	StatusNotStored        Status = 0x05
	StatusDeltaBadval      Status = 0x06
	StatusNotMyVbucket     Status = 0x07
	StatusUnknownCollection Status = 0x88
	StatusAuthError        Status = 0x20
	StatusAuthContinue     Status = 0x21
	StatusErange           Status = 0x22
	StatusRollback         Status = 0x23
	StatusUnknownCommand   Status = 0x81
	StatusEnomem           Status = 0x82
	StatusNotSupported     Status = 0x83
	StatusEinternal        Status = 0x84
	StatusEbusy            Status = 0x85
	StatusEtmpfail         Status = 0x86
	StatusRateLimited      Status = 0xa0
	StatusQuotaLimited     Status = 0xa1
)

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "STATUS_UNKNOWN"
}

var statusNames = map[Status]string{
	StatusSuccess:           "SUCCESS",
	StatusKeyEnoent:         "KEY_ENOENT",
	StatusKeyEexists:        "KEY_EEXISTS",
	StatusE2big:             "E2BIG",
	StatusEinval:            "EINVAL",
	StatusNotStored:         "NOT_STORED",
	StatusDeltaBadval:       "DELTA_BADVAL",
	StatusNotMyVbucket:      "NOT_MY_VBUCKET",
	StatusUnknownCollection: "UNKNOWN_COLLECTION",
	StatusAuthError:         "AUTH_ERROR",
	StatusAuthContinue:      "AUTH_CONTINUE",
	StatusErange:            "ERANGE",
	StatusRollback:          "ROLLBACK",
	StatusUnknownCommand:    "UNKNOWN_COMMAND",
	StatusEnomem:            "ENOMEM",
	StatusNotSupported:      "NOT_SUPPORTED",
	StatusEinternal:         "EINTERNAL",
	StatusEbusy:             "EBUSY",
	StatusEtmpfail:          "ETMPFAIL",
	StatusRateLimited:       "RATE_LIMITED",
	StatusQuotaLimited:      "QUOTA_LIMITED",
}

// HelloFeature is a HELLO-negotiable optional feature id (spec.md §4.3).
type HelloFeature uint16

const (
	FeatureTLS                  HelloFeature = 0x02
	FeatureTCPNoDelay           HelloFeature = 0x03
	FeatureMutationSeqno        HelloFeature = 0x04
	FeatureTCPDelay             HelloFeature = 0x05
	FeatureXattr                HelloFeature = 0x06
	FeatureXerror               HelloFeature = 0x07
	FeatureSelectBucket         HelloFeature = 0x08
	FeatureSnappy               HelloFeature = 0x0a
	FeatureJSON                 HelloFeature = 0x0b
	FeatureTracing              HelloFeature = 0x0f
	FeatureAltRequestSupport    HelloFeature = 0x10
	FeatureSyncReplication      HelloFeature = 0x11
	FeatureCollections          HelloFeature = 0x12
	FeatureUnorderedExecution   HelloFeature = 0x0e
	FeatureCreateAsDeleted      HelloFeature = 0x17
	FeaturePreserveTTL          HelloFeature = 0x18
)
