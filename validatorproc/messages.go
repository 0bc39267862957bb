package validatorproc

import (
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/ethereum-mive/coreshell/coretypes"
	"github.com/ethereum-mive/coreshell/params"
)

// magic is the fixed handshake byte string both sides exchange. Its exact
// value is arbitrary -- only equality matters -- but it is versioned so an
// incompatible validator binary fails the handshake instead of misparsing
// frames.
var magic = [8]byte{'c', 'o', 'r', 'e', 's', 'h', 'l', 1}

// Parameters is sent once, right after the handshake.
type Parameters struct {
	ContextRoot                  string
	ProtocolRoot                 string
	SandboxParameters            map[string]string
	Genesis                      params.Genesis
	UserActivatedUpgrades        map[int32]coretypes.ProtocolHash
	UserActivatedProtocolOverrides map[string]string
}

// RequestKind tags a request variant's wire tag byte.
type RequestKind byte

const (
	KindInit RequestKind = iota
	KindValidate
	KindPreapply
	KindPrecheck
	KindCommitGenesis
	KindForkTestChain
	KindReconfigureEventLogging
	KindTerminate
)

// ValidateRequest is the apply_block contract's wire payload.
type ValidateRequest struct {
	ChainID            string
	Predecessor        coretypes.BlockDescriptor
	PredecessorContext coretypes.ContextHash
	MaxOperationsTTL   uint16
	Header             coretypes.BlockHeader
	Operations         [][]coretypes.Operation
}

// PreapplyRequest is preapply_block's wire payload.
type PreapplyRequest struct {
	ChainID     string
	Predecessor coretypes.BlockDescriptor
	Timestamp   int64
	ProtocolData []byte
	Operations  [][]coretypes.Operation
}

// PrecheckRequest is precheck_block's wire payload.
type PrecheckRequest struct {
	ChainID     string
	Predecessor coretypes.BlockDescriptor
	Header      coretypes.BlockHeader
	Operations  [][]coretypes.Operation
}

// CommitGenesisRequest commits the genesis context for a chain.
type CommitGenesisRequest struct {
	ChainID string
}

// ForkTestChainRequest instructs the validator to fork a test chain off the
// given context at forked_header.
type ForkTestChainRequest struct {
	ContextHash  coretypes.ContextHash
	ForkedHeader coretypes.BlockHeader
}

// ReconfigureEventLoggingRequest carries an opaque logging configuration
// blob understood only by the child process.
type ReconfigureEventLoggingRequest struct {
	Config []byte
}

// request is the internal envelope written to the wire: a tag byte plus the
// RLP encoding of the matching per-kind payload above. Go has no GADTs, so
// unlike the original this is checked against the tag at decode time rather
// than by the type system; encode/decode round-trip through typed helpers
// below so callers never touch the raw tag.
type request struct {
	Kind    RequestKind
	Payload []byte
}

func encodeRequest(kind RequestKind, payload interface{}) ([]byte, error) {
	var raw []byte
	var err error
	if payload != nil {
		raw, err = rlp.EncodeToBytes(payload)
		if err != nil {
			return nil, err
		}
	}
	return rlp.EncodeToBytes(&request{Kind: kind, Payload: raw})
}

// ValidationStore is ValidationResult's store component: the context hash
// produced by applying a block must equal the header's own context.
type ValidationStore struct {
	ContextHash       coretypes.ContextHash
	MessageResultHash coretypes.MetadataHash
	Fitness           [][]byte
}

// ApplyResult is apply_block's successful result.
type ApplyResult struct {
	Store                    ValidationStore
	BlockMetadata            coretypes.BlockMetadata
	OperationsMetadata       [][][]byte
	BlockMetadataHash        *coretypes.MetadataHash
	OperationsMetadataHashes *[][]coretypes.MetadataHash
}

// PreapplyPassResult is one validation-pass entry of a PreapplyResult.
type PreapplyPassResult struct {
	Applied []coretypes.Operation
	Refused []coretypes.OperationError
}

// PreapplyResult is preapply_block's successful result: a shell header plus
// per-pass outcomes.
type PreapplyResult struct {
	ShellHeader coretypes.BlockHeader
	Passes      []PreapplyPassResult
}

// response is the wire envelope, either `Ok(result)` or `Err(trace)`.
type response struct {
	Ok      bool
	Payload []byte
	Trace   []string
}

func encodeOk(payload interface{}) ([]byte, error) {
	raw, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&response{Ok: true, Payload: raw})
}

func encodeErr(trace []string) ([]byte, error) {
	return rlp.EncodeToBytes(&response{Ok: false, Trace: trace})
}
