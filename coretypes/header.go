package coretypes

import (
	"io"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// BlockHeader is the fixed-shape envelope every block carries. Block, header
// and operations hashing all flow from the RLP encoding of this struct, the
// same way go-ethereum derives types.Header.Hash() from its RLP encoding.
type BlockHeader struct {
	Level            int32          `json:"level"            gencodec:"required"`
	ProtoLevel       uint8          `json:"protoLevel"        gencodec:"required"`
	Predecessor      BlockHash      `json:"predecessor"       gencodec:"required"`
	Timestamp        int64          `json:"timestamp"         gencodec:"required"`
	ValidationPasses uint8          `json:"validationPasses"  gencodec:"required"`
	OperationsHash   OperationsHash `json:"operationsHash"    gencodec:"required"`
	Fitness          [][]byte       `json:"fitness"           gencodec:"required"`
	Context          ContextHash    `json:"context"           gencodec:"required"`
	ProtocolData     []byte         `json:"protocolData"      rlp:"-"`

	// hash caches the RLP-derived hash; atomic.Value so a *BlockHeader can
	// be shared across readers without a lock, mirroring types.Header's own
	// hash cache in go-ethereum.
	hash atomic.Value
}

// headerRLP is the RLP encoding shape. ProtocolData is excluded from the
// preimage: it is protocol-engine opaque payload, not shell-level identity.
type headerRLP struct {
	Level            uint32
	ProtoLevel       uint8
	Predecessor      BlockHash
	Timestamp        uint64
	ValidationPasses uint8
	OperationsHash   OperationsHash
	Fitness          [][]byte
	Context          ContextHash
}

// EncodeRLP implements rlp.Encoder.
func (h *BlockHeader) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, &headerRLP{
		Level:            uint32(h.Level),
		ProtoLevel:       h.ProtoLevel,
		Predecessor:      h.Predecessor,
		Timestamp:        uint64(h.Timestamp),
		ValidationPasses: h.ValidationPasses,
		OperationsHash:   h.OperationsHash,
		Fitness:          h.Fitness,
		Context:          h.Context,
	})
}

// DecodeRLP implements rlp.Decoder. ProtocolData is not part of the RLP
// preimage and must be attached by the caller (it travels alongside the
// header in the on-disk block record, see BlockRepr).
func (h *BlockHeader) DecodeRLP(s *rlp.Stream) error {
	var dec headerRLP
	if err := s.Decode(&dec); err != nil {
		return err
	}
	h.Level = int32(dec.Level)
	h.ProtoLevel = dec.ProtoLevel
	h.Predecessor = dec.Predecessor
	h.Timestamp = int64(dec.Timestamp)
	h.ValidationPasses = dec.ValidationPasses
	h.OperationsHash = dec.OperationsHash
	h.Fitness = dec.Fitness
	h.Context = dec.Context
	h.hash = atomic.Value{}
	return nil
}

// Hash returns the deterministic content hash of the header: keccak256 of
// its RLP encoding (ProtocolData excluded). The result is cached.
func (h *BlockHeader) Hash() BlockHash {
	if cached := h.hash.Load(); cached != nil {
		return cached.(BlockHash)
	}
	v := BlockHash(rlpHash(&headerRLP{
		Level:            uint32(h.Level),
		ProtoLevel:       h.ProtoLevel,
		Predecessor:      h.Predecessor,
		Timestamp:        uint64(h.Timestamp),
		ValidationPasses: h.ValidationPasses,
		OperationsHash:   h.OperationsHash,
		Fitness:          h.Fitness,
		Context:          h.Context,
	}))
	h.hash.Store(v)
	return v
}

func rlpHash(x interface{}) (h [hashLength]byte) {
	enc, err := rlp.EncodeToBytes(x)
	if err != nil {
		panic(err)
	}
	sum := crypto.Keccak256(enc)
	copy(h[:], sum)
	return h
}
