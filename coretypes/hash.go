// Package coretypes defines the wire-level data model shared by the block
// store, the chain state machine, the block validator and the prevalidator:
// block headers, block bodies, metadata, and the lightweight descriptors used
// to identify a block without carrying its full body.
package coretypes

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"
)

// hashLength is the size in bytes of every hash type below. The protocols
// this store speaks (block hashes, operation hashes, context hashes,
// protocol hashes) are all 32-byte digests, so every hash type is a plain
// rename of common.Hash rather than its own fixed-size array.
const hashLength = common.HashLength

// BlockHash identifies a block by the hash of its encoded header.
type BlockHash common.Hash

// ContextHash identifies the state commitment a block header carries. The
// context store itself is an opaque collaborator (see GLOSSARY); only the
// hash round-trips through this package.
type ContextHash common.Hash

// OperationHash identifies an operation (mempool entry) by content hash.
type OperationHash common.Hash

// OperationsHash is the root committing to a block's operations.
type OperationsHash common.Hash

// MetadataHash identifies encoded block or per-operation metadata.
type MetadataHash common.Hash

// ProtocolHash identifies an economic-protocol version.
type ProtocolHash common.Hash

func (h BlockHash) String() string       { return common.Hash(h).Hex() }
func (h ContextHash) String() string     { return common.Hash(h).Hex() }
func (h OperationHash) String() string   { return common.Hash(h).Hex() }
func (h OperationsHash) String() string  { return common.Hash(h).Hex() }
func (h MetadataHash) String() string    { return common.Hash(h).Hex() }
func (h ProtocolHash) String() string    { return common.Hash(h).Hex() }
func (h BlockHash) Bytes() []byte        { return common.Hash(h).Bytes() }
func (h BlockHash) IsZero() bool         { return h == BlockHash{} }

// BlockHashFromHex parses a hex-encoded block hash, accepting an optional
// "0x" prefix.
func BlockHashFromHex(s string) (BlockHash, error) {
	b, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil {
		return BlockHash{}, err
	}
	if len(b) != hashLength {
		return BlockHash{}, errWrongHashLength(len(b))
	}
	var h BlockHash
	copy(h[:], b)
	return h, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
