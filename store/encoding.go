package store

import (
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/ethereum-mive/coreshell/coretypes"
)

// cycleOperation and cycleBlock mirror coretypes.Operation/BlockRepr in an
// RLP-friendly shape. Blocks in a cycle file never carry metadata, so it
// is deliberately omitted here, not just zeroed.
type cycleOperation struct {
	Hash   coretypes.OperationHash
	Branch coretypes.BlockHash
	Data   []byte
}

type cycleBlock struct {
	HasHash                     bool
	Hash                        coretypes.BlockHash
	Header                      coretypes.BlockHeader
	ProtocolData                []byte
	Operations                  [][]cycleOperation
	HasBlockMetadataHash        bool
	BlockMetadataHash           coretypes.MetadataHash
	HasOperationsMetadataHashes bool
	OperationsMetadataHashes    [][]coretypes.MetadataHash
}

// encodeBlockRepr serializes a block for storage inside a cemented cycle
// file or a floating-store record. Metadata is stripped; the caller
// reattaches it separately when read_metadata is requested.
func encodeBlockRepr(b *coretypes.BlockRepr) ([]byte, error) {
	cb := cycleBlock{
		Header:        b.Header,
		ProtocolData:  b.Header.ProtocolData,
		Operations:    make([][]cycleOperation, len(b.Operations)),
	}
	if b.Hash != nil {
		cb.HasHash = true
		cb.Hash = *b.Hash
	}
	for i, pass := range b.Operations {
		ops := make([]cycleOperation, len(pass))
		for j, op := range pass {
			ops[j] = cycleOperation{Hash: op.Hash, Branch: op.Branch, Data: op.Data}
		}
		cb.Operations[i] = ops
	}
	if b.BlockMetadataHash != nil {
		cb.HasBlockMetadataHash = true
		cb.BlockMetadataHash = *b.BlockMetadataHash
	}
	if b.OperationsMetadataHashes != nil {
		cb.HasOperationsMetadataHashes = true
		cb.OperationsMetadataHashes = *b.OperationsMetadataHashes
	}
	return rlp.EncodeToBytes(&cb)
}

func decodeBlockRepr(raw []byte) (*coretypes.BlockRepr, error) {
	var cb cycleBlock
	if err := rlp.DecodeBytes(raw, &cb); err != nil {
		return nil, err
	}
	b := &coretypes.BlockRepr{
		Header:     cb.Header,
		Operations: make([][]coretypes.Operation, len(cb.Operations)),
	}
	b.Header.ProtocolData = cb.ProtocolData
	if cb.HasHash {
		h := cb.Hash
		b.Hash = &h
	}
	for i, pass := range cb.Operations {
		ops := make([]coretypes.Operation, len(pass))
		for j, op := range pass {
			ops[j] = coretypes.Operation{Hash: op.Hash, Branch: op.Branch, Data: op.Data}
		}
		b.Operations[i] = ops
	}
	if cb.HasBlockMetadataHash {
		h := cb.BlockMetadataHash
		b.BlockMetadataHash = &h
	}
	if cb.HasOperationsMetadataHashes {
		h := cb.OperationsMetadataHashes
		b.OperationsMetadataHashes = &h
	}
	return b, nil
}
