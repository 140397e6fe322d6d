package badger

import (
	"encoding/binary"

	"github.com/poiesic/docqa/core"
)

// Key prefixes for different data types
const (
	documentPrefix         = "doc:"
	documentIdentityPrefix = "docidn:"
	documentIDSeq          = "seq:doc"
	documentGenPrefix      = "docgen:"
	chunkPrefix            = "chk:"
	chunkGenSeq            = "seq:chkgen"
	queryLogPrefix         = "qlog:"
	queryLogIDSeq          = "seq:qlog"
	sessionPrefix          = "sess:"
)

// appendUint64 appends v in BigEndian order so lexicographic sort matches
// numeric sort.
func appendUint64(buf []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(buf, v)
}

// makeDocumentKey generates a key for a document by ID.
// Format: prefix:id
func makeDocumentKey(id core.ID) []byte {
	return appendUint64([]byte(documentPrefix), uint64(id))
}

// makeDocumentIdentityKey generates the index key for a (title, source) pair.
// Format: prefix:hash(identity)
func makeDocumentIdentityKey(identity core.Identity) []byte {
	return appendUint64([]byte(documentIdentityPrefix), uint64(core.IDFromContent(identity.Key())))
}

// makeDocumentGenerationKey generates the key holding the live chunk
// generation of a document.
// Format: prefix:documentID
func makeDocumentGenerationKey(id core.ID) []byte {
	return appendUint64([]byte(documentGenPrefix), uint64(id))
}

// makeChunkKey generates a composite key for a chunk. Chunks are keyed by
// generation rather than document, so a replacement set can be written
// before the document points at it.
// Format: prefix:generation:index
func makeChunkKey(generation uint64, index int) []byte {
	buf := makeGenerationKey(generation)
	return binary.BigEndian.AppendUint32(buf, uint32(index))
}

// makeGenerationKey generates the prefix shared by all chunks of a generation.
// Format: prefix:generation
func makeGenerationKey(generation uint64) []byte {
	return appendUint64([]byte(chunkPrefix), generation)
}

// makeQueryLogKey generates a key for a query log record by ID.
func makeQueryLogKey(id core.ID) []byte {
	return appendUint64([]byte(queryLogPrefix), uint64(id))
}

// makeSessionKey generates a key for a client session value.
// Format: prefix:clientID\x00key
func makeSessionKey(clientID, key string) []byte {
	buf := make([]byte, 0, len(sessionPrefix)+len(clientID)+1+len(key))
	buf = append(buf, sessionPrefix...)
	buf = append(buf, clientID...)
	buf = append(buf, 0)
	return append(buf, key...)
}
