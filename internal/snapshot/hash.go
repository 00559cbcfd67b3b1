package snapshot

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// BlobSHA computes the git blob object id for content: the SHA-1 of
// "blob <len>\x00" followed by the bytes. Matching git's own hashing lets
// the detector compare local files against remote tree entries without
// downloading them.
func BlobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
