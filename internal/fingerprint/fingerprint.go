// Package fingerprint derives the content hash used to collapse identical
// clipboard entries of one owner into a single item.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/clipsync/clipsync/internal/domain"
	"github.com/clipsync/clipsync/internal/files"
	"github.com/clipsync/clipsync/internal/logger"
)

// Result is a computed fingerprint.
type Result struct {
	Hash string
	// Degraded is set when payload bytes could not be read and the hash
	// fell back to the reference string.
	Degraded bool
}

// Fingerprinter hashes items. Payload kinds hash the referenced bytes so a
// re-upload under a new reference still deduplicates.
type Fingerprinter struct {
	files  files.Resolver
	logger logger.Logger
}

func New(resolver files.Resolver, log logger.Logger) *Fingerprinter {
	return &Fingerprinter{files: resolver, logger: log}
}

// Literal is sha256("<kind>:<content>") in lowercase hex.
func Literal(kind domain.Kind, content string) string {
	sum := sha256.Sum256([]byte(string(kind) + ":" + content))
	return hex.EncodeToString(sum[:])
}

// Bytes is sha256(data) in lowercase hex.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Compute returns the fingerprint of kind/content. It never fails: when a
// referenced file is missing or unreadable the literal hash is used.
func (f *Fingerprinter) Compute(ctx context.Context, kind domain.Kind, content string) Result {
	if !kind.HasPayload() || f.files == nil {
		return Result{Hash: Literal(kind, content)}
	}

	refs := files.Refs(kind, content)
	if len(refs) == 0 {
		f.logger.Warn("payload item without references, hashing literal content",
			logger.String("kind", string(kind)))
		return Result{Hash: Literal(kind, content), Degraded: true}
	}

	hashes := make([]string, 0, len(refs))
	for _, ref := range refs {
		data, ok, err := f.files.Resolve(ctx, ref)
		if err != nil || !ok {
			f.logger.Warn("payload missing at hash time, hashing reference instead",
				logger.String("kind", string(kind)),
				logger.String("ref", ref),
				logger.Error(err))
			return Result{Hash: Literal(kind, content), Degraded: true}
		}
		hashes = append(hashes, Bytes(data))
	}

	if kind == domain.KindImage {
		return Result{Hash: hashes[0]}
	}

	sum := sha256.Sum256([]byte(strings.Join(hashes, ":")))
	return Result{Hash: hex.EncodeToString(sum[:])}
}
