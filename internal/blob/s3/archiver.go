package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gavelhq/gavel/internal/domain"
)

// AuctionArchiveStore provides read access to closed auctions for archival.
// The Postgres auction store satisfies it through its archive queries.
type AuctionArchiveStore interface {
	// ListClosedBefore returns auctions in a terminal state whose end time is
	// strictly before the cutoff.
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Auction, error)
	// DeleteClosedBefore purges archived auctions from the primary store.
	// Dependent rows cascade.
	DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error)
}

// BidArchiveStore provides read access to the frozen ledgers of closed
// auctions for archival.
type BidArchiveStore interface {
	// ListClosedBefore returns every bid belonging to an auction in a
	// terminal state whose end time is strictly before the cutoff.
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Bid, error)
}

// ArchiveImpl implements domain.Archiver by querying closed auctions and
// their frozen bid ledgers, serializing them to JSONL, uploading the result
// to S3, and then purging the archived rows from the primary store. Rows are
// deleted only after both uploads have succeeded.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	auctions AuctionArchiveStore
	bids     BidArchiveStore
	audit    domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	auctions AuctionArchiveStore,
	bids BidArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:   writer,
		auctions: auctions,
		bids:     bids,
		audit:    audit,
	}
}

// ArchiveAuctions exports every auction closed before the cutoff together
// with its bid ledger, as two JSONL objects partitioned by the cutoff's
// year-month:
//
//	archive/auctions/2026-08.jsonl
//	archive/bids/2026-08.jsonl
//
// The archival event is recorded in the audit log and the number of archived
// auctions is returned.
func (a *ArchiveImpl) ArchiveAuctions(ctx context.Context, before time.Time) (int64, error) {
	auctions, err := a.auctions.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive auctions query: %w", err)
	}
	if len(auctions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(auctions)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive auctions marshal: %w", err)
	}
	auctionPath := archivePath("auctions", before)
	if err := a.writer.Put(ctx, auctionPath, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive auctions upload: %w", err)
	}

	bids, err := a.bids.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive bids query: %w", err)
	}
	if len(bids) > 0 {
		buf, err := marshalJSONL(bids)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive bids marshal: %w", err)
		}
		bidPath := archivePath("bids", before)
		if err := a.writer.Put(ctx, bidPath, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return 0, fmt.Errorf("s3blob: archive bids upload: %w", err)
		}
	}

	count := int64(len(auctions))

	deleted, err := a.auctions.DeleteClosedBefore(ctx, before)
	if err != nil {
		return count, fmt.Errorf("s3blob: archive purge: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.auctions", map[string]any{
		"path":     auctionPath,
		"auctions": count,
		"bids":     len(bids),
		"deleted":  deleted,
		"before":   before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
