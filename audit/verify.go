package audit

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/alwitt/proxykey/db"
	"github.com/alwitt/proxykey/models"
	"github.com/apex/log"
)

// Verification failure reasons
const (
	ReasonHashMismatch = "entry hash does not match its content"
	ReasonLinkMismatch = "previous hash does not match the preceding entry"
)

/*
Verify walk the chain oldest to newest, checking every entry hash and its link to
the preceding entry

	@param ctx context.Context - execution context
	@param fromID *string - optionally start the walk at this entry
	@returns the verification result
*/
func (t *trailImpl) Verify(ctx context.Context, fromID *string) (VerifyResult, error) {
	logTags := t.GetLogTagsForContext(ctx)

	result := VerifyResult{Valid: true}

	err := t.persistence.UseDatabase(ctx, func(ctx context.Context, dbClient db.Database) error {
		// The walk anchors on the entry before the starting point
		expectedPrev := ""
		if fromID != nil {
			one := 1
			anchor, err := dbClient.ListAuditEntries(ctx, db.AuditEntryQueryFilter{
				CommonListEntryQueryFilter: db.CommonListEntryQueryFilter{Limit: &one},
				BeforeID:                   fromID,
				NewestFirst:                true,
			})
			if err != nil {
				return fmt.Errorf("failed to read verification anchor [%w]", err)
			}
			if len(anchor) > 0 {
				expectedPrev = anchor[0].Hash
			}
		}
		result.ChainTip = expectedPrev

		filter := db.AuditEntryQueryFilter{
			CommonListEntryQueryFilter: db.CommonListEntryQueryFilter{Limit: &t.pageSize},
			FromID:                     fromID,
		}
		for {
			page, err := dbClient.ListAuditEntries(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to read audit entries [%w]", err)
			}
			for _, entry := range page {
				if reason := t.checkEntry(entry, expectedPrev); reason != "" {
					result.Valid = false
					result.FirstInvalidID = entry.ID
					result.Reason = reason
					return nil
				}
				expectedPrev = entry.Hash
				result.ChainTip = entry.Hash
				result.Checked++
			}
			if len(page) < t.pageSize {
				return nil
			}
			lastID := page[len(page)-1].ID
			filter.FromID = nil
			filter.AfterID = &lastID
		}
	})
	if err != nil {
		return VerifyResult{}, fmt.Errorf("audit chain verification failed [%w]", err)
	}

	if !result.Valid {
		log.WithFields(logTags).WithField("entry", result.FirstInvalidID).Warn(
			"Audit chain verification failed: " + result.Reason,
		)
	}

	return result, nil
}

// checkEntry verify one entry, returning the failure reason or ""
func (t *trailImpl) checkEntry(entry models.AuditEntry, expectedPrev string) string {
	computed := t.crypto.KeyedHash(string(entry.ChainInput()))
	if subtle.ConstantTimeCompare([]byte(computed), []byte(entry.Hash)) != 1 {
		return ReasonHashMismatch
	}
	if entry.PreviousHash != expectedPrev {
		return ReasonLinkMismatch
	}
	return ""
}
