package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"docassist/internal/util"
	"docassist/pkg/domain"
	"docassist/pkg/store"
	"docassist/pkg/storage"
	"docassist/services/api/internal/relayclient"
)

// UploadInput is a validated document upload.
type UploadInput struct {
	UserID       uint
	OriginalName string
	Category     *string
	ContentType  string
	Size         int64
	Body         io.Reader
}

// UploadResult is the stored document plus the relay payload.
type UploadResult struct {
	Document   domain.Document
	AIResponse json.RawMessage
}

// UploadDocument stores the file, records it as pending and hands it to the
// relay. On relay failure the document keeps a failure status, the result
// still carries it and the error is a *RelayError.
func (a *App) UploadDocument(ctx context.Context, in UploadInput) (UploadResult, error) {
	logger := util.LoggerFromContext(ctx)
	key := storage.NewKey(storage.KindDocuments, in.OriginalName)
	if err := a.blobs.Put(ctx, key, in.Body, in.Size, in.ContentType); err != nil {
		return UploadResult{}, fmt.Errorf("store document: %w", err)
	}

	userID := in.UserID
	doc, err := a.store.CreateDocument(domain.Document{
		UserID:   &userID,
		Name:     in.OriginalName,
		FilePath: key,
		Status:   domain.StatusPendingAI,
		Category: in.Category,
	})
	if err != nil {
		if delErr := a.blobs.Delete(ctx, key); delErr != nil {
			logger.Error("document_blob_cleanup_failed", "file_path", key, "err", delErr)
		}
		return UploadResult{}, fmt.Errorf("create document: %w", err)
	}
	logger.Info("document_stored", "document_id", doc.ID, "user_id", in.UserID, "file_path", key)

	locator, err := a.blobs.Locate(ctx, key)
	if err != nil {
		doc = a.settleFailure(ctx, doc, domain.StatusAIProcessError)
		return UploadResult{Document: doc}, &RelayError{Op: "upload", Kind: RelayUnknown, Err: fmt.Errorf("locate document: %w", err)}
	}

	res, err := a.relay.ProcessDocument(context.WithoutCancel(ctx), relayclient.UploadRequest{
		DocumentID: doc.ID,
		FilePath:   locator,
		Metadata: relayclient.UploadMetadata{
			OriginalName: doc.Name,
			Category:     doc.Category,
			UploadedBy:   userID,
		},
	})
	if err != nil {
		relayErr := classifyRelayError("upload", err)
		doc = a.settleFailure(ctx, doc, failureStatus(relayErr.Kind))
		logger.Error("document_relay_failed", "document_id", doc.ID, "kind", relayErr.Kind.String(), "err", err)
		return UploadResult{Document: doc}, relayErr
	}

	raw := res.Raw
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = nil
	}
	doc, err = a.store.UpdateDocumentOutcome(doc.ID, store.DocumentOutcome{
		Status:     normalizeRelayStatus(res.Status),
		Summary:    res.Summary,
		SetSummary: true,
		AIResponse: raw,
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("update document: %w", err)
	}
	logger.Info("document_relay_processed", "document_id", doc.ID, "status", doc.Status)
	return UploadResult{Document: doc, AIResponse: raw}, nil
}

// settleFailure records a failure status; a failed write is logged and the
// in-memory document is updated so callers still see the outcome.
func (a *App) settleFailure(ctx context.Context, doc domain.Document, status domain.DocumentStatus) domain.Document {
	updated, err := a.store.UpdateDocumentOutcome(doc.ID, store.DocumentOutcome{Status: status})
	if err != nil {
		util.LoggerFromContext(ctx).Error("document_status_update_failed", "document_id", doc.ID, "status", status, "err", err)
		doc.Status = status
		return doc
	}
	return updated
}

func failureStatus(kind RelayFailure) domain.DocumentStatus {
	switch kind {
	case RelayHTTP:
		return domain.StatusAIFailed
	case RelayConnection:
		return domain.StatusAIConnectionError
	default:
		return domain.StatusAIProcessError
	}
}

// normalizeRelayStatus keeps known statuses and maps anything else,
// including the orchestrator's "processed", to processed_ai.
func normalizeRelayStatus(status string) domain.DocumentStatus {
	s := domain.DocumentStatus(strings.TrimSpace(status))
	if s.Valid() {
		return s
	}
	return domain.StatusProcessedAI
}

// SearchDocuments forwards q to the relay and returns its body untouched.
func (a *App) SearchDocuments(ctx context.Context, q string) (json.RawMessage, error) {
	raw, err := a.relay.Search(context.WithoutCancel(ctx), q)
	if err != nil {
		relayErr := classifyRelayError("search", err)
		util.LoggerFromContext(ctx).Error("document_search_failed", "kind", relayErr.Kind.String(), "err", err)
		return nil, relayErr
	}
	return raw, nil
}
