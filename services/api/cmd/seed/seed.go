package main

import (
	"fmt"
	"time"

	"docassist/pkg/auth"
	"docassist/pkg/domain"
	"docassist/pkg/store"
)

const (
	demoEmail    = "admin@example.com"
	demoPassword = "password"
	demoRounds   = 3
)

type sampleDocument struct {
	name     string
	category string
	summary  string
	status   domain.DocumentStatus
}

var sampleDocuments = []sampleDocument{
	{"employee-handbook.pdf", "HR", "Leave policy, benefits and onboarding checklist.", domain.StatusProcessedAI},
	{"q3-earnings.docx", "Finance", "Quarterly revenue grew on stronger services demand.", domain.StatusProcessedAI},
	{"meeting-notes.txt", "General", "", domain.StatusPendingAI},
}

type seedResult struct {
	User      domain.User
	Created   bool
	Documents int
	Turns     int
}

// seed creates the demo user with sample documents and a short voice
// exchange. An existing demo user is left untouched.
func seed(st store.Store, now time.Time) (seedResult, error) {
	var res seedResult
	existing, ok, err := st.GetUserByEmail(demoEmail)
	if err != nil {
		return res, fmt.Errorf("lookup demo user: %w", err)
	}
	if ok {
		res.User = existing
		return res, nil
	}

	hash, err := auth.HashPassword(demoPassword)
	if err != nil {
		return res, fmt.Errorf("hash password: %w", err)
	}
	verified := now
	user, err := st.CreateUser(domain.User{
		Name:            "Admin User",
		Email:           demoEmail,
		PasswordHash:    hash,
		EmailVerifiedAt: &verified,
	})
	if err != nil {
		return res, fmt.Errorf("create demo user: %w", err)
	}
	res.User = user
	res.Created = true

	for _, sample := range sampleDocuments {
		owner := user.ID
		category := sample.category
		doc, err := st.CreateDocument(domain.Document{
			UserID:   &owner,
			Name:     sample.name,
			FilePath: "documents/seed-" + sample.name,
			Status:   domain.StatusPendingAI,
			Category: &category,
		})
		if err != nil {
			return res, fmt.Errorf("create document %s: %w", sample.name, err)
		}
		if sample.status != domain.StatusPendingAI {
			summary := sample.summary
			if _, err := st.UpdateDocumentOutcome(doc.ID, store.DocumentOutcome{
				Status:     sample.status,
				Summary:    &summary,
				SetSummary: true,
			}); err != nil {
				return res, fmt.Errorf("settle document %s: %w", sample.name, err)
			}
		}
		res.Documents++
	}

	for i := 0; i < demoRounds; i++ {
		turns, err := st.AppendVoiceTurns(
			domain.Voice{UserID: user.ID, Speaker: domain.SpeakerUser, Text: "Hello AI, how are you?"},
			domain.Voice{UserID: user.ID, Speaker: domain.SpeakerAssistant, Text: "I am fine, thank you! How can I help you?"},
		)
		if err != nil {
			return res, fmt.Errorf("append voice turns: %w", err)
		}
		res.Turns += len(turns)
	}
	return res, nil
}
