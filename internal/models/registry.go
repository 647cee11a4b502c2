package models

import "time"

// Indexing status values for a domain
const (
	IndexingPending  = "PENDING"
	IndexingRunning  = "RUNNING"
	IndexingComplete = "COMPLETE"
)

// Listing status values for a domain at a tier
const (
	ListingPending = "PENDING"
	ListingActive  = "ACTIVE"
	ListingExpired = "EXPIRED"
)

// PendingStateModeratorReview queues an expired tier 1 listing for re-approval
const PendingStateModeratorReview = "MODERATOR_REVIEW"

// LogEntry is one append-only row in the indexing log
type LogEntry struct {
	Domain    string    `json:"domain"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// ExpiredListing identifies a listing whose paid or approved period has lapsed
type ExpiredListing struct {
	Domain string `json:"domain"`
	Tier   int    `json:"tier"`
	Email  string `json:"email,omitempty"` // Site contact, empty when never provided
}
