package core

import (
	"errors"

	"mammo-assist/internal/db"
)

var (
	// ErrUpstream covers network or API failures and unparsable responses
	// from the diagnostic model.
	ErrUpstream = errors.New("upstream failure")
	// ErrIncompleteResult is returned when the model's JSON parses but lacks
	// the diagnosis, confidence or region.
	ErrIncompleteResult = errors.New("incomplete analysis result")
	// ErrStream is reported when a chat stream fails part way through.
	ErrStream = errors.New("chat stream failure")
	// ErrPersistence is an alias so callers only need to import core.
	ErrPersistence = db.ErrPersistence

	ErrNotFound     = errors.New("case not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotPending   = errors.New("case is not pending analysis")
	ErrNotAnalyzed  = errors.New("case has no analysis result")
	ErrNoImage      = errors.New("no image source found for analysis")
)
