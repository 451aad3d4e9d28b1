package core

import "errors"

// Error taxonomy for cycle stages. Wrap these with fmt.Errorf("...: %w", ...)
// and branch with errors.Is; the orchestrator's failure policy keys off them.
var (
	// ErrSourceUnavailable means the news source could not be queried at all.
	// Aborts the cycle; retried on the next scheduled trigger.
	ErrSourceUnavailable = errors.New("news source unavailable")

	// ErrEmbeddingUnavailable means the embedding service failed for one
	// article. The article is classified without retrieval augmentation.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrRetrievalUnavailable means the vector store could not be queried.
	// Degrades analysis to non-augmented mode, never fails the article.
	ErrRetrievalUnavailable = errors.New("vector store unavailable")

	// ErrClassificationFailed means the sentiment classifier failed for one
	// article. The article is recorded as seen but unscored.
	ErrClassificationFailed = errors.New("sentiment classification failed")

	// ErrDeliveryFailed means a notification could not be delivered. The
	// notification record is left unwritten so a later cycle may retry.
	ErrDeliveryFailed = errors.New("notification delivery failed")

	// ErrPersistenceFailed means the cache store rejected a write. Aborts
	// the cycle.
	ErrPersistenceFailed = errors.New("cache store write failed")
)
