package stt

import "time"

// Transcript is one recognition result, interim or final.
type Transcript struct {
	Text string

	// IsFinal is set once the engine stops revising the segment. Interim
	// results for the same segment replace each other.
	IsFinal bool

	// Confidence in [0, 1]; zero when the engine does not say.
	Confidence float64

	// Words is filled by engines that report word timings.
	Words []WordDetail

	// Timestamp is the segment start relative to the stream start.
	Timestamp time.Duration
}

// WordDetail is the timing of a single recognized word.
type WordDetail struct {
	Word       string
	Start, End time.Duration
	Confidence float64
}

// KeywordBoost biases recognition toward a term from the question bank,
// such as "Kubernetes" or "PostgreSQL". Boost is engine specific; engines
// without weighting ignore it.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}
