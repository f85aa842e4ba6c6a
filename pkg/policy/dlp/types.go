package dlp

import (
	"errors"
	"fmt"
)

// Decision is the verdict produced when an analysis is finalized.
type Decision string

const (
	// DecisionAllow indicates the content may pass.
	DecisionAllow Decision = "allow"
	// DecisionBlock indicates the content should be rejected.
	DecisionBlock Decision = "block"
)

// Severity grades a banned phrase match.
type Severity string

const (
	// SeverityHigh marks a match whose folded text equals the configured phrase.
	SeverityHigh Severity = "high"
	// SeverityMedium is reserved for partial matches. Exact matching never emits it.
	SeverityMedium Severity = "medium"
)

// PIIKind identifies one of the fixed personal data detectors.
type PIIKind string

const (
	KindPhone      PIIKind = "phone"
	KindSSN        PIIKind = "ssn"
	KindCreditCard PIIKind = "credit_card"
	KindIPAddress  PIIKind = "ip_address"
	KindEmail      PIIKind = "email"
)

// Config controls an Analyzer. It is treated as immutable once handed to
// NewAnalyzer; use UpdateConfig to replace it.
type Config struct {
	Stopwords        []string `yaml:"stopwords" json:"stopwords"`
	EntropyThreshold float64  `yaml:"entropy_threshold" json:"entropy_threshold"`
	RiskThreshold    float64  `yaml:"risk_threshold" json:"risk_threshold"`
	MaxWords         int      `yaml:"max_words" json:"max_words"`
	BannedPhrases    []string `yaml:"banned_phrases" json:"banned_phrases"`
}

// Validate reports configuration values that cannot produce a meaningful verdict.
// MaxWords of zero is valid and simply yields an empty ranking.
func (c Config) Validate() error {
	if c.EntropyThreshold < 0 {
		return fmt.Errorf("dlp: entropy_threshold must be >= 0, got %v", c.EntropyThreshold)
	}
	if c.RiskThreshold < 0 || c.RiskThreshold > 1 {
		return fmt.Errorf("dlp: risk_threshold must be within [0,1], got %v", c.RiskThreshold)
	}
	if c.MaxWords < 0 {
		return fmt.Errorf("dlp: max_words must be >= 0, got %d", c.MaxWords)
	}
	return nil
}

// WordCount is one entry of the frequency ranking.
type WordCount struct {
	Word  string `json:"word"`
	Count uint64 `json:"count"`
}

// PhraseMatch is a banned phrase occurrence.
type PhraseMatch struct {
	Phrase   string   `json:"phrase"`
	Position int64    `json:"global_position"`
	Context  string   `json:"context"`
	Severity Severity `json:"severity"`
}

// PIIMatch is a personal data occurrence.
type PIIMatch struct {
	Kind       PIIKind `json:"kind"`
	Text       string  `json:"matched_text"`
	Position   int64   `json:"global_position"`
	Confidence float64 `json:"confidence"`
}

// Result is the outcome of Finalize.
type Result struct {
	TopWords      []WordCount   `json:"top_words"`
	BannedPhrases []PhraseMatch `json:"banned_phrases"`
	PIIPatterns   []PIIMatch    `json:"pii_patterns"`
	Entropy       float64       `json:"entropy"`
	IsObfuscated  bool          `json:"is_obfuscated"`
	Decision      Decision      `json:"decision"`
	Reason        string        `json:"reason"`
	RiskScore     float64       `json:"risk_score"`
}

// Stats describes the accumulated state of an Analyzer.
type Stats struct {
	ChunksProcessed     uint64 `json:"chunks_processed"`
	TotalBytesProcessed uint64 `json:"total_bytes_processed"`
	UniqueWords         int    `json:"unique_words"`
	PhraseMatchCount    int    `json:"phrase_match_count"`
	PIIMatchCount       int    `json:"pii_match_count"`
}

var (
	// ErrEmptyStream is returned by Finalize before any content was processed.
	// Callers may process more chunks and retry.
	ErrEmptyStream = errors.New("dlp: no content processed")
	// ErrProcessing is reserved for chunk-level validation. No detector rejects
	// input today.
	ErrProcessing = errors.New("dlp: chunk processing failed")
)

const (
	defaultChunkSize = 16 * 1024
	contextRadius    = 20
)
