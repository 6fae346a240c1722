// Package embedding generates vector embeddings for entity text via a
// local Ollama instance. Calls are protected by a circuit breaker so a
// downed model server degrades search instead of stalling every request.
package embedding

import "context"

// Generator is the interface for producing vector embeddings. Ingestion
// and semantic search must use the same Generator so query vectors and
// stored vectors live in the same space.
type Generator interface {
	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float64, error)

	// MaxInputRunes is the longest input the model accepts. Longer text
	// must be truncated by the caller before Embed.
	MaxInputRunes() int

	// Model returns the model name in use.
	Model() string
}

// Truncate cuts text to the generator's maximum input length. The second
// return value reports whether truncation happened.
func Truncate(g Generator, text string) (string, bool) {
	max := g.MaxInputRunes()
	if max <= 0 {
		return text, false
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text, false
	}
	return string(runes[:max]), true
}
