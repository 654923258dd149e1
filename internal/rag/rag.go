package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kestral/convoke/internal/embedding"
	"github.com/kestral/convoke/internal/vectorstore"
	"go.uber.org/zap"
)

// CollDocuments is the Qdrant collection holding indexed document
// chunks for retrieval-grounded agents.
const CollDocuments = "documents"

// chunkTarget is the upper bound on chunk size in characters.
// Paragraphs are merged until the next one would cross it.
const chunkTarget = 800

// vectorClient is the slice of the Qdrant client the service needs.
type vectorClient interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64) error
	Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]string) error
	Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]vectorstore.Hit, error)
}

// Service indexes documents and serves semantic retrieval for
// document-type agents.
type Service struct {
	embedder embedding.Provider
	vectors  vectorClient
	logger   *zap.Logger
}

func NewService(embedder embedding.Provider, vectors *vectorstore.Client, logger *zap.Logger) *Service {
	return &Service{embedder: embedder, vectors: vectors, logger: logger}
}

// Init ensures the document collection exists.
func (s *Service) Init(ctx context.Context) error {
	dim := uint64(s.embedder.Dimension())
	if dim == 0 {
		dim = 1024
	}
	if err := s.vectors.EnsureCollection(ctx, CollDocuments, dim); err != nil {
		return fmt.Errorf("init collection %s: %w", CollDocuments, err)
	}
	return nil
}

// Index chunks a document, embeds every chunk and stores them with
// their source metadata.
func (s *Service) Index(ctx context.Context, title, content string, metadata map[string]string) (int, error) {
	chunks := chunkText(content)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document %q has no indexable content", title)
	}

	vectors, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed document %q: %w", title, err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embed document %q: %d vectors for %d chunks", title, len(vectors), len(chunks))
	}

	indexedAt := time.Now().UTC().Format(time.RFC3339)
	for i, chunk := range chunks {
		payload := make(map[string]string, len(metadata)+4)
		for k, v := range metadata {
			payload[k] = v
		}
		payload["title"] = title
		payload["content"] = chunk
		payload["chunk"] = fmt.Sprintf("%d/%d", i+1, len(chunks))
		payload["indexed_at"] = indexedAt

		if err := s.vectors.Upsert(ctx, CollDocuments, uuid.New().String(), vectors[i], payload); err != nil {
			return i, fmt.Errorf("store chunk %d of %q: %w", i+1, title, err)
		}
	}

	s.logger.Info("document indexed",
		zap.String("title", title), zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// Result holds a single retrieval match.
type Result struct {
	Content string
	Title   string
	Score   float32
}

// Query embeds the query and returns the top-K most relevant chunks by
// descending score.
func (s *Service) Query(ctx context.Context, query string, topK int) ([]Result, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	hits, err := s.vectors.Search(ctx, CollDocuments, vectors[0], uint64(topK))
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			Content: h.Payload["content"],
			Title:   h.Payload["title"],
			Score:   h.Score,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Retrieve returns the matching chunk texts. This is the contract
// document agents consume for grounded drafting.
func (s *Service) Retrieve(ctx context.Context, query string, topK int) ([]string, error) {
	results, err := s.Query(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	passages := make([]string, 0, len(results))
	for _, r := range results {
		passages = append(passages, r.Content)
	}
	return passages, nil
}

// chunkText splits content on blank lines and merges paragraphs until
// the chunk target is reached. Whitespace-only input yields no chunks.
func chunkText(content string) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para) > chunkTarget {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}
