// Package retrieval fronts an external document search backend. Index
// construction, embeddings and ranking live in the backend; this package
// owns the corpus registry and the initialize-before-search lifecycle.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/orrery/internal/logging"
)

// DefaultTopK is used when Search is called with topK <= 0.
const DefaultTopK = 5

var (
	// ErrUnknownCorpus is returned for corpus IDs missing from the registry.
	ErrUnknownCorpus = errors.New("unknown corpus")
	// ErrNotInitialized is returned by Search before a successful Initialize.
	ErrNotInitialized = errors.New("retrieval service not initialized")
	// ErrUnavailable is returned when no backend is configured.
	ErrUnavailable = errors.New("retrieval backend unavailable")
)

// Retriever is the contract the rest of the system depends on.
type Retriever interface {
	Initialize(ctx context.Context, corpusID string) error
	Search(ctx context.Context, query string, topK int) ([]Chunk, error)
	Summarize(ctx context.Context, text string) (string, error)
}

// Chunk is one retrievable piece of a source document.
type Chunk struct {
	ID      string       `json:"id"`
	Content ChunkContent `json:"content"`
	Meta    ChunkMeta    `json:"metadata"`
}

// ChunkContent holds exactly one of text, image or table content.
type ChunkContent struct {
	Type  string       `json:"type"` // text | image | table
	Text  *HTMLContent `json:"text,omitempty"`
	Image *ImageRef    `json:"image,omitempty"`
	Table *HTMLContent `json:"table,omitempty"`
}

type HTMLContent struct {
	HTML string `json:"html"`
}

type ImageRef struct {
	Path    string `json:"image_path"`
	Caption string `json:"caption"`
}

type ChunkMeta struct {
	DocumentTitle string `json:"document_title"`
	PageNumber    int    `json:"page_number"`
}

// CorpusPaths locates the prebuilt artifacts of one corpus.
type CorpusPaths struct {
	Chunks     string `json:"chunks"`
	Embeddings string `json:"embeddings"`
	BM25       string `json:"bm25"`
}

// Registry maps corpus IDs to their artifacts.
type Registry map[string]CorpusPaths

// DefaultRegistry returns the corpora shipped with the application.
func DefaultRegistry() Registry {
	return Registry{
		"iss": {
			Chunks:     "assets/cache/iss/chunks.json",
			Embeddings: "assets/cache/iss/text_embeddings.json",
			BM25:       "assets/cache/iss/bm25_index.json",
		},
	}
}

// IDs returns the registered corpus IDs, sorted.
func (r Registry) IDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Index is a loaded, searchable corpus.
type Index interface {
	Search(ctx context.Context, query string, topK int) ([]Chunk, error)
}

// Backend loads corpora and summarizes text.
type Backend interface {
	Load(ctx context.Context, corpusID string, paths CorpusPaths) (Index, error)
	Summarize(ctx context.Context, text string) (string, error)
}

// Unavailable is a Backend for deployments without a search engine.
type Unavailable struct{}

func (Unavailable) Load(context.Context, string, CorpusPaths) (Index, error) {
	return nil, ErrUnavailable
}

func (Unavailable) Summarize(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

// Service implements Retriever over a Backend. It is safe for concurrent use.
type Service struct {
	registry Registry
	backend  Backend
	log      logging.Logger

	mu      sync.Mutex
	current string
	index   Index
}

// NewService constructs a service. A nil backend behaves like Unavailable.
func NewService(reg Registry, backend Backend, log logging.Logger) *Service {
	if backend == nil {
		backend = Unavailable{}
	}
	return &Service{registry: reg, backend: backend, log: logging.OrNoop(log)}
}

// Registry returns the corpus registry.
func (s *Service) Registry() Registry { return s.registry }

// Current returns the loaded corpus ID, or "" when not initialized.
func (s *Service) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return ""
	}
	return s.current
}

// Initialize loads corpusID. Re-initializing the loaded corpus is a no-op;
// switching corpora drops the previous index first, so a failed load leaves
// the service uninitialized.
func (s *Service) Initialize(ctx context.Context, corpusID string) error {
	paths, ok := s.registry[corpusID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCorpus, corpusID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index != nil && s.current == corpusID {
		s.log.Debug(ctx, "corpus already loaded", logging.String("corpus", corpusID))
		return nil
	}

	s.index = nil
	s.current = corpusID
	s.log.Info(ctx, "loading corpus", logging.String("corpus", corpusID))
	idx, err := s.backend.Load(ctx, corpusID, paths)
	if err != nil {
		s.log.Warn(ctx, "corpus load failed", logging.String("corpus", corpusID), logging.Err(err))
		return fmt.Errorf("initialize %q: %w", corpusID, err)
	}
	s.index = idx
	return nil
}

// Search queries the loaded corpus.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]Chunk, error) {
	s.mu.Lock()
	idx := s.index
	s.mu.Unlock()
	if idx == nil {
		return nil, ErrNotInitialized
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return idx.Search(ctx, query, topK)
}

// Summarize delegates to the backend.
func (s *Service) Summarize(ctx context.Context, text string) (string, error) {
	return s.backend.Summarize(ctx, text)
}
