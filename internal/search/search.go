// Package search keeps a semantic (embedding) index of the vault in a
// chromem-go collection. It only ever reads notes; commits reach it through
// a vault observer and a background refresher.
package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/starford/vaultkeeper/internal/apperr"
	"github.com/starford/vaultkeeper/internal/index"
	"github.com/starford/vaultkeeper/internal/models"
	"github.com/starford/vaultkeeper/internal/vault"
)

// Embedder names accepted in Options.
const (
	EmbedderHashing = "hashing"
	EmbedderOllama  = "ollama"
	EmbedderOpenAI  = "openai"
)

const (
	collectionName  = "notes"
	defaultMinScore = 0.35
	snippetLen      = 240
)

// Options configures the semantic index.
type Options struct {
	Embedder  string
	Model     string
	OllamaURL string
	APIKey    string
	// PersistPath keeps the collection on disk between runs when set.
	PersistPath string
	MinScore    float32
	// RefreshInterval triggers a full rebuild from Source when > 0.
	RefreshInterval time.Duration
}

// Hit is one semantic match.
type Hit struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Source lists every note for a full rebuild.
type Source func(ctx context.Context) ([]*models.Note, error)

// Index is the semantic index.
type Index struct {
	col      *chromem.Collection
	minScore float32
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*models.Note
	wake    chan struct{}
}

// New opens (or creates) the collection with the configured embedder.
func New(opts Options, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	embed, err := embeddingFunc(opts)
	if err != nil {
		return nil, err
	}

	db := chromem.NewDB()
	if opts.PersistPath != "" {
		db, err = chromem.NewPersistentDB(opts.PersistPath, false)
		if err != nil {
			return nil, apperr.Wrap(err, "search: open persistent db")
		}
	}
	col, err := db.GetOrCreateCollection(collectionName, map[string]string{"embedder": embedderName(opts)}, embed)
	if err != nil {
		return nil, apperr.Wrap(err, "search: collection")
	}

	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = defaultMinScore
	}
	return &Index{
		col:      col,
		minScore: minScore,
		interval: opts.RefreshInterval,
		logger:   logger,
		pending:  map[string]*models.Note{},
		wake:     make(chan struct{}, 1),
	}, nil
}

func embedderName(opts Options) string {
	if opts.Embedder == "" {
		return EmbedderHashing
	}
	return opts.Embedder + "/" + opts.Model
}

func embeddingFunc(opts Options) (chromem.EmbeddingFunc, error) {
	switch strings.ToLower(opts.Embedder) {
	case "", EmbedderHashing:
		return HashingEmbedder(DefaultDimensions), nil
	case EmbedderOllama:
		model := opts.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		base := opts.OllamaURL
		if base != "" && !strings.HasSuffix(base, "/api") {
			base = strings.TrimSuffix(base, "/") + "/api"
		}
		return chromem.NewEmbeddingFuncOllama(model, base), nil
	case EmbedderOpenAI:
		if opts.APIKey == "" {
			return nil, apperr.New("search: openai embedder needs an API key")
		}
		model := chromem.EmbeddingModelOpenAI3Small
		if opts.Model != "" {
			model = chromem.EmbeddingModelOpenAI(opts.Model)
		}
		return chromem.NewEmbeddingFuncOpenAI(opts.APIKey, model), nil
	default:
		return nil, apperr.Newf("search: unknown embedder %q", opts.Embedder)
	}
}

// Observe is a vault.Observer. It queues the committed note for the
// refresher and never blocks.
func (i *Index) Observe(ch vault.Change) {
	i.Enqueue(ch.Note)
}

// Enqueue schedules n for (re)embedding.
func (i *Index) Enqueue(n *models.Note) {
	if n == nil {
		return
	}
	i.mu.Lock()
	i.pending[n.ID] = n
	i.mu.Unlock()
	select {
	case i.wake <- struct{}{}:
	default:
	}
}

// Run embeds queued notes until ctx ends. With a refresh interval and a
// source it also rebuilds everything periodically.
func (i *Index) Run(ctx context.Context, src Source) error {
	var tick <-chan time.Time
	if i.interval > 0 && src != nil {
		t := time.NewTicker(i.interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-i.wake:
			i.Flush(ctx)
		case <-tick:
			if err := i.Rebuild(ctx, src); err != nil && ctx.Err() == nil {
				i.logger.Warn("search: periodic rebuild failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Flush embeds everything queued so far.
func (i *Index) Flush(ctx context.Context) {
	i.mu.Lock()
	batch := i.pending
	i.pending = map[string]*models.Note{}
	i.mu.Unlock()

	for _, n := range batch {
		if err := i.Upsert(ctx, n); err != nil {
			if ctx.Err() != nil {
				return
			}
			i.logger.Warn("search: embed failed", slog.String("id", n.ID), slog.String("error", err.Error()))
		}
	}
}

// Rebuild embeds every note src returns.
func (i *Index) Rebuild(ctx context.Context, src Source) error {
	notes, err := src(ctx)
	if err != nil {
		return err
	}
	for _, n := range notes {
		if err := i.Upsert(ctx, n); err != nil {
			return err
		}
	}
	i.logger.Info("search: rebuilt", slog.Int("notes", len(notes)))
	return nil
}

// Upsert embeds one note, replacing any previous version.
func (i *Index) Upsert(ctx context.Context, n *models.Note) error {
	err := i.col.AddDocument(ctx, chromem.Document{
		ID:       n.ID,
		Content:  Document(n),
		Metadata: map[string]string{"name": n.Name, "path": n.Path},
	})
	if err != nil {
		return apperr.Wrapf(err, "search: embed %s", n.ID)
	}
	return nil
}

// Remove drops a note from the index.
func (i *Index) Remove(ctx context.Context, id string) error {
	if err := i.col.Delete(ctx, nil, nil, id); err != nil {
		return apperr.Wrapf(err, "search: delete %s", id)
	}
	return nil
}

// Count returns the number of embedded notes.
func (i *Index) Count() int {
	return i.col.Count()
}

// Query returns up to limit notes at or above the minimum similarity.
func (i *Index) Query(ctx context.Context, text string, limit int) ([]Hit, error) {
	n := min(limit, i.col.Count())
	if n <= 0 || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	results, err := i.col.Query(ctx, text, n, nil, nil)
	if err != nil {
		return nil, apperr.Wrap(err, "search: query")
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		if r.Similarity < i.minScore {
			continue
		}
		hits = append(hits, Hit{
			ID:      r.ID,
			Name:    r.Metadata["name"],
			Snippet: snippet(r.Content),
			Score:   float64(r.Similarity),
		})
	}
	return hits, nil
}

// Document is the text embedded for a note.
func Document(n *models.Note) string {
	var b strings.Builder
	b.WriteString(n.Name)
	b.WriteByte('\n')
	if len(n.Aliases) > 0 {
		b.WriteString(strings.Join(n.Aliases, ", "))
		b.WriteByte('\n')
	}
	b.WriteString(index.FactsText(n))
	b.WriteString(n.Body)
	return b.String()
}

func snippet(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if len(content) <= snippetLen {
		return content
	}
	cut := strings.LastIndexByte(content[:snippetLen], ' ')
	if cut <= 0 {
		cut = snippetLen
	}
	return content[:cut] + "..."
}
