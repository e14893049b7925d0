package retrieval

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/agents"
)

// ErrNoDocuments is returned when the docs path holds no loadable files.
var ErrNoDocuments = errors.New("no supported documents found")

// Document is one loaded source file.
type Document struct {
	Source  string
	Title   string
	Content string
}

// IngestReport summarizes an ingestion run.
type IngestReport struct {
	Documents int      `json:"documents"`
	Chunks    int      `json:"chunks"`
	Skipped   []string `json:"skipped,omitempty"`
}

// Ingestor loads, chunks and indexes a documents directory.
type Ingestor struct {
	index      Index
	chunker    *Chunker
	logger     agents.Logger
	extensions []string
	version    string
	batchSize  int
}

// NewIngestor creates an Ingestor writing to index.
func NewIngestor(index Index, chunker *Chunker, extensions []string, version string, logger agents.Logger) *Ingestor {
	if version == "" {
		version = "v1"
	}
	return &Ingestor{
		index:      index,
		chunker:    chunker,
		logger:     logger,
		extensions: extensions,
		version:    version,
		batchSize:  64,
	}
}

// Run indexes every supported file under docsPath.
func (g *Ingestor) Run(ctx context.Context, docsPath string) (*IngestReport, error) {
	if _, err := os.Stat(docsPath); err != nil {
		return nil, fmt.Errorf("docs path not found: %s", docsPath)
	}

	docs, skipped, err := LoadDocuments(docsPath, g.extensions)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		g.logger.Warn("ingest_skipped", "source", s)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDocuments, docsPath)
	}

	chunks := g.Chunk(docs)
	for start := 0; start < len(chunks); start += g.batchSize {
		end := min(start+g.batchSize, len(chunks))
		if err := g.index.Add(ctx, chunks[start:end]); err != nil {
			return nil, fmt.Errorf("index chunks %d-%d: %w", start, end, err)
		}
		g.logger.Debug("ingest_batch", "from", start, "to", end)
	}

	report := &IngestReport{Documents: len(docs), Chunks: len(chunks), Skipped: skipped}
	g.logger.Info("ingest_completed", "documents", report.Documents, "chunks", report.Chunks)
	return report, nil
}

// Chunk splits documents and attaches identity metadata. Chunk ids are
// numbered across the whole run.
func (g *Ingestor) Chunk(docs []Document) []Chunk {
	ingestedAt := time.Now().UTC().Format(time.RFC3339)
	var out []Chunk
	idx := 0
	for _, d := range docs {
		docID := hashText(d.Source)
		for _, text := range g.chunker.Split(d.Content) {
			idx++
			chunkID := docID + "-" + strconv.Itoa(idx)
			meta := map[string]string{
				MetaSource:     filepath.Base(d.Source),
				MetaDocID:      docID,
				MetaChunkID:    chunkID,
				"source_path":  d.Source,
				"content_hash": hashText(text),
				"ingested_at":  ingestedAt,
				"version":      g.version,
			}
			if d.Title != "" {
				meta[MetaTitle] = d.Title
			}
			out = append(out, Chunk{ID: chunkID, Content: text, Metadata: meta})
		}
	}
	return out
}

// LoadDocuments walks root and loads text, markdown and HTML files.
// Files with a supported extension that cannot be parsed as text, such as
// PDFs, are returned in skipped.
func LoadDocuments(root string, extensions []string) (docs []Document, skipped []string, err error) {
	allowed := make([]string, 0, len(extensions))
	for _, e := range extensions {
		allowed = append(allowed, strings.ToLower(e))
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if !slices.Contains(allowed, ext) {
			return nil
		}

		var doc *Document
		switch ext {
		case ".html", ".htm":
			doc, err = loadHTML(path)
		case ".txt", ".md":
			doc, err = loadText(path)
		default:
			skipped = append(skipped, path)
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(doc.Content) != "" {
			docs = append(docs, *doc)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	return docs, skipped, nil
}

func loadText(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &Document{Source: path, Content: string(data)}, nil
}

func loadHTML(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w", path, err)
	}
	doc.Find("script, style, nav, footer, noscript").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("title").Remove()

	var blocks []string
	doc.Find("body").Each(func(_ int, s *goquery.Selection) {
		blocks = append(blocks, s.Text())
	})
	text := strings.Join(blocks, "\n")
	if strings.TrimSpace(text) == "" {
		text = doc.Text()
	}
	return &Document{Source: path, Title: title, Content: normalizeLines(text)}, nil
}

// normalizeLines trims each line and drops runs of blank lines.
func normalizeLines(text string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func hashText(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
