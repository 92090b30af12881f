package utils

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

const knowledgeNamespace = "label-reader-notes"

// Embedder turns text into a vector. OpenAIClient implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is the subset of *pinecone.IndexConnection the knowledge base uses.
type VectorIndex interface {
	QueryByVectorValues(ctx context.Context, in *pinecone.QueryByVectorValuesRequest) (*pinecone.QueryVectorsResponse, error)
	UpsertVectors(ctx context.Context, in []*pinecone.Vector) (uint32, error)
}

// KnowledgeBase stores short notes the user keeps about products (e.g. "the
// blue bottle is my blood pressure medicine") and retrieves them for
// follow-up questions.
type KnowledgeBase struct {
	index    VectorIndex
	embedder Embedder
	TopK     int
	MinScore float32
}

func NewKnowledgeBase(index VectorIndex, embedder Embedder) *KnowledgeBase {
	return &KnowledgeBase{
		index:    index,
		embedder: embedder,
		TopK:     3,
		MinScore: 0.75,
	}
}

func GetPineconeIndex(ctx context.Context, apiKey, indexName string) (*pinecone.IndexConnection, error) {
	if indexName == "" {
		return nil, fmt.Errorf("PINECONE_INDEX is not set")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("PINECONE_API_KEY is not set")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	idx, err := client.DescribeIndex(ctx, indexName)
	if err != nil {
		return nil, fmt.Errorf("failed to describe index %q: %w", indexName, err)
	}

	idxConnection, err := client.Index(pinecone.NewIndexConnParams{Host: idx.Host, Namespace: knowledgeNamespace})
	if err != nil {
		return nil, fmt.Errorf("failed to create IndexConnection for host %v: %w", idx.Host, err)
	}
	return idxConnection, nil
}

// Lookup returns the notes closest to query.
func (kb *KnowledgeBase) Lookup(ctx context.Context, query string) ([]string, error) {
	embedding, err := kb.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error vectorizing query: %w", err)
	}
	return QueryPinecone(ctx, kb.index, embedding, kb.TopK, kb.MinScore)
}

// AddNote embeds and stores a note. An empty id gets a generated one.
func (kb *KnowledgeBase) AddNote(ctx context.Context, id, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("note text is empty")
	}
	if id == "" {
		id = uuid.New().String()
	}

	embedding, err := kb.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("error vectorizing note: %w", err)
	}

	metadata, err := structpb.NewStruct(map[string]interface{}{
		"text":       text,
		"type":       "product_note",
		"created_at": time.Now().Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to build note metadata: %w", err)
	}

	_, err = kb.index.UpsertVectors(ctx, []*pinecone.Vector{{
		Id:       id,
		Values:   embedding,
		Metadata: metadata,
	}})
	if err != nil {
		return "", fmt.Errorf("failed to upsert note %q: %w", id, err)
	}
	return id, nil
}

func QueryPinecone(ctx context.Context, index VectorIndex, embedding []float32, topK int, minScore float32) ([]string, error) {
	queryResponse, err := index.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          embedding,
		TopK:            uint32(topK),
		IncludeValues:   false,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("error querying Pinecone index: %w", err)
	}

	var matches []string
	for _, match := range queryResponse.Matches {
		if match == nil || match.Vector == nil || match.Vector.Metadata == nil {
			continue
		}
		if match.Score < minScore {
			continue
		}
		value, ok := match.Vector.Metadata.Fields["text"]
		if !ok {
			continue
		}
		if text := value.GetStringValue(); text != "" {
			matches = append(matches, text)
		}
	}
	return matches, nil
}
