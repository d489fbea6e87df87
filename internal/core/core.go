// Package core defines the domain records shared by every pipeline stage.
// JSON tags mirror the store field names exactly so records round-trip
// through the document store without translation layers.
package core

import "strconv"

// Placeholder values written instead of nulls so the store mapping's
// null_value semantics are never exercised by the pipeline itself.
const (
	PlaceholderNone        = "NONE"
	PlaceholderAbstract    = "no abstract available on pubmed"
	PlaceholderTitle       = "no title"
	PlaceholderJournal     = "no journal information"
	PlaceholderKeywords    = "no keywords"
	PlaceholderMeshNames   = "no mesh names"
	PlaceholderMeshIDs     = "no mesh ids"
	PlaceholderChemicals   = "no chemicals"
	PlaceholderAuthors     = "no author names"
	PlaceholderAffiliation = "no affiliation"

	// TruncatedAbstractMarker appears in legacy records whose abstract was
	// cut off at source; such records are excluded from embedding.
	TruncatedAbstractMarker = "ABSTRACT TRUNCATED AT"
)

// EmbeddingDim is the fixed dimensionality of every vector in the system.
const EmbeddingDim = 768

// Affiliation is a single author affiliation.
type Affiliation struct {
	Institute string `json:"institute"`
}

// Author is one article author with optional affiliations.
type Author struct {
	FirstName    string        `json:"firstName"`
	LastName     string        `json:"lastName"`
	Affiliations []Affiliation `json:"affiliations"`
}

// Grant is a research grant reference attached to an article.
type Grant struct {
	GrantID string `json:"grantID"`
	Acronym string `json:"acronym"`
	Agency  string `json:"agency"`
	Country string `json:"country"`
}

// Chemical is a substance mentioned by an article, keyed by its mesh id.
type Chemical struct {
	ChemicalMeshID string `json:"chemicalMeshID"`
	Name           string `json:"name"`
}

// Keyword is an author-supplied keyword.
type Keyword struct {
	Name  string `json:"name"`
	Major bool   `json:"major"`
}

// MeshTerm is a controlled-vocabulary descriptor.
type MeshTerm struct {
	MeshID string `json:"meshID"`
	Name   string `json:"name"`
	Major  bool   `json:"major"`
}

// PublicationType classifies the article (journal article, review, ...).
type PublicationType struct {
	PublicationMeshID string `json:"publicationMeshID"`
	Type              string `json:"type"`
}

// IssueDate is the partially-specified date of a journal issue. Components
// stay strings because the source regularly omits month or day.
type IssueDate struct {
	Year  string `json:"year"`
	Month string `json:"month"`
	Day   string `json:"day"`
}

// JournalIssue describes the issue an article appeared in.
type JournalIssue struct {
	Medium      string    `json:"medium"`
	Volume      string    `json:"volume"`
	IssueNumber string    `json:"issueNumber"`
	IssueDate   IssueDate `json:"issueDate"`
}

// JournalInformation is the journal block of an article.
type JournalInformation struct {
	JournalTitle string       `json:"journalTitle"`
	Abbreviation string       `json:"abbreviation"`
	Issue        JournalIssue `json:"journalIssueInformation"`
}

// HistoryEntry is one dated status transition from the article history.
type HistoryEntry struct {
	Date string `json:"date"`
	Type string `json:"type"`
}

// Article is one record from the external article service, keyed by its
// external id (PMID). ArticleDate is always populated: the parser derives
// it from the history when the XML omits an explicit date.
type Article struct {
	PMID             string             `json:"-"`
	Title            string             `json:"title"`
	VernacularTitle  string             `json:"vernacularTitle"`
	Abstract         string             `json:"abstract"`
	OtherAbstract    string             `json:"otherAbstract"`
	Language         string             `json:"language"`
	Status           string             `json:"status"`
	ArticleDate      string             `json:"articleDate"`
	History          []HistoryEntry     `json:"history"`
	Authors          []Author           `json:"authors"`
	Grants           []Grant            `json:"grants"`
	Chemicals        []Chemical         `json:"chemicals"`
	Keywords         []Keyword          `json:"keywords"`
	MeshTerms        []MeshTerm         `json:"meshTerms"`
	PublicationTypes []PublicationType  `json:"publicationTypes"`
	Journal          JournalInformation `json:"journalInformation"`
	FullTextURL      string             `json:"fullTextURL"`
	FullText         string             `json:"fullText"`
	VectorisedFlag   string             `json:"vectorisedFlag"`
	NLPProcessedFlag string             `json:"nlpProcessedFlag"`
}

// Chunk is one embedded text span of an article's abstract, stored in the
// chunk index under the id "{articleID}_{chunkID}". The metadata fields are
// denormalized copies used for filtering without joins.
type Chunk struct {
	DocumentSource     string    `json:"documentSource"`
	DocumentID         string    `json:"documentID"`
	ArticleDate        string    `json:"articleDate"`
	Title              string    `json:"title"`
	JournalTitle       string    `json:"journal:title"`
	Keywords           []string  `json:"keywords:name"`
	MeshTerms          []string  `json:"meshTerms"`
	MeshIDs            []string  `json:"meshIds"`
	Chemicals          []string  `json:"chemicals"`
	AuthorNames        []string  `json:"authors:name"`
	AuthorAffiliations []string  `json:"authors:affiliation"`
	ChunkID            int       `json:"abstract_chunk_id"`
	Text               string    `json:"abstract_chunk"`
	Embedding          []float64 `json:"pubmed_bert_vector"`
}

// ID returns the chunk's store document id.
func (c Chunk) ID() string {
	return c.DocumentID + "_" + strconv.Itoa(c.ChunkID)
}

// WordScore is one weighted word of a topic representation.
type WordScore struct {
	Word  string  `json:"word"`
	Score float64 `json:"score"`
}

// Topic is a consolidated global topic: centroid, word distribution and
// LLM-synthesized metadata.
type Topic struct {
	ID          string      `json:"id"`
	Label       string      `json:"label"`
	Description string      `json:"description"`
	Words       []WordScore `json:"words"`
	WordList    []string    `json:"word_list"`
	Centroid    []float64   `json:"centroid"`
}

// SimilarityEntry is one stored pairwise cosine similarity.
type SimilarityEntry struct {
	OtherClusterID  string  `json:"other_cluster_id"`
	SimilarityScore float64 `json:"similarity_score"`
}

// Cluster is a node of the binary agglomerative hierarchy. Leaves carry the
// topic word distribution; internal nodes carry the union of child words.
type Cluster struct {
	ClusterID          string            `json:"cluster_id"`
	Label              string            `json:"label"`
	Description        string            `json:"description"`
	TopicInformation   []WordScore       `json:"topic_information"`
	TopicWords         []string          `json:"topic_words"`
	IsLeaf             bool              `json:"is_leaf"`
	Depth              int               `json:"depth"`
	Path               string            `json:"path"`
	X                  float64           `json:"x"`
	Y                  float64           `json:"y"`
	Children           []string          `json:"children"`
	Size               int               `json:"size"`
	Embedding          []float64         `json:"cluster_embedding,omitempty"`
	PairwiseSimilarity []SimilarityEntry `json:"pairwise_similarity,omitempty"`
}

// DocumentProjection is one chunk's cluster assignment plus 2D coordinates,
// stored in the document-projection index.
type DocumentProjection struct {
	DocumentID         string    `json:"document_id"`
	Title              string    `json:"title"`
	Abstract           string    `json:"abstract"`
	Date               string    `json:"date"`
	AuthorNames        []string  `json:"authors:name"`
	AuthorAffiliations []string  `json:"authors:affiliation"`
	Keywords           []string  `json:"keywords:name"`
	MeshTerms          []string  `json:"meshTerms"`
	Chemicals          []string  `json:"chemicals"`
	JournalTitle       string    `json:"journal:title"`
	ClusterID          string    `json:"cluster_id"`
	X                  float64   `json:"x"`
	Y                  float64   `json:"y"`
	Embedding          []float64 `json:"pubmed_bert_vector"`
}
