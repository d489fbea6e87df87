package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"clustertalk/internal/logger"
)

// QuestionRequest is the /ask request body. SupportingInformation carries
// document ids for document questions and cluster labels for corpus
// questions; callers send ids as strings or bare numbers.
type QuestionRequest struct {
	Question              string     `json:"question"`
	QuestionType          string     `json:"question_type"`
	SupportingInformation stringList `json:"supporting_information"`
}

// AnswerResponse is the /ask response body.
type AnswerResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// EmbedRequest is the /embed request body.
type EmbedRequest struct {
	Query string `json:"query"`
}

// EmbedResponse is the /embed response body.
type EmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// ErrorResponse carries a handler error detail.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// stringList decodes a JSON array of strings or numbers into strings.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var items []any
	if err := dec.Decode(&items); err != nil {
		return err
	}
	for _, item := range items {
		switch v := item.(type) {
		case string:
			*l = append(*l, v)
		case json.Number:
			*l = append(*l, v.String())
		default:
			return fmt.Errorf("supporting_information entries must be strings or numbers")
		}
	}
	return nil
}

// handleAsk routes a question to the corpus or document processor.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req QuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	if req.QuestionType != QuestionTypeCorpus && req.QuestionType != QuestionTypeDocument {
		logger.Warn("invalid question_type received", "question_type", req.QuestionType)
		s.respondError(w, http.StatusBadRequest,
			"Invalid question_type. Must be 'corpus-specific' or 'document-specific'.")
		return
	}

	var answer string
	var sources []string
	var err error
	if req.QuestionType == QuestionTypeCorpus {
		answer, sources, err = s.processor.AnswerCorpusQuestion(r.Context(), req.Question, req.SupportingInformation)
	} else {
		answer, sources, err = s.processor.AnswerDocumentQuestion(r.Context(), req.Question, req.SupportingInformation)
	}
	if err != nil {
		logger.Error("processing question", err, "question_type", req.QuestionType)
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if sources == nil {
		sources = []string{}
	}
	s.respondJSON(w, http.StatusOK, AnswerResponse{Answer: answer, Sources: sources})
}

// handleEmbed returns the embedding of a single query text.
func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req EmbedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	if req.Query == "" {
		logger.Warn("missing query in embed request")
		s.respondError(w, http.StatusBadRequest, "Missing 'query' field in body.")
		return
	}

	embedding, err := s.processor.EncodeText(r.Context(), req.Query)
	if err != nil {
		logger.Error("generating embedding", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to generate embedding.")
		return
	}
	s.respondJSON(w, http.StatusOK, EmbedResponse{Embedding: embedding})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("encoding JSON response", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, detail string) {
	s.respondJSON(w, status, ErrorResponse{Detail: detail})
}
