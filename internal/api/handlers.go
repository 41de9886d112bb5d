package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/foliolabs/folio/internal/chat"
	"github.com/foliolabs/folio/internal/content"
	"github.com/foliolabs/folio/internal/index"
)

const (
	maxChatBodyBytes  = 16 << 10
	maxMessageLen     = 2000
	maxHistoryEntries = 40
	defaultRelatedK   = 3
	maxRelatedK       = 10
)

// chatRequest is the wire shape of POST /api/chat.
type chatRequest struct {
	Message  string        `json:"message"`
	Language string        `json:"language"`
	History  []historyTurn `json:"history"`
}

type historyTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (req chatRequest) validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Message,
			validation.Required,
			validation.RuneLength(1, maxMessageLen)),
		validation.Field(&req.Language,
			validation.In("", string(content.LanguageEN), string(content.LanguageTR))),
		validation.Field(&req.History,
			validation.Length(0, maxHistoryEntries)),
	)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", s.logger)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), s.logger)
		return
	}

	history := make([]chat.Turn, 0, len(req.History))
	for _, t := range req.History {
		role := chat.RoleUser
		if t.Role == string(chat.RoleAssistant) {
			role = chat.RoleAssistant
		}
		history = append(history, chat.Turn{Role: role, Content: t.Content})
	}

	// Already constrained to the supported set by validate.
	lang, _ := content.ParseLanguage(req.Language)

	resp, err := s.chat.HandleMessage(r.Context(), chat.Request{
		CallerAddress: clientIP(r, s.cfg.TrustProxy),
		Message:       req.Message,
		Language:      lang,
		History:       history,
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrQuotaExceeded):
			writeError(w, http.StatusTooManyRequests, "quota_exceeded",
				"daily message limit reached, try again tomorrow", s.logger)
		case errors.Is(err, chat.ErrGeneration):
			s.logger.Error("chat generation failed", "error", err)
			writeError(w, http.StatusBadGateway, "generation_failed",
				"the assistant is unavailable right now", s.logger)
		default:
			s.logger.Error("chat request failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal", "internal server error", s.logger)
		}
		return
	}

	writeJSON(w, http.StatusOK, resp, s.logger)
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	typ, ok := s.sourceTypeParam(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	lang, err := content.ParseLanguage(r.URL.Query().Get("lang"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "unsupported language", s.logger)
		return
	}

	k := defaultRelatedK
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRelatedK {
			writeError(w, http.StatusBadRequest, "bad_request", "k must be between 1 and 10", s.logger)
			return
		}
		k = n
	}

	related, err := s.related.FindSimilarEntities(r.Context(), typ, id, lang, k)
	if err != nil {
		s.logger.Error("related lookup failed",
			"source_type", typ, "source_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"related": related}, s.logger)
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	report, err := s.admin.SyncAll(r.Context())
	if err != nil {
		s.logger.Error("bulk sync failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "bulk sync failed", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, report, s.logger)
}

func (s *Server) handleSyncOne(w http.ResponseWriter, r *http.Request) {
	typ, ok := s.sourceTypeParam(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := s.admin.SyncOne(r.Context(), typ, id); err != nil {
		s.logger.Error("entity sync failed",
			"source_type", typ, "source_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "sync failed", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"}, s.logger)
}

func (s *Server) handleClearOne(w http.ResponseWriter, r *http.Request) {
	typ, ok := s.sourceTypeParam(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := s.admin.ClearOne(r.Context(), typ, id); err != nil {
		s.logger.Error("clearing entity failed",
			"source_type", typ, "source_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "clear failed", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"}, s.logger)
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.ClearAll(r.Context()); err != nil {
		s.logger.Error("clearing index failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "clear failed", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"}, s.logger)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var types []content.SourceType
	if raw := r.URL.Query().Get("type"); raw != "" {
		typ, err := content.ParseSourceType(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "unknown source type", s.logger)
			return
		}
		types = append(types, typ)
	}

	statuses, err := s.admin.StatusReport(r.Context(), types...)
	if err != nil {
		s.logger.Error("status report failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "status report failed", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": statuses}, s.logger)
}

// chunkView strips embedding vectors from admin chunk inspection.
type chunkView struct {
	Language   content.Language `json:"language"`
	ChunkIndex int              `json:"chunkIndex"`
	Text       string           `json:"text"`
	UpdatedAt  string           `json:"updatedAt"`
}

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	typ, ok := s.sourceTypeParam(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	chunks, err := s.admin.ChunkDetails(r.Context(), typ, id)
	if err != nil {
		s.logger.Error("chunk inspection failed",
			"source_type", typ, "source_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "chunk lookup failed", s.logger)
		return
	}

	views := make([]chunkView, 0, len(chunks))
	for _, c := range chunks {
		views = append(views, chunkView{
			Language:   c.Language,
			ChunkIndex: c.Index,
			Text:       c.Text,
			UpdatedAt:  c.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": views}, s.logger)
}

func (s *Server) sourceTypeParam(w http.ResponseWriter, r *http.Request) (content.SourceType, bool) {
	typ, err := content.ParseSourceType(chi.URLParam(r, "type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "unknown source type", s.logger)
		return "", false
	}
	return typ, true
}

var _ Admin = (*index.Indexer)(nil)
