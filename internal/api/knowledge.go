package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sqlstudio/sqlstudio/internal/auth"
	"github.com/sqlstudio/sqlstudio/internal/knowledge"
	"github.com/sqlstudio/sqlstudio/internal/llm"
)

type knowledgeSearchRequest struct {
	Query string `json:"query"`
}

type knowledgeItemRequest struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
}

func handleListModels(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := requireAnyRole(r, auth.RoleQueryReader, auth.RoleSQLWriter, auth.RoleConnectionAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	models := []string{llm.AutoModel}
	if deps.Models != nil {
		models = deps.Models(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func handleKnowledgeSearch(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var retriever knowledge.Retriever
	if deps.Agent != nil {
		retriever = deps.Agent.Retriever()
	}
	if retriever == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "KNOWLEDGE_NOT_CONFIGURED", "knowledge retrieval is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	var req knowledgeSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid search request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_REQUIRED", "query is required", false, nil)
		return
	}
	items, err := retriever.Search(r.Context(), req.Query)
	if err != nil && len(items) == 0 {
		writeError(r.Context(), w, http.StatusBadGateway, "KNOWLEDGE_SEARCH_FAILED", "knowledge search failed", true, map[string]any{"details": err.Error()})
		return
	}
	if err != nil && deps.Logger != nil {
		deps.Logger.WarnContext(r.Context(), "knowledge search partially failed", "error", err)
	}
	if items == nil {
		items = []knowledge.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "context": knowledge.FormatAsContext(items)})
}

func knowledgeStore(deps Dependencies, w http.ResponseWriter, r *http.Request, roles ...string) (KnowledgeStore, bool) {
	if deps.Knowledge == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "KNOWLEDGE_NOT_CONFIGURED", "local knowledge base is not configured", false, nil)
		return nil, false
	}
	if err := requireAnyRole(r, roles...); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return nil, false
	}
	return deps.Knowledge, true
}

func handleListKnowledge(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	store, ok := knowledgeStore(deps, w, r, auth.RoleQueryReader, auth.RoleConnectionAdmin)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": store.List()})
}

func handleGetKnowledge(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	store, ok := knowledgeStore(deps, w, r, auth.RoleQueryReader, auth.RoleConnectionAdmin)
	if !ok {
		return
	}
	item, err := store.Get(r.PathValue("id"))
	if err != nil {
		writeKnowledgeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// handleAddKnowledge asks the model for keywords when the caller sends
// none. Keyword extraction failures leave the item without keywords.
func handleAddKnowledge(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	store, ok := knowledgeStore(deps, w, r, auth.RoleConnectionAdmin)
	if !ok {
		return
	}
	var req knowledgeItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid knowledge item body", false, map[string]any{"details": err.Error()})
		return
	}
	keywords := req.Keywords
	if len(keywords) == 0 && deps.Keywords != nil {
		extracted, err := deps.Keywords.Extract(r.Context(), req.Title, req.Content)
		if err != nil {
			if deps.Logger != nil {
				deps.Logger.WarnContext(r.Context(), "keyword extraction failed", "error", err)
			}
		} else {
			keywords = extracted
		}
	}
	item, err := store.Add(knowledge.Item{Title: req.Title, Content: req.Content, Keywords: keywords})
	if err != nil {
		writeKnowledgeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func handleUpdateKnowledge(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	store, ok := knowledgeStore(deps, w, r, auth.RoleConnectionAdmin)
	if !ok {
		return
	}
	var req knowledgeItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid knowledge item body", false, map[string]any{"details": err.Error()})
		return
	}
	item, err := store.Update(knowledge.Item{ID: r.PathValue("id"), Title: req.Title, Content: req.Content, Keywords: req.Keywords})
	if err != nil {
		writeKnowledgeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func handleDeleteKnowledge(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	store, ok := knowledgeStore(deps, w, r, auth.RoleConnectionAdmin)
	if !ok {
		return
	}
	if err := store.Delete(r.PathValue("id")); err != nil {
		writeKnowledgeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeKnowledgeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, knowledge.ErrItemNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "KNOWLEDGE_ITEM_NOT_FOUND", err.Error(), false, nil)
		return
	}
	writeError(r.Context(), w, http.StatusBadRequest, "INVALID_KNOWLEDGE_ITEM", err.Error(), false, nil)
}
