package interfaceapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exhttp"

	"github.com/NullCoward/HolonAI/pkg/holon"
	"github.com/NullCoward/HolonAI/pkg/holon/paths"
)

// API serves the holon inspection and steering endpoints.
type API struct {
	log   zerolog.Logger
	iface *Interface
}

// NewAPI builds the HTTP surface around an interface holon.
func NewAPI(iface *Interface, log zerolog.Logger) *API {
	return &API{
		log:   log.With().Str("component", "interface_api").Logger(),
		iface: iface,
	}
}

// RegisterRoutes attaches all endpoints to the given router.
func (api *API) RegisterRoutes(r *http.ServeMux) {
	r.HandleFunc("GET /api/interface", api.handleInterface)
	r.HandleFunc("GET /api/holons", api.handleListHolons)
	r.HandleFunc("GET /api/holon/{id}", api.handleGetHolon)
	r.HandleFunc("GET /api/holon/{id}/hud", api.handleGetHUD)
	r.HandleFunc("GET /api/holon/{id}/purpose", api.handleGetPurpose)
	r.HandleFunc("PUT /api/holon/{id}/purpose", api.handleSetPurpose)
	r.HandleFunc("GET /api/holon/{id}/self", api.handleGetSelf)
	r.HandleFunc("PUT /api/holon/{id}/self", api.handleSetSelf)
	r.HandleFunc("GET /api/holon/{id}/knowledge", api.handleGetKnowledge)
	r.HandleFunc("PUT /api/holon/{id}/knowledge", api.handleSetKnowledge)
	r.HandleFunc("DELETE /api/holon/{id}/knowledge", api.handleDeleteKnowledge)
	r.HandleFunc("POST /api/holon/{id}/action/{name}", api.handleExecuteAction)
	r.HandleFunc("GET /api/holon/{id}/messages", api.handleGetMessages)
	r.HandleFunc("POST /api/holon/{id}/message", api.handleSendMessage)
	r.HandleFunc("GET /api/holon/{id}/children", api.handleGetChildren)
	r.HandleFunc("POST /api/holon/{id}/child", api.handleCreateChild)

	api.log.Info().Msg("Registered interface API endpoints")
}

// Handler returns a mux with all endpoints registered.
func (api *API) Handler() http.Handler {
	r := http.NewServeMux()
	api.RegisterRoutes(r)
	return r
}

func writeError(w http.ResponseWriter, status int, msg string) {
	exhttp.WriteJSONResponse(w, status, map[string]any{"error": msg})
}

// getHolon resolves the {id} path value against the registry, writing a 404
// and returning nil when the holon is not connected.
func (api *API) getHolon(w http.ResponseWriter, r *http.Request) *holon.Agent {
	a := api.iface.ConnectedHolon(r.PathValue("id"))
	if a == nil {
		writeError(w, http.StatusNotFound, "Holon not found")
		return nil
	}
	return a
}

// ReqUpdateBinding is the body for purpose, self and knowledge updates.
type ReqUpdateBinding struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// ReqSendMessage is the body for POST /api/holon/{id}/message.
type ReqSendMessage struct {
	RecipientIDs []string `json:"recipient_ids"`
	Content      any      `json:"content"`
	Tokens       int64    `json:"tokens"`
}

// ReqCreateChild is the body for POST /api/holon/{id}/child.
type ReqCreateChild struct {
	TemplateID string `json:"template_id"`
}

func isoOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// handleInterface handles GET /api/interface
func (api *API) handleInterface(w http.ResponseWriter, r *http.Request) {
	agent := api.iface.Agent()
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{
		"id":               agent.ID(),
		"purpose":          agent.PurposeResolve(),
		"self_state":       agent.SelfResolve(),
		"connected_holons": api.iface.ListConnectedHolons(),
	})
}

// handleListHolons handles GET /api/holons
func (api *API) handleListHolons(w http.ResponseWriter, r *http.Request) {
	exhttp.WriteJSONResponse(w, http.StatusOK, api.iface.ListConnectedHolons())
}

// handleGetHolon handles GET /api/holon/{id}
func (api *API) handleGetHolon(w http.ResponseWriter, r *http.Request) {
	a := api.getHolon(w, r)
	if a == nil {
		return
	}
	actions := make([]map[string]any, 0)
	for _, desc := range a.ActionDescriptors() {
		actions = append(actions, map[string]any{
			"name":    desc.Name,
			"purpose": desc.Purpose,
		})
	}
	children := make([]map[string]any, 0)
	for _, c := range a.Children() {
		children = append(children, map[string]any{
			"id":         c.ID(),
			"token_bank": c.TokenBank(),
		})
	}
	var parentID any
	if p := a.Parent(); p != nil {
		parentID = p.ID()
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{
		"id":              a.ID(),
		"purpose":         a.PurposeResolve(),
		"self_state":      a.SelfResolve(),
		"knowledge":       a.Knowledge(),
		"actions":         actions,
		"token_bank":      a.TokenBank(),
		"heart_rate_secs": a.HeartRateSecs(),
		"last_heartbeat":  isoOrNil(a.LastHeartbeat()),
		"next_heartbeat":  a.NextHeartbeat().UTC().Format(time.RFC3339Nano),
		"children":        children,
		"parent_id":       parentID,
	})
}

// handleGetHUD handles GET /api/holon/{id}/hud
func (api *API) handleGetHUD(w http.ResponseWriter, r *http.Request) {
	a := api.getHolon(w, r)
	if a == nil {
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, a.HUD())
}

// handleGetPurpose handles GET /api/holon/{id}/purpose
func (api *API) handleGetPurpose(w http.ResponseWriter, r *http.Request) {
	a := api.getHolon(w, r)
	if a == nil {
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, a.PurposeResolve())
}

// handleSetPurpose handles PUT /api/holon/{id}/purpose. A non-empty path
// updates one binding; an empty path replaces the whole purpose, keeping
// the value only when it is an object.
func (api *API) handleSetPurpose(w http.ResponseWriter, r *http.Request) {
	a := api.getHolon(w, r)
	if a == nil {
		return
	}
	var req ReqUpdateBinding
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.Path == "" && req.Value == nil) {
		writeError(w, http.StatusBadRequest, "No data provided")
		return
	}
	if req.Path != "" {
		if err := a.PurposeSet(req.Path, req.Value); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		m, _ := req.Value.(map[string]any)
		if err := a.PurposeReplace(m); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"purpose": a.PurposeResolve(),
	})
}

// handleGetSelf handles GET /api/holon/{id}/self
func (api *API) handleGetSelf(w http.ResponseWriter, r *http.Request) {
	a := api.getHolon(w, r)
	if a == nil {
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, a.SelfResolve())
}

// handleSetSelf handles PUT /api/holon/{id}/self. Only path updates are
// supported: the default bindings cannot be replaced wholesale.
func (api *API) handleSetSelf(w http.ResponseWriter, r *http.Request) {
	a := api.getHolon(w, r)
	if a == nil {
		return
	}
	var req ReqUpdateBinding
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.Path == "" && req.Value == nil) {
		writeError(w, http.StatusBadRequest, "No data provided")
		return
	}
	if req.Path != "" {
		if err := a.SelfSet(req.Path, req.Value); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{
		"success":    true,
		"self_state": a.SelfResolve(),
	})
}

// handleGetKnowledge handles GET /api/holon/{id}/knowledge
func (api *API) handleGetKnowledge(w http.ResponseWriter, r *http.Request) {
	a := api.getHolon(w, r)
	if a == nil {
		return
	}
	if path := r.URL.Query().Get("path"); path != "" {
		value, err := a.KnowledgeGet(path)
		if err != nil {
			writeError(w, http.StatusNotFound, "Path not found")
			return
		}
		exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{"value": value})
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, a.Knowledge())
}

// handleSetKnowledge handles PUT /api/holon/{id}/knowledge
func (api *API) handleSetKnowledge(w http.ResponseWriter, r *http.Request) {
	a := api.getHolon(w, r)
	if a == nil {
		return
	}
	var req ReqUpdateBinding
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.Path == "" && req.Value == nil) {
		writeError(w, http.StatusBadRequest, "No data provided")
		return
	}
	if req.Path != "" {
		if err := a.KnowledgeSet(req.Path, req.Value); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		m, _ := req.Value.(map[string]any)
		if err := a.KnowledgeReplace(m); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{
		"success":   true,
		"knowledge": a.Knowledge(),
	})
}

// handleDeleteKnowledge handles DELETE /api/holon/{id}/knowledge
func (api *API) handleDeleteKnowledge(w http.ResponseWriter, r *http.Request) {
	a := api.getHolon(w, r)
	if a == nil {
		return
	}
	var req ReqUpdateBinding
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "No data provided")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "Path required for delete")
		return
	}
	if err := a.KnowledgeDelete(req.Path); err != nil {
		if errors.Is(err, paths.ErrPathNotFound) {
			writeError(w, http.StatusNotFound, "Path not found")
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{"success": true})
}

// handleExecuteAction handles POST /api/holon/{id}/action/{name}. The body
// is an optional JSON object of action parameters.
func (api *API) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	a := api.getHolon(w, r)
	if a == nil {
		return
	}
	params := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	name := r.PathValue("name")
	result, err := a.Dispatch(name, params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	api.log.Debug().Str("holon_id", a.ID()).Str("action", name).Msg("Executed action via API")
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  result,
	})
}

// handleGetMessages handles GET /api/holon/{id}/messages
func (api *API) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	a := api.getHolon(w, r)
	if a == nil {
		return
	}
	msgs := a.Messages()
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, map[string]any{
			"id":              m.ID,
			"sender_id":       m.SenderID,
			"recipient_ids":   m.RecipientIDs,
			"content":         m.Content,
			"tokens_attached": m.TokensAttached,
			"timestamp":       m.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, out)
}

// handleSendMessage handles POST /api/holon/{id}/message
func (api *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	a := api.getHolon(w, r)
	if a == nil {
		return
	}
	var req ReqSendMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "No data provided")
		return
	}
	msg, err := a.SendMessage(req.RecipientIDs, req.Content, req.Tokens)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"message": map[string]any{
			"id":            msg.ID,
			"sender_id":     msg.SenderID,
			"recipient_ids": msg.RecipientIDs,
			"content":       msg.Content,
			"timestamp":     msg.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	})
}

// handleGetChildren handles GET /api/holon/{id}/children
func (api *API) handleGetChildren(w http.ResponseWriter, r *http.Request) {
	a := api.getHolon(w, r)
	if a == nil {
		return
	}
	children := a.Children()
	out := make([]map[string]any, 0, len(children))
	for _, c := range children {
		out = append(out, map[string]any{
			"id":         c.ID(),
			"purpose":    c.PurposeResolve(),
			"knowledge":  c.Knowledge(),
			"token_bank": c.TokenBank(),
		})
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, out)
}

// handleCreateChild handles POST /api/holon/{id}/child. The new child is
// connected to the interface so follow-up requests can reach it.
func (api *API) handleCreateChild(w http.ResponseWriter, r *http.Request) {
	a := api.getHolon(w, r)
	if a == nil {
		return
	}
	var req ReqCreateChild
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var child *holon.Agent
	var err error
	if req.TemplateID != "" {
		child, err = a.CreateChildFrom(req.TemplateID)
	} else {
		child, err = a.CreateChild()
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	api.iface.ConnectHolon(child)
	api.log.Debug().Str("holon_id", a.ID()).Str("child_id", child.ID()).Msg("Created child via API")
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"child": map[string]any{
			"id":         child.ID(),
			"token_bank": child.TokenBank(),
		},
	})
}
