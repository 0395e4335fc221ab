package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"optiontree/auth"
	"optiontree/cas"
	"optiontree/config"
	"optiontree/model"
	"optiontree/proto"
	"optiontree/registry"
	"optiontree/tree"
)

// Handler wraps the registry and config for HTTP handlers.
type Handler struct {
	reg    *registry.Registry
	cfg    *config.Config
	logger *slog.Logger
	tokens *auth.TokenService
	flight singleflight.Group
}

// NewHandler creates a new API handler.
func NewHandler(reg *registry.Registry, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{reg: reg, cfg: cfg, logger: logger}
	if cfg.AuthEnabled() {
		h.tokens = auth.NewTokenService([]byte(cfg.JWTSigningKey), cfg.JWTIssuer, 0)
	}
	return h
}

// NewRouter creates the HTTP router with all routes registered.
func NewRouter(reg *registry.Registry, cfg *config.Config, logger *slog.Logger) http.Handler {
	h := NewHandler(reg, cfg, logger)
	mux := http.NewServeMux()

	withAuth := WithAuth(h.tokens)
	withMission := WithMission(reg, h.logger)
	tenant := func(fn http.HandlerFunc) http.Handler {
		return withAuth(withMission(fn))
	}
	admin := RequireAdmin(h.tokens, cfg.AdminKeyHash)

	// Health
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)

	// Admin
	mux.Handle("POST /admin/v1/missions", admin(http.HandlerFunc(h.CreateMission)))
	mux.Handle("GET /admin/v1/missions", admin(http.HandlerFunc(h.ListMissions)))
	mux.Handle("DELETE /admin/v1/missions/{mission}", admin(http.HandlerFunc(h.DeleteMission)))

	// Option sets
	mux.Handle("POST /{mission}/v1/option-sets", tenant(h.CreateOptionSet))
	mux.Handle("GET /{mission}/v1/option-sets", tenant(h.ListOptionSets))
	mux.Handle("GET /{mission}/v1/option-sets/{set}", tenant(h.GetOptionSet))

	// Nodes
	mux.Handle("PUT /{mission}/v1/nodes/{node}/children", tenant(h.Reconcile))
	mux.Handle("GET /{mission}/v1/nodes/{node}/tree", tenant(h.Tree))
	mux.Handle("GET /{mission}/v1/nodes/{node}/resolve", tenant(h.Resolve))
	mux.Handle("GET /{mission}/v1/nodes/{node}/search", tenant(h.Search))
	mux.Handle("DELETE /{mission}/v1/nodes/{node}", tenant(h.DestroyNode))
	mux.Handle("POST /{mission}/v1/preload", tenant(h.Preload))

	return mux
}

// ----- Health -----

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := proto.HealthResponse{Status: "ok", Version: h.cfg.Version}
	if h.reg != nil {
		resp.Open = h.reg.Open()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, proto.HealthResponse{Status: "ready", Version: h.cfg.Version})
}

// ----- Admin -----

func (h *Handler) CreateMission(w http.ResponseWriter, r *http.Request) {
	var req proto.CreateMissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required", nil)
		return
	}
	if _, err := h.reg.Create(r.Context(), req.Name); err != nil {
		writeRegistryError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, proto.MissionResponse{Name: req.Name})
}

func (h *Handler) ListMissions(w http.ResponseWriter, r *http.Request) {
	names, err := h.reg.List(r.Context())
	if err != nil {
		writeRegistryError(w, h.logger, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, proto.MissionsListResponse{Missions: names})
}

func (h *Handler) DeleteMission(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Delete(r.Context(), r.PathValue("mission")); err != nil {
		writeRegistryError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ----- Option sets -----

func (h *Handler) CreateOptionSet(w http.ResponseWriter, r *http.Request) {
	var req proto.CreateOptionSetRequest
	if !h.decode(w, r, &req) {
		return
	}
	svc := MissionFrom(r.Context()).Service
	set, rep, err := svc.CreateOptionSet(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, proto.OptionSetResponse{OptionSet: set, Report: &rep})
}

func (h *Handler) ListOptionSets(w http.ResponseWriter, r *http.Request) {
	sets, err := MissionFrom(r.Context()).Service.ListOptionSets(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if sets == nil {
		sets = []*model.OptionSet{}
	}
	writeJSON(w, http.StatusOK, proto.OptionSetsListResponse{OptionSets: sets})
}

func (h *Handler) GetOptionSet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "set")
	if !ok {
		return
	}
	svc := MissionFrom(r.Context()).Service
	set, err := svc.GetOptionSet(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	stats, err := svc.Stats(r.Context(), set.RootNodeID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, proto.OptionSetResponse{OptionSet: set, Stats: stats})
}

// ----- Nodes -----

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := pathUUID(w, r, "node")
	if !ok {
		return
	}
	var req proto.ReconcileRequest
	if !h.decode(w, r, &req) {
		return
	}
	rep, err := MissionFrom(r.Context()).Service.Reconcile(r.Context(), nodeID, req.Children)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, proto.ReconcileResponse{NodeID: nodeID, Report: rep})
}

type serialized struct {
	tree *tree.Tree
	etag string
}

// Tree serializes the subtree below a node. Identical concurrent requests
// share one serialization.
func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := pathUUID(w, r, "node")
	if !ok {
		return
	}
	svc := MissionFrom(r.Context()).Service
	key := MissionNameFrom(r.Context()) + "/" + nodeID.String()
	ctx := context.WithoutCancel(r.Context())

	v, err, _ := h.flight.Do(key, func() (interface{}, error) {
		t, err := svc.Serialize(ctx, nodeID)
		if err != nil {
			return nil, err
		}
		etag, err := cas.ETag(t)
		if err != nil {
			return nil, err
		}
		return serialized{tree: t, etag: etag}, nil
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	res := v.(serialized)

	w.Header().Set("ETag", res.etag)
	if cas.MatchETag(r.Header.Get("If-None-Match"), res.etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, res.tree)
}

func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := pathUUID(w, r, "node")
	if !ok {
		return
	}
	path, err := parsePath(r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path", err)
		return
	}
	svc := MissionFrom(r.Context()).Service
	node, err := svc.ResolvePath(r.Context(), nodeID, path)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	resp := proto.ResolveResponse{Node: node, Children: []*model.Option{}}
	if node != nil {
		children, err := svc.ChildrenForPath(r.Context(), node.ID, nil)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		resp.Children = children
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := pathUUID(w, r, "node")
	if !ok {
		return
	}
	glob := r.URL.Query().Get("glob")
	if glob == "" {
		writeError(w, http.StatusBadRequest, "glob required", nil)
		return
	}
	matches, err := MissionFrom(r.Context()).Service.Search(r.Context(), nodeID, glob)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if matches == nil {
		matches = []tree.Match{}
	}
	writeJSON(w, http.StatusOK, proto.SearchResponse{Matches: matches})
}

func (h *Handler) DestroyNode(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := pathUUID(w, r, "node")
	if !ok {
		return
	}
	if err := MissionFrom(r.Context()).Service.DestroyNode(r.Context(), nodeID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Preload(w http.ResponseWriter, r *http.Request) {
	var req proto.PreloadRequest
	if !h.decode(w, r, &req) {
		return
	}
	nodes, err := MissionFrom(r.Context()).Service.Preload(r.Context(), req.NodeIDs)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	resp := proto.PreloadResponse{Nodes: make([]proto.PreloadEntry, 0, len(nodes))}
	for _, n := range nodes {
		opts := n.ChildOptions
		if opts == nil {
			opts = []*model.Option{}
		}
		resp.Nodes = append(resp.Nodes, proto.PreloadEntry{NodeID: n.ID, ChildOptions: opts})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ----- Helpers -----

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body := r.Body
	if h.cfg.MaxBodySize > 0 {
		body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", err)
			return false
		}
		writeError(w, http.StatusBadRequest, "reading request body", err)
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name+" id", err)
		return uuid.Nil, false
	}
	return id, true
}

// parsePath splits a comma-separated list of option ids. Empty and "null"
// elements stand for a missing option.
func parsePath(raw string) ([]uuid.UUID, error) {
	if raw == "" {
		return []uuid.UUID{}, nil
	}
	parts := strings.Split(raw, ",")
	path := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || p == "null" {
			path = append(path, uuid.Nil)
			continue
		}
		id, err := uuid.Parse(p)
		if err != nil {
			return nil, err
		}
		path = append(path, id)
	}
	return path, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	writeKindError(w, status, msg, "", err)
}

func writeKindError(w http.ResponseWriter, status int, msg, kind string, err error) {
	resp := proto.ErrorResponse{Error: msg, Kind: kind}
	if err != nil {
		resp.Details = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// writeServiceError maps engine error kinds to HTTP statuses.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch kind := tree.KindOf(err); {
	case errors.Is(err, tree.ErrValidation):
		writeKindError(w, http.StatusUnprocessableEntity, "validation failed", "validation", err)
	case kind == tree.ErrInvalidReference:
		writeKindError(w, http.StatusUnprocessableEntity, "invalid reference", "invalid_reference", err)
	case kind == tree.ErrInvalidOperation:
		writeKindError(w, http.StatusConflict, "invalid operation", "invalid_operation", err)
	case kind == tree.ErrConstraintViolation:
		writeKindError(w, http.StatusConflict, "constraint violation", "constraint_violation", err)
	case kind == tree.ErrNotFound:
		writeKindError(w, http.StatusNotFound, "not found", "not_found", err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timed out", err)
	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func writeRegistryError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, registry.ErrMissionNotFound):
		writeKindError(w, http.StatusNotFound, "mission not found", "not_found", err)
	case errors.Is(err, registry.ErrMissionExists):
		writeError(w, http.StatusConflict, "mission already exists", err)
	case errors.Is(err, registry.ErrMissionBusy):
		writeError(w, http.StatusConflict, "mission is in use", err)
	case errors.Is(err, registry.ErrInvalidMission):
		writeError(w, http.StatusBadRequest, "invalid mission name", err)
	default:
		logger.Error("registry failure", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}
