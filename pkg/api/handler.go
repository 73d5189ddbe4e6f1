// Package api exposes the HTTP surface external callers use to trigger
// scaling policies and manage scaling groups: a thin chi router in front
// of pkg/controller and pkg/store.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/raxautoscale/convergence/internal/logging"
	"github.com/raxautoscale/convergence/pkg/audit"
	"github.com/raxautoscale/convergence/pkg/cloud"
	"github.com/raxautoscale/convergence/pkg/controller"
	"github.com/raxautoscale/convergence/pkg/model"
	"github.com/raxautoscale/convergence/pkg/store"
)

// Handler wires the HTTP surface to the controller and store.
type Handler struct {
	store     store.Store
	converger controller.Converger
	flags     controller.FeatureFlags
	legacy    controller.LegacyLauncher
	gateway   cloud.ComputeGateway
	audit     *audit.Logger
	logger    *zap.Logger
}

// NewHandler builds a Handler. gateway, used only for the health probe,
// may be nil (health then always reports ok).
func NewHandler(st store.Store, converger controller.Converger, flags controller.FeatureFlags, legacy controller.LegacyLauncher, gateway cloud.ComputeGateway, auditLogger *audit.Logger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLogger == nil {
		auditLogger = audit.NewLogger(logger)
	}
	return &Handler{store: st, converger: converger, flags: flags, legacy: legacy, gateway: gateway, audit: auditLogger, logger: logger}
}

// Routes mounts every handled route on a fresh chi.Router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.requestIDPropagation)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)

	r.Route("/tenants/{tenantID}/groups", func(r chi.Router) {
		r.Get("/", h.handleListGroups)
		r.Route("/{groupID}", func(r chi.Router) {
			r.Get("/", h.handleGetGroup)
			r.Put("/", h.handlePutGroup)
			r.Delete("/", h.handleDeleteGroup)
			r.Post("/policies/{policyID}/execute", h.handleExecutePolicy)
		})
	})

	return r
}

// requestIDPropagation threads chi's request id into the logging
// correlation-id context key every downstream log/audit call reads.
func (h *Handler) requestIDPropagation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = context.WithValue(ctx, logging.RequestIDKey, id)
		} else {
			ctx = logging.WithRequestID(ctx)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.gateway != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if _, err := h.gateway.ListServers(ctx, "healthz-probe"); err != nil {
			if apiErr, ok := err.(*model.APIError); ok && apiErr.IsNotFound() {
				// a 404 for a synthetic probe group still proves the
				// gateway is reachable.
			} else {
				respondError(w, http.StatusServiceUnavailable, "gateway_unreachable", err.Error())
				return
			}
		}
	}
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListGroups(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	groups, err := h.store.ListGroups(r.Context(), tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respond(w, http.StatusOK, groups)
}

func (h *Handler) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	tenantID, groupID := chi.URLParam(r, "tenantID"), chi.URLParam(r, "groupID")
	group, err := h.store.GetGroup(r.Context(), tenantID, groupID)
	if err != nil {
		if _, ok := err.(*model.NoSuchGroupError); ok {
			respondError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respond(w, http.StatusOK, group)
}

// groupRequest is the PUT body: a group's launch template, bounds, and
// policies, without the path-derived tenant/group ids.
type groupRequest struct {
	LaunchTemplate model.LaunchTemplate    `json:"launchTemplate"`
	Config         model.GroupConfig       `json:"config"`
	Policies       map[string]model.Policy `json:"policies"`
}

func (h *Handler) handlePutGroup(w http.ResponseWriter, r *http.Request) {
	tenantID, groupID := chi.URLParam(r, "tenantID"), chi.URLParam(r, "groupID")

	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	group := &model.ScalingGroup{
		TenantID:       tenantID,
		GroupID:        groupID,
		LaunchTemplate: req.LaunchTemplate,
		Config:         req.Config,
		Policies:       req.Policies,
	}
	if err := h.store.PutGroup(r.Context(), group); err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	state, err := h.store.GetGroupState(r.Context(), groupID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if err := controller.ObeyConfigChange(r.Context(), *group, state, h.converger, h.flags, h.legacy, h.audit, h.logger, time.Now()); err != nil {
		h.logger.Warn("obey config change failed", zap.String("groupID", groupID), zap.Error(err))
	}
	if err := h.store.PutGroupState(r.Context(), groupID, state); err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	respond(w, http.StatusOK, group)
}

func (h *Handler) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	tenantID, groupID := chi.URLParam(r, "tenantID"), chi.URLParam(r, "groupID")
	if err := h.store.DeleteGroup(r.Context(), tenantID, groupID); err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleExecutePolicy(w http.ResponseWriter, r *http.Request) {
	tenantID, groupID, policyID := chi.URLParam(r, "tenantID"), chi.URLParam(r, "groupID"), chi.URLParam(r, "policyID")

	group, err := h.store.GetGroup(r.Context(), tenantID, groupID)
	if err != nil {
		if _, ok := err.(*model.NoSuchGroupError); ok {
			respondError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	state, err := h.store.GetGroupState(r.Context(), groupID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	err = controller.MaybeExecutePolicy(r.Context(), *group, state, policyID, h.converger, h.flags, h.legacy, h.audit, h.logger, time.Now())
	switch e := err.(type) {
	case nil:
		if putErr := h.store.PutGroupState(r.Context(), groupID, state); putErr != nil {
			respondError(w, http.StatusInternalServerError, "internal_error", putErr.Error())
			return
		}
		respond(w, http.StatusAccepted, map[string]interface{}{"desired": state.Desired})
	case *model.NoSuchPolicyError:
		respondError(w, http.StatusNotFound, "not_found", e.Error())
	case *model.CannotExecutePolicyError:
		respondError(w, http.StatusConflict, "cannot_execute", e.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
