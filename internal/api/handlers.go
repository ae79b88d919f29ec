/**
 * @description
 * This file contains the HTTP handler functions for the subscription-service.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate business logic in the service layer, and writing the HTTP
 * response. Sentinel errors from the service and store layers are mapped to
 * HTTP status codes here.
 */
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/subhub/subscription-service/internal/app"
	"github.com/subhub/subscription-service/internal/domain"
	"github.com/subhub/subscription-service/internal/store"
)

// Handler holds the application services that handlers interact with.
type Handler struct {
	service *app.Service
	auth    *app.AuthService
}

// NewHandler creates a new Handler with the given services.
func NewHandler(service *app.Service, auth *app.AuthService) *Handler {
	return &Handler{service: service, auth: auth}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string         `json:"token"`
	User  authUserDetail `json:"user"`
}

type authUserDetail struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

type planIDRequest struct {
	PlanID string `json:"plan_id"`
}

// handleRegister creates a new user account and returns a token.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		http.Error(w, "name, email and password are required", http.StatusBadRequest)
		return
	}

	result, err := h.auth.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			http.Error(w, "Email already registered", http.StatusConflict)
			return
		}
		http.Error(w, "Registration failed", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusCreated, authResponse{
		Token: result.Token,
		User:  authUserDetail{ID: result.User.ID, Name: result.User.Name, Email: result.User.Email},
	})
}

// handleLogin validates credentials and returns a token.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, app.ErrInvalidCredentials) {
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		http.Error(w, "Login failed", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, authResponse{
		Token: result.Token,
		User:  authUserDetail{ID: result.User.ID, Name: result.User.Name, Email: result.User.Email},
	})
}

// handleListPlans returns the purchasable plan catalog.
func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.ListPlans(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch plans", http.StatusInternalServerError)
		return
	}
	if plans == nil {
		plans = []domain.Plan{}
	}
	respondWithJSON(w, http.StatusOK, plans)
}

// handleCreateSubscription subscribes the authenticated user to a plan.
func (h *Handler) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	planID, ok := decodePlanID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.CreateSubscription(r.Context(), userID, planID)
	if err != nil {
		h.respondSubscriptionError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, sub)
}

// handleGetSubscription returns the authenticated user's subscription, with
// plan details attached when a plan is set.
func (h *Handler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	view, err := h.service.GetSubscription(r.Context(), userID)
	if err != nil {
		h.respondSubscriptionError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

// handleUpdateSubscription switches the authenticated user onto a new plan.
func (h *Handler) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	planID, ok := decodePlanID(w, r)
	if !ok {
		return
	}

	sub, err := h.service.UpdateSubscription(r.Context(), userID, planID)
	if err != nil {
		h.respondSubscriptionError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

// handleCancelSubscription cancels the authenticated user's active subscription.
func (h *Handler) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sub, err := h.service.CancelSubscription(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			http.Error(w, "Active subscription not found", http.StatusNotFound)
			return
		}
		h.respondSubscriptionError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

// respondSubscriptionError maps service and store errors to HTTP status codes.
func (h *Handler) respondSubscriptionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		http.Error(w, "User not found", http.StatusNotFound)
	case errors.Is(err, store.ErrPlanNotFound):
		http.Error(w, "Plan not found", http.StatusNotFound)
	case errors.Is(err, store.ErrSubscriptionNotFound):
		http.Error(w, "Subscription not found", http.StatusNotFound)
	case errors.Is(err, app.ErrSubscriptionConflict):
		http.Error(w, "Subscription already exists.", http.StatusConflict)
	default:
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func decodePlanID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	var req planIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return uuid.Nil, false
	}
	if req.PlanID == "" {
		http.Error(w, "plan_id is required", http.StatusBadRequest)
		return uuid.Nil, false
	}
	planID, err := uuid.Parse(req.PlanID)
	if err != nil {
		http.Error(w, "plan_id must be a valid UUID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return planID, true
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
