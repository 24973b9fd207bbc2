package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aeolun/allchat/pkg/auth"
	"github.com/aeolun/allchat/pkg/database"
	"github.com/aeolun/allchat/pkg/protocol"
)

// credentialsRequest is the body of register and login requests
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Token   string `json:"token,omitempty"`
}

const maxCredentialsBody = 4096

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		errorLog.Printf("Error encoding JSON response: %v", err)
	}
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, error) {
	var req credentialsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCredentialsBody)).Decode(&req); err != nil {
		return req, err
	}
	req.Username = strings.TrimSpace(req.Username)
	return req, nil
}

// RegisterHandler creates an account. The new username is added to the
// directory and announced to every online session.
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "Invalid request body"})
		return
	}

	if err := protocol.ValidateUsername(req.Username); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: err.Error()})
		return
	}
	if err := protocol.ValidatePassword(req.Password); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: err.Error()})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		errorLog.Printf("Failed to hash password: %v", err)
		writeJSON(w, http.StatusInternalServerError, apiResponse{Message: "Registration failed"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.StoreTimeout)
	defer cancel()

	user, err := s.db.CreateUser(ctx, req.Username, hash)
	if errors.Is(err, database.ErrUsernameTaken) {
		writeJSON(w, http.StatusConflict, apiResponse{Message: "Username already exists"})
		return
	}
	if err != nil {
		errorLog.Printf("Failed to create user %s: %v", req.Username, err)
		writeJSON(w, http.StatusInternalServerError, apiResponse{Message: "Registration failed"})
		return
	}

	if s.directory.Register(user.Username, user.ID) {
		s.broadcastUserList()
	}
	debugLog.Printf("Registered user %s (id %d)", user.Username, user.ID)

	writeJSON(w, http.StatusCreated, apiResponse{Success: true, Message: "User registered successfully"})
}

// LoginHandler checks credentials and returns a signed token
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "Invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.StoreTimeout)
	defer cancel()

	user, err := s.db.GetUserByUsername(ctx, req.Username)
	if errors.Is(err, database.ErrUserNotFound) {
		writeJSON(w, http.StatusUnauthorized, apiResponse{Message: "Invalid username or password"})
		return
	}
	if err != nil {
		errorLog.Printf("Failed to load user %s: %v", req.Username, err)
		writeJSON(w, http.StatusInternalServerError, apiResponse{Message: "Login failed"})
		return
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeJSON(w, http.StatusUnauthorized, apiResponse{Message: "Invalid username or password"})
		return
	}

	token, err := s.tokens.GenerateToken(auth.Identity{ID: user.ID, Username: user.Username})
	if err != nil {
		errorLog.Printf("Failed to sign token for %s: %v", user.Username, err)
		writeJSON(w, http.StatusInternalServerError, apiResponse{Message: "Login failed"})
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{Success: true, Token: token})
}

// HealthHandler serves health check status
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	health := map[string]interface{}{
		"status":           "healthy",
		"uptime_seconds":   int64(time.Since(s.startTime).Seconds()),
		"active_sessions":  s.presence.Count(),
		"registered_users": s.directory.Len(),
	}

	if err := s.db.Ping(ctx); err != nil {
		health["status"] = "degraded"
		health["database_accessible"] = false
		status = http.StatusServiceUnavailable
	} else {
		health["database_accessible"] = true
	}

	writeJSON(w, status, health)
}
