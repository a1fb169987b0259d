package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/CovCube/server/internal/audit"
	"github.com/CovCube/server/internal/auth"
)

// createTokenRequest is the request body for POST /tokens. The owner
// defaults to the caller.
type createTokenRequest struct {
	Owner string `json:"owner"`
}

// tokenExchangeRequest is the request body for POST /auth/token.
type tokenExchangeRequest struct {
	Token string `json:"token" validate:"required,len=32,hexadecimal"`
}

// tokenExchangeResponse is the response body for POST /auth/token.
type tokenExchangeResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.tokens.List(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err, "failed to list tokens")
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// handleCreateToken mints a token. The raw value is in this response only.
func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if r.ContentLength != 0 && !s.decodeBody(w, r, &req) {
		return
	}
	if req.Owner == "" {
		req.Owner = ownerFrom(r.Context())
	}

	tok, err := s.tokens.Create(r.Context(), req.Owner)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to create token")
		return
	}
	s.logger.Info("api token created", "prefix", tok.Prefix, "owner", tok.Owner,
		"by", ownerFrom(r.Context()))
	s.recordAudit(r, audit.ActionCreate, audit.EntityToken, tok.Prefix, map[string]any{"owner": tok.Owner})
	writeJSON(w, http.StatusCreated, tok)
}

func (s *Server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	prefix := chi.URLParam(r, "prefix")
	if err := s.tokens.DeleteByPrefix(r.Context(), prefix); err != nil {
		s.writeDomainError(w, r, err, "failed to delete token")
		return
	}
	s.logger.Info("api token deleted", "prefix", prefix, "by", ownerFrom(r.Context()))
	s.recordAudit(r, audit.ActionDelete, audit.EntityToken, prefix, nil)
	writeJSON(w, http.StatusOK, map[string]string{"prefix": prefix, "status": "deleted"})
}

// handleTokenExchange trades an API token for a short-lived access token.
func (s *Server) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	var req tokenExchangeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	tok, err := s.tokens.Validate(r.Context(), req.Token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenInvalid) {
			writeUnauthorized(w, "invalid token")
			return
		}
		s.writeDomainError(w, r, err, "failed to validate token")
		return
	}

	ttl := time.Duration(s.secCfg.JWT.AccessTokenTTL) * time.Minute
	access, expires, err := auth.GenerateAccessToken(tok.Owner, tok.Prefix, s.secCfg.JWT.Secret, ttl)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to issue access token")
		return
	}

	writeJSON(w, http.StatusOK, tokenExchangeResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(expires).Seconds() + 0.5),
	})
}
