package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"aura/internal/auth"
	"aura/internal/store"
)

// modelsToDisplay defines the models offered per provider. Some entries are
// newer than the provider APIs currently serve; the gateway passes the name
// through untouched, so they light up as soon as the provider does.
var modelsToDisplay = map[string][]string{
	"openai":    {"gpt-4o", "gpt-4-turbo", "gpt-5"},
	"google":    {"gemini-1.5-pro-latest", "gemini-2.5-pro", "gemini-2.5-flash"},
	"anthropic": {"claude-3.5-sonnet-20240620", "claude-3-opus-20240229"},
	"deepseek":  {"deepseek-chat", "deepseek-reasoning", "deepseek-coder"},
}

// maskAPIKey renders a key safe for display. Keys with underscore-separated
// prefixes (sk_live_..., etc) keep the prefix and the last four characters.
func maskAPIKey(key string) string {
	if key == "" {
		return "ERROR_NO_KEY"
	}
	if len(key) < 8 {
		return "********"
	}
	if prefix, rest, ok := strings.Cut(key, "_"); ok {
		parts := strings.Split(rest, "_")
		suffix := parts[len(parts)-1]
		if len(suffix) > 4 {
			suffix = suffix[len(suffix)-4:]
		}
		return fmt.Sprintf("%s_...%s", prefix, suffix)
	}
	return fmt.Sprintf("%s...%s", key[:4], key[len(key)-4:])
}

type providerKeyRequest struct {
	ProviderName string `json:"provider_name" binding:"required"`
	APIKey       string `json:"api_key" binding:"required"`
}

func (s *Server) upsertProviderKey(c *gin.Context) {
	var req providerKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid request body: %v", err)
		return
	}
	provider := strings.ToLower(strings.TrimSpace(req.ProviderName))
	if provider == "" {
		detail(c, http.StatusBadRequest, "Provider name cannot be empty.")
		return
	}
	if err := s.store.UpsertProviderKey(auth.UserID(c), provider, req.APIKey); err != nil {
		s.log.Error("save provider key: %v", err)
		detail(c, http.StatusInternalServerError, "failed to save API key")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"provider_name": provider,
		"masked_key":    maskAPIKey(req.APIKey),
	})
}

func (s *Server) listProviderKeys(c *gin.Context) {
	userID := auth.UserID(c)
	providers, err := s.store.ListProviders(userID)
	if err != nil {
		detail(c, http.StatusInternalServerError, "failed to list API keys")
		return
	}
	keys := make([]gin.H, 0, len(providers))
	for _, provider := range providers {
		// Decrypted only long enough to mask it for display.
		plaintext, err := s.store.GetProviderKey(userID, provider)
		if err != nil {
			continue
		}
		keys = append(keys, gin.H{"provider_name": provider, "masked_key": maskAPIKey(plaintext)})
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

func (s *Server) deleteProviderKey(c *gin.Context) {
	provider := c.Param("provider_name")
	if err := s.store.DeleteProviderKey(auth.UserID(c), provider); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			detail(c, http.StatusNotFound, "API key for provider '%s' not found.", provider)
			return
		}
		detail(c, http.StatusInternalServerError, "failed to delete API key")
		return
	}
	c.Status(http.StatusNoContent)
}

// availableModels lists the assignable models, limited to providers the user
// has configured a key for.
func (s *Server) availableModels(c *gin.Context) {
	providers, err := s.store.ListProviders(auth.UserID(c))
	if err != nil {
		detail(c, http.StatusInternalServerError, "failed to list providers")
		return
	}
	configured := make(map[string]bool, len(providers))
	for _, p := range providers {
		configured[p] = true
	}
	available := map[string][]string{}
	for provider, models := range modelsToDisplay {
		if configured[provider] {
			available[provider] = models
		}
	}
	c.JSON(http.StatusOK, gin.H{"models": available})
}

func (s *Server) listAssignments(c *gin.Context) {
	assignments, err := s.store.ListAssignments(auth.UserID(c))
	if err != nil {
		detail(c, http.StatusInternalServerError, "failed to list assignments")
		return
	}
	if assignments == nil {
		assignments = []store.Assignment{}
	}
	c.JSON(http.StatusOK, gin.H{"assignments": assignments})
}

type assignmentsUpdateRequest struct {
	Assignments []store.Assignment `json:"assignments" binding:"required"`
}

func (s *Server) updateAssignments(c *gin.Context) {
	var req assignmentsUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid request body: %v", err)
		return
	}
	for _, a := range req.Assignments {
		if a.RoleName == "" || a.ModelID == "" {
			detail(c, http.StatusUnprocessableEntity, "assignment is missing role_name or model_id")
			return
		}
		if a.Temperature < 0 || a.Temperature > 2 {
			detail(c, http.StatusUnprocessableEntity,
				"temperature for role '%s' must be between 0 and 2", a.RoleName)
			return
		}
	}
	userID := auth.UserID(c)
	for _, a := range req.Assignments {
		if err := s.store.UpsertAssignment(userID, a); err != nil {
			detail(c, http.StatusInternalServerError, "An error occurred while saving assignments: %v", err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}
