package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"aura/internal/auth"
	"aura/internal/store"
)

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	BetaKey  string `json:"beta_key" binding:"required"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid request body: %v", err)
		return
	}
	if req.BetaKey != s.cfg.BetaAccessKey {
		detail(c, http.StatusForbidden, "Invalid Beta Key")
		return
	}
	user, err := s.store.CreateUser(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			detail(c, http.StatusBadRequest, "Email already registered")
			return
		}
		detail(c, http.StatusInternalServerError, "failed to register user")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "email": user.Email})
}

// login exchanges form credentials for a bearer token. The form field is
// named "username" but carries the account email.
func (s *Server) login(c *gin.Context) {
	email := c.PostForm("username")
	password := c.PostForm("password")
	user, err := s.store.Authenticate(email, password)
	if err != nil {
		c.Header("WWW-Authenticate", "Bearer")
		detail(c, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		s.log.Error("issue token for user %d: %v", user.ID, err)
		detail(c, http.StatusInternalServerError, "failed to issue token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

func (s *Server) currentUser(c *gin.Context) {
	user, err := s.store.GetUserByID(auth.UserID(c))
	if err != nil {
		detail(c, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": user.ID, "email": user.Email})
}
