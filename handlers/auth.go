package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"bloodlink-push/middleware"
	"bloodlink-push/store"
)

type tokenResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func issueToken(c *gin.Context, status int, username, role string) {
	token, err := middleware.GenerateToken(username, role)
	if err != nil {
		fail(c, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	ok(c, status, tokenResponse{
		Token:     token,
		Username:  username,
		Role:      role,
		ExpiresAt: time.Now().Add(middleware.TokenTTL).UTC(),
	})
}

func LoginHandler(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}

		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Invalid request")
			return
		}

		user, err := s.GetUser(c.Request.Context(), req.Username)
		if err != nil {
			fail(c, http.StatusInternalServerError, "Internal server error")
			return
		}
		if user == nil {
			fail(c, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			fail(c, http.StatusUnauthorized, "Invalid credentials")
			return
		}

		issueToken(c, http.StatusOK, user.Username, user.Role)
	}
}

func RefreshHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := middleware.GetUsername(c)
		role := middleware.GetRole(c)

		if username == "" || role == "" {
			fail(c, http.StatusUnauthorized, "Invalid token")
			return
		}

		issueToken(c, http.StatusOK, username, role)
	}
}

func CreateUserHandler(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
			Role     string `json:"role"`
		}

		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "Invalid request")
			return
		}

		if req.Role == "" {
			req.Role = middleware.RoleDonor
		}
		if !middleware.ValidRole(req.Role) {
			fail(c, http.StatusBadRequest, "Invalid role. Must be admin, dispatcher, or donor")
			return
		}

		ctx := c.Request.Context()
		existing, err := s.GetUser(ctx, req.Username)
		if err != nil {
			fail(c, http.StatusInternalServerError, "Failed to check user")
			return
		}
		if existing != nil {
			fail(c, http.StatusConflict, "User already exists")
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			fail(c, http.StatusInternalServerError, "Failed to hash password")
			return
		}

		if err := s.CreateUser(ctx, req.Username, string(hash), req.Role); err != nil {
			fail(c, http.StatusInternalServerError, "Failed to create user")
			return
		}

		ok(c, http.StatusCreated, gin.H{"username": req.Username, "role": req.Role})
	}
}

func DeleteUserHandler(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.Param("username")
		if username == "" {
			fail(c, http.StatusBadRequest, "Username required")
			return
		}

		if middleware.GetUsername(c) == username {
			fail(c, http.StatusConflict, "Cannot delete yourself")
			return
		}

		if err := s.DeleteUser(c.Request.Context(), username); err != nil {
			failErr(c, err, "Failed to delete user")
			return
		}

		ok(c, http.StatusOK, gin.H{"username": username})
	}
}

type userResponse struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

func ListUsersHandler(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := s.ListUsers(c.Request.Context())
		if err != nil {
			fail(c, http.StatusInternalServerError, "Failed to list users")
			return
		}

		resp := make([]userResponse, 0, len(users))
		for _, u := range users {
			resp = append(resp, userResponse{Username: u.Username, Role: u.Role})
		}

		ok(c, http.StatusOK, resp)
	}
}

func UpdateUserRoleHandler(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.Param("username")
		var req struct {
			Role string `json:"role" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || !middleware.ValidRole(req.Role) {
			fail(c, http.StatusBadRequest, "Invalid role. Must be admin, dispatcher, or donor")
			return
		}

		ctx := c.Request.Context()
		user, err := s.GetUser(ctx, username)
		if err != nil {
			fail(c, http.StatusInternalServerError, "Failed to check user")
			return
		}
		if user == nil {
			fail(c, http.StatusNotFound, "User not found")
			return
		}

		if err := s.UpdateUserRole(ctx, username, req.Role); err != nil {
			fail(c, http.StatusInternalServerError, "Failed to update role")
			return
		}

		ok(c, http.StatusOK, userResponse{Username: username, Role: req.Role})
	}
}

// GetTokenHandler issues a token for an existing user with their stored role.
func GetTokenHandler(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.Param("username")

		user, err := s.GetUser(c.Request.Context(), username)
		if err != nil {
			fail(c, http.StatusInternalServerError, "Failed to check user")
			return
		}
		if user == nil {
			fail(c, http.StatusNotFound, "User not found")
			return
		}

		issueToken(c, http.StatusOK, user.Username, user.Role)
	}
}
