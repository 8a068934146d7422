package controllers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/habits/middleware"
)

func newAuthRouter(t *testing.T) *gin.Engine {
	t.Helper()
	ac := NewAuthController(newTestDB(t))
	r := gin.New()
	g := r.Group("/api/v1/auth")
	g.POST("/register", ac.Register)
	g.POST("/login", ac.Login)
	g.POST("/logout", middleware.AuthRequired(), ac.Logout)
	g.GET("/me", middleware.AuthRequired(), ac.Me)
	return r
}

type authData struct {
	Token string `json:"token"`
	User  struct {
		ID       uint   `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	} `json:"user"`
}

func TestRegisterLoginLogout(t *testing.T) {
	r := newAuthRouter(t)

	w, env := do(t, r, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "ada",
		"email":    "Ada@Example.com",
		"password": "s3cret-pass",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var reg authData
	require.NoError(t, json.Unmarshal(env.Data, &reg))
	assert.NotEmpty(t, reg.Token)
	assert.Equal(t, "ada@example.com", reg.User.Email)
	assert.NotContains(t, string(env.Data), "password")

	w, env = do(t, r, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": "ada",
		"email":    "other@example.com",
		"password": "s3cret-pass",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 40901, env.Code)

	w, env = do(t, r, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "ada@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40106, env.Code)

	w, env = do(t, r, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "ada", "password": "s3cret-pass"})
	require.Equal(t, http.StatusOK, w.Code)
	var login authData
	require.NoError(t, json.Unmarshal(env.Data, &login))
	auth := "Bearer " + login.Token

	w, env = do(t, r, http.MethodGet, "/api/v1/auth/me", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"username":"ada"`)

	w, _ = do(t, r, http.MethodPost, "/api/v1/auth/logout", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, r, http.MethodGet, "/api/v1/auth/me", auth, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40104, env.Code)
}

func TestRegisterValidation(t *testing.T) {
	r := newAuthRouter(t)

	cases := []struct {
		name string
		body map[string]string
		code int
	}{
		{"short password", map[string]string{"username": "ada", "email": "ada@example.com", "password": "123"}, 40001},
		{"bad email", map[string]string{"username": "ada", "email": "nope", "password": "s3cret-pass"}, 40001},
		{"bad username", map[string]string{"username": "ada lovelace", "email": "ada@example.com", "password": "s3cret-pass"}, 40002},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, env := do(t, r, http.MethodPost, "/api/v1/auth/register", "", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tc.code, env.Code)
		})
	}
}

func TestLoginRequiresIdentifier(t *testing.T) {
	r := newAuthRouter(t)
	w, env := do(t, r, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"password": "s3cret-pass"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40003, env.Code)
}
