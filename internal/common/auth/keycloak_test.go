package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retriever-agent/internal/common/errors"
)

func newFakeKeycloak(t *testing.T, status int, info TokenInfo) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/realms/rag/protocol/openid-connect/token/introspect", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "retriever", r.PostForm.Get("client_id"))
		assert.Equal(t, "s3cret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "tok-1", r.PostForm.Get("token"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(info)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestKeycloakClient_ValidateToken(t *testing.T) {
	t.Run("active token", func(t *testing.T) {
		srv := newFakeKeycloak(t, http.StatusOK, TokenInfo{Active: true, Sub: "user-42", Username: "ana"})
		kc := NewKeycloakClient(srv.URL+"/", "rag", "retriever", "s3cret", nil)

		info, err := kc.ValidateToken(context.Background(), "tok-1")
		require.NoError(t, err)
		assert.Equal(t, "user-42", info.Subject())
	})

	t.Run("inactive token", func(t *testing.T) {
		srv := newFakeKeycloak(t, http.StatusOK, TokenInfo{Active: false})
		kc := NewKeycloakClient(srv.URL, "rag", "retriever", "s3cret", nil)

		_, err := kc.ValidateToken(context.Background(), "tok-1")
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeAuthentication, errors.CodeOf(err))
	})

	t.Run("server error is retryable", func(t *testing.T) {
		srv := newFakeKeycloak(t, http.StatusServiceUnavailable, TokenInfo{})
		kc := NewKeycloakClient(srv.URL, "rag", "retriever", "s3cret", nil)

		_, err := kc.ValidateToken(context.Background(), "tok-1")
		stdErr, ok := errors.As(err)
		require.True(t, ok)
		assert.Equal(t, errors.ErrCodeExternalService, stdErr.Code)
		assert.True(t, stdErr.Retryable)
	})

	t.Run("missing token", func(t *testing.T) {
		kc := NewKeycloakClient("http://unused", "rag", "retriever", "s3cret", nil)
		_, err := kc.ValidateToken(context.Background(), "")
		assert.Equal(t, errors.ErrCodeAuthentication, errors.CodeOf(err))
	})
}

func TestTokenInfo_Subject(t *testing.T) {
	assert.Equal(t, "ana", (&TokenInfo{Username: "ana", ClientID: "svc"}).Subject())
	assert.Equal(t, "svc", (&TokenInfo{ClientID: "svc"}).Subject())
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc"))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken("Bearer "))
	assert.Empty(t, BearerToken(""))
}
