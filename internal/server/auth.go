package server

import (
	"context"
	"net/http"

	"retriever-agent/internal/common/auth"
	"retriever-agent/internal/common/errors"
	"retriever-agent/internal/retriever"
)

// TokenValidator is implemented by *auth.KeycloakClient.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.TokenInfo, error)
}

type subjectKey struct{}

func subjectFrom(ctx context.Context) string {
	sub, _ := ctx.Value(subjectKey{}).(string)
	return sub
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	if s.config.Auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := s.config.Auth.ValidateToken(r.Context(), auth.BearerToken(r.Header.Get("Authorization")))
		if err != nil {
			status := http.StatusUnauthorized
			if errors.CodeOf(err) != errors.ErrCodeAuthentication {
				status = http.StatusServiceUnavailable
			}
			stdErr, ok := errors.As(err)
			if !ok {
				stdErr = errors.NewExternalServiceError("auth", err)
			}
			s.logger.Warn("unauthenticated request", map[string]interface{}{
				"path":      r.URL.Path,
				"errorCode": string(stdErr.Code),
			})
			writeJSON(w, status, errorBody{
				Success: false,
				Error:   retriever.ErrorInfo{Code: string(stdErr.Code), Message: stdErr.Message},
			})
			return
		}
		ctx := context.WithValue(r.Context(), subjectKey{}, info.Subject())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
