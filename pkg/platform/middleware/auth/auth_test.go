package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	id "parley/pkg/domain"
	dErrors "parley/pkg/domain-errors"
	"parley/pkg/platform/middleware/auth/mocks"
	"parley/pkg/requestcontext"
)

//go:generate mockgen -source=auth.go -destination=mocks/auth-mocks.go -package=mocks TokenValidator,TokenRevocationChecker

type GuardSuite struct {
	suite.Suite
	ctx       context.Context
	validator *mocks.MockTokenValidator
	checker   *mocks.MockTokenRevocationChecker
	logger    *slog.Logger
	principal id.Principal
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardSuite))
}

func (s *GuardSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.ctx = context.Background()
	s.validator = mocks.NewMockTokenValidator(ctrl)
	s.checker = mocks.NewMockTokenRevocationChecker(ctrl)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.principal = id.Principal{UserID: id.NewUserID(), Username: "alice", TokenID: "jti-1"}
}

func (s *GuardSuite) TestAuthenticate_MissingCredential() {
	guard := NewGuard(s.validator)
	for _, header := range []string{"", "   "} {
		_, err := guard.Authenticate(s.ctx, header)
		s.ErrorIs(err, ErrMissingCredential)
	}
}

func (s *GuardSuite) TestAuthenticate_MalformedCredential() {
	guard := NewGuard(s.validator)
	for _, header := range []string{
		"Basic dXNlcjpwYXNz",
		"Bearer",
		"Bearer ",
		"Bearer a b",
		"Token abc",
		"abc.def.ghi",
	} {
		_, err := guard.Authenticate(s.ctx, header)
		s.ErrorIs(err, ErrMalformedCredential, header)
	}
}

func (s *GuardSuite) TestAuthenticate_SchemeIsCaseInsensitive() {
	guard := NewGuard(s.validator)
	for _, header := range []string{"Bearer tok", "bearer tok", "BEARER tok", "bEaReR tok"} {
		s.validator.EXPECT().ValidateToken("tok").Return(s.principal, nil)
		principal, err := guard.Authenticate(s.ctx, header)
		s.Require().NoError(err, header)
		s.Equal(s.principal, principal)
	}
}

func (s *GuardSuite) TestAuthenticate_TokenIsCaseSensitive() {
	guard := NewGuard(s.validator)
	s.validator.EXPECT().ValidateToken("AbC").Return(s.principal, nil)

	_, err := guard.Authenticate(s.ctx, "Bearer AbC")
	s.NoError(err)
}

func (s *GuardSuite) TestAuthenticate_InvalidOrExpired() {
	guard := NewGuard(s.validator)
	s.validator.EXPECT().ValidateToken("expired").
		Return(id.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired"))

	_, err := guard.Authenticate(s.ctx, "Bearer expired")
	s.ErrorIs(err, ErrInvalidOrExpired)
	s.ErrorIs(err, dErrors.New(dErrors.CodeUnauthorized, "token has expired"))
}

func (s *GuardSuite) TestAuthenticate_Revocation() {
	guard := NewGuard(s.validator, WithRevocationChecker(s.checker))

	s.Run("revoked token is rejected", func() {
		s.validator.EXPECT().ValidateToken("tok").Return(s.principal, nil)
		s.checker.EXPECT().IsTokenRevoked(gomock.Any(), "jti-1").Return(true, nil)

		_, err := guard.Authenticate(s.ctx, "Bearer tok")
		s.ErrorIs(err, ErrInvalidOrExpired)
	})

	s.Run("token without jti is rejected", func() {
		s.validator.EXPECT().ValidateToken("tok").Return(id.Principal{UserID: s.principal.UserID}, nil)

		_, err := guard.Authenticate(s.ctx, "Bearer tok")
		s.ErrorIs(err, ErrInvalidOrExpired)
	})

	s.Run("checker failure is unavailable, not unauthorized", func() {
		s.validator.EXPECT().ValidateToken("tok").Return(s.principal, nil)
		s.checker.EXPECT().IsTokenRevoked(gomock.Any(), "jti-1").Return(false, errors.New("redis down"))

		_, err := guard.Authenticate(s.ctx, "Bearer tok")
		s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
		s.False(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("live token passes", func() {
		s.validator.EXPECT().ValidateToken("tok").Return(s.principal, nil)
		s.checker.EXPECT().IsTokenRevoked(gomock.Any(), "jti-1").Return(false, nil)

		principal, err := guard.Authenticate(s.ctx, "Bearer tok")
		s.NoError(err)
		s.Equal(s.principal.UserID, principal.UserID)
	})
}

func (s *GuardSuite) TestRequireAuth() {
	guard := NewGuard(s.validator)

	var seen id.Principal
	var seenBearer string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestcontext.Principal(r.Context())
		seenBearer = requestcontext.Bearer(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireAuth(guard, s.logger)(next)

	s.Run("no header is 401 with challenge", func() {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/users/me", nil))

		s.Equal(http.StatusUnauthorized, rr.Code)
		s.Contains(rr.Header().Get("WWW-Authenticate"), "Bearer")
		var body map[string]string
		s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &body))
		s.Equal("unauthorized", body["error"])
		s.Equal("missing authorization header", body["error_description"])
	})

	s.Run("bad token is 401", func() {
		s.validator.EXPECT().ValidateToken("bad").Return(id.Principal{}, errors.New("invalid"))
		req := httptest.NewRequest(http.MethodGet, "/v1/users/me", nil)
		req.Header.Set("Authorization", "Bearer bad")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		s.Equal(http.StatusUnauthorized, rr.Code)
	})

	s.Run("valid token reaches handler with principal and raw header", func() {
		s.validator.EXPECT().ValidateToken("good").Return(s.principal, nil)
		req := httptest.NewRequest(http.MethodGet, "/v1/users/me", nil)
		req.Header.Set("Authorization", "bearer good")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		s.Equal(http.StatusOK, rr.Code)
		s.Equal(s.principal.UserID, seen.UserID)
		s.Equal("bearer good", seenBearer)
	})
}

func (s *GuardSuite) TestRequireAuth_RevocationOutageIs503() {
	guard := NewGuard(s.validator, WithRevocationChecker(s.checker))
	s.validator.EXPECT().ValidateToken("tok").Return(s.principal, nil)
	s.checker.EXPECT().IsTokenRevoked(gomock.Any(), "jti-1").Return(false, errors.New("timeout"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rr := httptest.NewRecorder()
	RequireAuth(guard, s.logger)(http.NotFoundHandler()).ServeHTTP(rr, req)

	s.Equal(http.StatusServiceUnavailable, rr.Code)
	s.Empty(rr.Header().Get("WWW-Authenticate"))
}

func TestOptionalAuth(t *testing.T) {
	ctrl := gomock.NewController(t)
	validator := mocks.NewMockTokenValidator(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	principal := id.Principal{UserID: id.NewUserID(), Username: "bob"}

	var anonymous bool
	var seen id.Principal
	handler := OptionalAuth(NewGuard(validator), logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, anonymous = requestcontext.Principal(r.Context())
		anonymous = !anonymous
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("no credential is anonymous", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/search/messages", nil))
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.True(t, anonymous)
	})

	t.Run("invalid credential is anonymous", func(t *testing.T) {
		validator.EXPECT().ValidateToken("junk").Return(id.Principal{}, errors.New("malformed"))
		req := httptest.NewRequest(http.MethodPost, "/search/messages", nil)
		req.Header.Set("Authorization", "Bearer junk")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.True(t, anonymous)
	})

	t.Run("wrong scheme is anonymous", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/search/messages", nil)
		req.Header.Set("Authorization", "Basic abc")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.True(t, anonymous)
	})

	t.Run("valid credential is authenticated", func(t *testing.T) {
		validator.EXPECT().ValidateToken("good").Return(principal, nil)
		req := httptest.NewRequest(http.MethodPost, "/search/messages", nil)
		req.Header.Set("Authorization", "Bearer good")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusNoContent, rr.Code)
		assert.False(t, anonymous)
		assert.Equal(t, "bob", seen.Username)
	})
}
