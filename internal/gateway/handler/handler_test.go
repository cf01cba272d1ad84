package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/gateway/forwarder"
	"parley/internal/gateway/routes"
	jwttoken "parley/internal/jwt_token"
	"parley/internal/platform/metrics"
	ratelimit "parley/internal/ratelimit/middleware"
	"parley/internal/ratelimit/models"
	"parley/internal/ratelimit/store/bucket"
	id "parley/pkg/domain"
	"parley/pkg/platform/middleware/auth"
	"parley/pkg/platform/middleware/metadata"
	"parley/pkg/testutil"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   string
}

// fakeBackend records every request and answers with respond.
type fakeBackend struct {
	server  *httptest.Server
	mu      sync.Mutex
	calls   []recorded
	respond func(w http.ResponseWriter, r *http.Request)
}

func newFakeBackend(t *testing.T, status int, body string) *fakeBackend {
	t.Helper()
	b := &fakeBackend{respond: func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.calls = append(b.calls, recorded{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
			Body:   string(raw),
		})
		respond := b.respond
		b.mu.Unlock()
		respond(w, r)
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) setResponder(fn func(w http.ResponseWriter, r *http.Request)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.respond = fn
}

func (b *fakeBackend) requests() []recorded {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recorded(nil), b.calls...)
}

func (b *fakeBackend) last(t *testing.T) recorded {
	t.Helper()
	calls := b.requests()
	require.NotEmpty(t, calls, "backend was not called")
	return calls[len(calls)-1]
}

type gatewayServer struct {
	router   http.Handler
	tokens   *jwttoken.JWTService
	backends map[string]*fakeBackend
}

// newGatewayServer points every backend of the default table at a fake that
// answers 200 {"ok":true}. overrides replace individual base URLs.
func newGatewayServer(t *testing.T, overrides map[string]string, opts ...Option) *gatewayServer {
	t.Helper()
	table := routes.Default()
	backends := map[string]*fakeBackend{}
	urls := map[string]string{}
	for _, b := range table.Backends {
		fb := newFakeBackend(t, http.StatusOK, `{"ok":true}`)
		backends[b.Name] = fb
		urls[b.Name] = fb.server.URL
	}
	for name, url := range overrides {
		urls[name] = url
	}
	require.NoError(t, table.Validate(urls))

	logger := slog.New(slog.DiscardHandler)
	m := metrics.New(prometheus.NewRegistry())
	fwd, err := forwarder.New(urls,
		forwarder.WithTimeout(2*time.Second),
		forwarder.WithLogger(logger),
		forwarder.WithMetrics(m),
	)
	require.NoError(t, err)

	tokens := jwttoken.NewJWTService("gateway-secret")
	opts = append([]Option{
		WithInfo(Info{Service: "api-gateway", Version: "v1", Environment: "test"}),
		WithHealthTimeout(time.Second),
		WithMetrics(m),
	}, opts...)
	h := New(table, fwd, auth.NewGuard(tokens), logger, opts...)
	r := chi.NewRouter()
	h.Register(r)
	return &gatewayServer{router: r, tokens: tokens, backends: backends}
}

func (s *gatewayServer) token(t *testing.T) string {
	t.Helper()
	token, _, err := s.tokens.Encode(id.NewUserID().String(), map[string]any{jwttoken.UsernameClaim: "alice"}, time.Hour)
	require.NoError(t, err)
	return token
}

func TestRegisterIsValidatedThenForwarded(t *testing.T) {
	srv := newGatewayServer(t, nil)
	users := srv.backends[routes.BackendUsers]
	users.setResponder(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"u-1","email":"a@x.com","username":"alice","full_name":null,"is_active":true}`))
	})

	rr := testutil.DoRequest(srv.router, testutil.NewJSONRequest(t, http.MethodPost, "/users/register", map[string]any{
		"email": " a@x.com ", "username": "alice", "password": "S3gura123", "role": "admin",
	}))

	testutil.AssertStatus(t, rr, http.StatusCreated)
	assert.JSONEq(t, `{"id":"u-1","email":"a@x.com","username":"alice","full_name":null,"is_active":true}`, rr.Body.String())

	call := users.last(t)
	assert.Equal(t, http.MethodPost, call.Method)
	assert.Equal(t, "/v1/users/register", call.Path)
	assert.JSONEq(t, `{"email":"a@x.com","username":"alice","password":"S3gura123"}`, call.Body)
}

func TestMalformedTypedBodiesNeverReachBackend(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		backend string
		body    string
	}{
		{name: "register invalid json", path: "/users/register", backend: routes.BackendUsers, body: `{"email":`},
		{name: "register missing email", path: "/users/register", backend: routes.BackendUsers, body: `{"username":"alice","password":"S3gura123"}`},
		{name: "register bad email", path: "/users/register", backend: routes.BackendUsers, body: `{"email":"nope","username":"alice","password":"S3gura123"}`},
		{name: "register wrong type", path: "/users/register", backend: routes.BackendUsers, body: `{"email":"a@x.com","username":42,"password":"S3gura123"}`},
		{name: "login missing password", path: "/users/login", backend: routes.BackendUsers, body: `{"username_or_email":"alice"}`},
		{name: "login empty body", path: "/users/login", backend: routes.BackendUsers, body: ``},
		{name: "chatbot without message", path: "/chatbots/wikipedia/query", backend: routes.BackendChatbotWikipedia, body: `{"language":"es"}`},
		{name: "chatbot message wrong type", path: "/chatbots/programming/chat", backend: routes.BackendChatbotProgramming, body: `{"message":["a"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newGatewayServer(t, nil)

			rr := testutil.DoRequest(srv.router, testutil.NewRequestWithBody(t, http.MethodPost, tt.path, tt.body))

			assert.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Empty(t, srv.backends[tt.backend].requests())
		})
	}
}

func TestLoginAcceptsLegacyFieldNames(t *testing.T) {
	srv := newGatewayServer(t, nil)

	rr := testutil.DoRequest(srv.router, testutil.NewJSONRequest(t, http.MethodPost, "/users/login", map[string]string{
		"username": "alice", "password": "S3gura123",
	}))

	testutil.AssertStatus(t, rr, http.StatusOK)
	call := srv.backends[routes.BackendUsers].last(t)
	assert.Equal(t, "/v1/auth/login", call.Path)
	assert.JSONEq(t, `{"username_or_email":"alice","password":"S3gura123"}`, call.Body)
}

func TestRequiredRoutes(t *testing.T) {
	srv := newGatewayServer(t, nil)
	users := srv.backends[routes.BackendUsers]

	testutil.Given(t, "no credential", func(t *testing.T) {
		rr := testutil.DoRequest(srv.router, testutil.NewJSONRequest(t, http.MethodGet, "/users/me", nil))
		testutil.AssertBearerChallenge(t, rr)
		testutil.AssertErrorCode(t, rr, "unauthorized")
		assert.Empty(t, users.requests())
	})

	testutil.Given(t, "a forged token", func(t *testing.T) {
		forged := jwttoken.NewJWTService("other-secret")
		token, _, err := forged.Encode(id.NewUserID().String(), nil, time.Hour)
		require.NoError(t, err)

		rr := testutil.DoRequest(srv.router, testutil.Authorize(testutil.NewJSONRequest(t, http.MethodGet, "/users/me", nil), token))
		testutil.AssertBearerChallenge(t, rr)
		assert.Empty(t, users.requests())
	})

	testutil.Given(t, "a valid token", func(t *testing.T) {
		token := srv.token(t)
		req := testutil.NewJSONRequest(t, http.MethodGet, "/users/me", nil)
		req.Header.Set("Authorization", "bearer  "+token)

		rr := testutil.DoRequest(srv.router, req)
		testutil.Then(t, "the header reaches the backend byte-for-byte", func(t *testing.T) {
			testutil.AssertStatus(t, rr, http.StatusOK)
			call := users.last(t)
			assert.Equal(t, "/v1/users/me", call.Path)
			assert.Equal(t, "bearer  "+token, call.Auth)
		})
	})
}

func TestBackendRejectionIsRelayedUnchanged(t *testing.T) {
	srv := newGatewayServer(t, nil)
	srv.backends[routes.BackendUsers].setResponder(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("WWW-Authenticate", `Bearer realm="parley"`)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"user not found or inactive"}`))
	})

	rr := testutil.DoRequest(srv.router, testutil.Authorize(testutil.NewJSONRequest(t, http.MethodGet, "/users/me", nil), srv.token(t)))

	testutil.AssertBearerChallenge(t, rr)
	assert.JSONEq(t, `{"error":"unauthorized","error_description":"user not found or inactive"}`, rr.Body.String())
}

func TestOptionalRoutesForwardAnonymousCallers(t *testing.T) {
	srv := newGatewayServer(t, nil)
	search := srv.backends[routes.BackendSearch]

	rr := testutil.DoRequest(srv.router, testutil.NewJSONRequest(t, http.MethodGet, "/search/threads/author/bob%20smith?limit=5", nil))
	testutil.AssertStatus(t, rr, http.StatusOK)
	call := search.last(t)
	assert.Equal(t, "/api/threads/author/bob%20smith", call.Path)
	assert.Equal(t, "limit=5", call.Query)
	assert.Empty(t, call.Auth)

	rr = testutil.DoRequest(srv.router, testutil.Authorize(testutil.NewJSONRequest(t, http.MethodGet, "/search/messages?q=hola", nil), "garbage"))
	testutil.AssertStatus(t, rr, http.StatusOK)
	call = search.last(t)
	assert.Equal(t, "/api/message/search_message", call.Path)
	assert.Equal(t, "q=hola", call.Query)
}

func TestPathParametersAreRewritten(t *testing.T) {
	srv := newGatewayServer(t, nil)
	token := srv.token(t)

	tests := []struct {
		method  string
		path    string
		backend string
		want    string
	}{
		{http.MethodGet, "/channels/c1/members", routes.BackendChannels, "/v1/members/channel/c1"},
		{http.MethodGet, "/channels/members/user/u1", routes.BackendChannels, "/v1/members/u1"},
		{http.MethodPut, "/messages/threads/t1/messages/m1", routes.BackendMessages, "/threads/t1/messages/m1"},
		{http.MethodPost, "/files/f1/download", routes.BackendFiles, "/v1/files/f1/presign-download"},
		{http.MethodDelete, "/moderation/blacklist/w1", routes.BackendModeration, "/api/v1/blacklist/words/w1"},
		{http.MethodGet, "/presence/u1", routes.BackendPresence, "/api/v1.0.0/presence/u1"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := testutil.DoRequest(srv.router, testutil.Authorize(testutil.NewJSONRequest(t, tt.method, tt.path, nil), token))
			testutil.AssertStatus(t, rr, http.StatusOK)
			call := srv.backends[tt.backend].last(t)
			assert.Equal(t, tt.method, call.Method)
			assert.Equal(t, tt.want, call.Path)
		})
	}
}

func TestChatbotPayloadAndReplyAreAdapted(t *testing.T) {
	srv := newGatewayServer(t, nil)
	programming := srv.backends[routes.BackendChatbotProgramming]
	programming.setResponder(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"reply":"use a goroutine"}`))
	})
	wikipedia := srv.backends[routes.BackendChatbotWikipedia]
	wikipedia.setResponder(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"Santiago"}`))
	})

	t.Run("programming question with context", func(t *testing.T) {
		rr := testutil.DoRequest(srv.router, testutil.NewJSONRequest(t, http.MethodPost, "/chatbots/programming/query", map[string]string{
			"question": "how do I fan out?", "context": "go",
		}))
		testutil.AssertStatus(t, rr, http.StatusOK)
		assert.JSONEq(t, `{"answer":"use a goroutine"}`, rr.Body.String())

		call := programming.last(t)
		assert.Equal(t, "/chat", call.Path)
		assert.JSONEq(t, `{"message":"how do I fan out?","context":"go"}`, call.Body)
	})

	t.Run("wikipedia message", func(t *testing.T) {
		rr := testutil.DoRequest(srv.router, testutil.NewJSONRequest(t, http.MethodPost, "/chatbots/wikipedia/query", map[string]string{
			"message": "capital of Chile",
		}))
		testutil.AssertStatus(t, rr, http.StatusOK)
		assert.JSONEq(t, `{"answer":"Santiago"}`, rr.Body.String())
		assert.JSONEq(t, `{"message":"capital of Chile"}`, wikipedia.last(t).Body)
	})

	t.Run("error replies are not rewritten", func(t *testing.T) {
		wikipedia.setResponder(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"message":"model loading"}`))
		})

		rr := testutil.DoRequest(srv.router, testutil.NewJSONRequest(t, http.MethodPost, "/chatbots/wikipedia/query", map[string]string{
			"question": "capital of Peru",
		}))
		testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
		assert.JSONEq(t, `{"message":"model loading"}`, rr.Body.String())
	})
}

func TestUnreachableBackendIsUpstreamUnavailable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	srv := newGatewayServer(t, map[string]string{routes.BackendUsers: deadURL})

	rr := testutil.DoRequest(srv.router, testutil.Authorize(testutil.NewJSONRequest(t, http.MethodGet, "/users/me", nil), srv.token(t)))

	testutil.AssertStatusAndError(t, rr, http.StatusBadGateway, "upstream_unavailable")
	assert.Empty(t, rr.Header().Get("WWW-Authenticate"))
}

func TestHealth(t *testing.T) {
	t.Run("all backends healthy", func(t *testing.T) {
		srv := newGatewayServer(t, nil)

		rr := testutil.DoRequest(srv.router, httptest.NewRequest(http.MethodGet, "/health", nil))

		testutil.AssertStatus(t, rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[GatewayHealthResponse](t, rr)
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "api-gateway", resp.Service)
		assert.Equal(t, "test", resp.Environment)
		assert.Len(t, resp.Backends, len(routes.Default().Backends))
		for name, status := range resp.Backends {
			assert.Equal(t, "ok", status, name)
		}
		assert.Equal(t, "/healthz", srv.backends[routes.BackendFiles].last(t).Path)
		assert.Equal(t, "/api/v1.0.0/presence/health", srv.backends[routes.BackendPresence].last(t).Path)
	})

	t.Run("one backend down", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		deadURL := dead.URL
		dead.Close()
		srv := newGatewayServer(t, map[string]string{routes.BackendSearch: deadURL})
		srv.backends[routes.BackendModeration].setResponder(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		rr := testutil.DoRequest(srv.router, httptest.NewRequest(http.MethodGet, "/health", nil))

		testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
		resp := testutil.UnmarshalResponse[GatewayHealthResponse](t, rr)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "unavailable", resp.Backends[routes.BackendSearch])
		assert.Equal(t, "unhealthy", resp.Backends[routes.BackendModeration])
		assert.Equal(t, "ok", resp.Backends[routes.BackendUsers])
	})
}

func TestBackendHealthPassthrough(t *testing.T) {
	srv := newGatewayServer(t, nil)
	srv.backends[routes.BackendUsers].setResponder(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","service":"users-service","version":"v1"}`))
	})

	rr := testutil.DoRequest(srv.router, httptest.NewRequest(http.MethodGet, "/users/health", nil))

	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.JSONEq(t, `{"status":"ok","service":"users-service","version":"v1"}`, rr.Body.String())
	assert.Equal(t, "/health", srv.backends[routes.BackendUsers].last(t).Path)
}

func TestRoot(t *testing.T) {
	srv := newGatewayServer(t, nil)

	rr := testutil.DoRequest(srv.router, httptest.NewRequest(http.MethodGet, "/", nil))

	testutil.AssertStatus(t, rr, http.StatusOK)
	var resp RootResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "v1", resp.Version)
}

func TestRateLimit_LoginBudgetIsPerClient(t *testing.T) {
	limiter := ratelimit.New(bucket.New(), slog.New(slog.DiscardHandler),
		ratelimit.WithLimit(models.ClassAuth, models.Limit{Requests: 1, Window: time.Minute}))
	gw := newGatewayServer(t, nil, WithRateLimiter(limiter))

	login := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/users/login", strings.NewReader(`{"username":"alice","password":"pw"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		gw.router.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, login("203.0.113.1").Code)
	limited := login("203.0.113.1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, login("203.0.113.2").Code)
	assert.Len(t, gw.backends[routes.BackendUsers].requests(), 2)

	// Health is never limited.
	rec := httptest.NewRecorder()
	gw.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_TrustedProxiesStopForwardedForRotation(t *testing.T) {
	trusted, err := metadata.ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	limiter := ratelimit.New(bucket.New(), slog.New(slog.DiscardHandler),
		ratelimit.WithLimit(models.ClassAuth, models.Limit{Requests: 1, Window: time.Minute}))
	gw := newGatewayServer(t, nil,
		WithRateLimiter(limiter),
		WithClientIPResolver(metadata.NewResolver(trusted)),
	)

	login := func(remoteAddr, xff string) int {
		req := httptest.NewRequest(http.MethodPost, "/users/login", strings.NewReader(`{"username":"alice","password":"pw"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", xff)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		gw.router.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusOK, login("203.0.113.50:4000", "198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, login("203.0.113.50:4000", "198.51.100.2"))

	require.Equal(t, http.StatusOK, login("10.0.0.2:4000", "1.1.1.1, 203.0.113.9"))
	assert.Equal(t, http.StatusTooManyRequests, login("10.0.0.2:4000", "2.2.2.2, 203.0.113.9"))
}

func TestRouteClass(t *testing.T) {
	tests := []struct {
		method, pattern string
		want            models.EndpointClass
	}{
		{http.MethodPost, "/users/register", models.ClassAuth},
		{http.MethodPost, "/users/login", models.ClassAuth},
		{http.MethodGet, "/users/me", models.ClassRead},
		{http.MethodPatch, "/users/me", models.ClassWrite},
		{http.MethodPost, "/users/logout", models.ClassWrite},
	}
	byKey := map[string]routes.Route{}
	for _, r := range routes.Default().Routes {
		byKey[r.Method+" "+r.Pattern] = r
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.pattern, func(t *testing.T) {
			route, ok := byKey[tt.method+" "+tt.pattern]
			require.True(t, ok)
			assert.Equal(t, tt.want, routeClass(route))
		})
	}
}
