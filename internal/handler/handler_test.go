package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitebot-go/internal/model"
	"sitebot-go/internal/service"
	"sitebot-go/pkg/ratelimit"
	"sitebot-go/pkg/tasks"
	"sitebot-go/pkg/token"
)

type fakeProjects struct {
	projects map[string]*model.Project
	startErr error
	chatErr  error
	lastChat [3]string
}

func newFakeProjects() *fakeProjects {
	return &fakeProjects{projects: map[string]*model.Project{
		"p1": {ID: "p1", Name: "Shop", SeedURL: "https://shop.test", Status: model.StatusReady},
	}}
}

func (f *fakeProjects) Create(_ context.Context, name, rawURL string) (*model.Project, error) {
	u, err := service.NormalizeSeedURL(rawURL)
	if err != nil {
		return nil, err
	}
	p := &model.Project{ID: "new", Name: name, SeedURL: u, Status: model.StatusCreated}
	f.projects[p.ID] = p
	return p, nil
}

func (f *fakeProjects) List(context.Context) ([]model.Project, error) {
	out := make([]model.Project, 0, len(f.projects))
	for _, p := range f.projects {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeProjects) Get(_ context.Context, id string) (*model.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, service.ErrProjectNotFound
	}
	return p, nil
}

func (f *fakeProjects) Status(ctx context.Context, id string) (*service.StatusView, error) {
	p, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &service.StatusView{ID: p.ID, Status: p.Status, IsReady: p.Status == model.StatusReady, IndexSize: 7, DocCount: 3}, nil
}

func (f *fakeProjects) StartScraping(ctx context.Context, id string) error {
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	return f.startErr
}

func (f *fakeProjects) StartTraining(ctx context.Context, id string) error {
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	return f.startErr
}

func (f *fakeProjects) Chat(ctx context.Context, id, message, sessionID string) (*service.ChatReply, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return nil, err
	}
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	f.lastChat = [3]string{id, message, sessionID}
	if sessionID == "" {
		sessionID = "generated"
	}
	return &service.ChatReply{Response: "echo: " + message, SessionID: sessionID}, nil
}

func (f *fakeProjects) Delete(ctx context.Context, id string) error {
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	delete(f.projects, id)
	return nil
}

func (f *fakeProjects) Data(ctx context.Context, id, query, dataType string, limit int) ([]model.ItemSearchResult, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return nil, err
	}
	return []model.ItemSearchResult{{ItemID: 1, DataType: dataType, Content: query}}, nil
}

func (f *fakeProjects) Session(ctx context.Context, id, sessionID string) (*model.ChatSession, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, service.ErrSessionNotFound
}

func (f *fakeProjects) IssueChatToken(_ context.Context, id string) (string, time.Time, error) {
	return "", time.Time{}, errors.New("not used")
}

func (f *fakeProjects) HandleTask(context.Context, tasks.ProjectTask) error { return nil }

func (f *fakeProjects) TaskCanceled(context.Context, tasks.ProjectTask) {}

func (f *fakeProjects) RecoverInterrupted(context.Context) error { return nil }

func init() {
	gin.SetMode(gin.TestMode)
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w, out
}

func TestProjectRoutes(t *testing.T) {
	fake := newFakeProjects()
	r := NewRouter(RouterOptions{Projects: fake})

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"list", http.MethodGet, "/api/v1/projects", "", http.StatusOK},
		{"create", http.MethodPost, "/api/v1/projects", `{"name":"New","url":"new.test"}`, http.StatusCreated},
		{"create missing url", http.MethodPost, "/api/v1/projects", `{"name":"New"}`, http.StatusBadRequest},
		{"create empty name", http.MethodPost, "/api/v1/projects", `{"name":"","url":"x.test"}`, http.StatusBadRequest},
		{"get", http.MethodGet, "/api/v1/projects/p1", "", http.StatusOK},
		{"get unknown", http.MethodGet, "/api/v1/projects/nope", "", http.StatusNotFound},
		{"status", http.MethodGet, "/api/v1/projects/p1/status", "", http.StatusOK},
		{"scrape", http.MethodPost, "/api/v1/projects/p1/scrape", "", http.StatusOK},
		{"scrape unknown", http.MethodPost, "/api/v1/projects/nope/scrape", "", http.StatusNotFound},
		{"train", http.MethodPost, "/api/v1/projects/p1/train", "", http.StatusOK},
		{"chat", http.MethodPost, "/api/v1/projects/p1/chat", `{"message":"hi"}`, http.StatusOK},
		{"chat no message", http.MethodPost, "/api/v1/projects/p1/chat", `{}`, http.StatusBadRequest},
		{"chat unknown", http.MethodPost, "/api/v1/projects/nope/chat", `{"message":"hi"}`, http.StatusNotFound},
		{"data", http.MethodGet, "/api/v1/projects/p1/data?q=tea&type=table&limit=5", "", http.StatusOK},
		{"data bad limit", http.MethodGet, "/api/v1/projects/p1/data?limit=x", "", http.StatusBadRequest},
		{"session missing", http.MethodGet, "/api/v1/projects/p1/sessions/s1", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := doJSON(t, r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus < 300 {
				assert.Equal(t, "success", body["status"])
			} else {
				assert.Equal(t, "error", body["status"])
				assert.NotEmpty(t, body["message"])
			}
		})
	}
}

func TestCreateNormalizesURL(t *testing.T) {
	r := NewRouter(RouterOptions{Projects: newFakeProjects()})
	_, body := doJSON(t, r, http.MethodPost, "/api/v1/projects", `{"name":"New","url":"new.test"}`)
	project := body["project"].(map[string]interface{})
	assert.Equal(t, "https://new.test", project["url"])
	assert.Equal(t, "created", project["status"])
}

func TestStatusBody(t *testing.T) {
	r := NewRouter(RouterOptions{Projects: newFakeProjects()})
	_, body := doJSON(t, r, http.MethodGet, "/api/v1/projects/p1/status", "")
	status := body["project_status"].(map[string]interface{})
	assert.Equal(t, true, status["is_ready"])
	assert.EqualValues(t, 7, status["index_size"])
	assert.EqualValues(t, 3, status["doc_count"])
}

func TestChatResponseBody(t *testing.T) {
	fake := newFakeProjects()
	r := NewRouter(RouterOptions{Projects: fake})
	_, body := doJSON(t, r, http.MethodPost, "/api/v1/projects/p1/chat", `{"message":"hello","session_id":"s9"}`)
	assert.Equal(t, "echo: hello", body["response"])
	assert.Equal(t, "s9", body["session_id"])
	assert.Equal(t, [3]string{"p1", "hello", "s9"}, fake.lastChat)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{service.ErrProjectBusy, http.StatusBadRequest},
		{service.ErrProjectNotScraped, http.StatusBadRequest},
		{service.ErrNoTrainingData, http.StatusBadRequest},
		{tasks.ErrQueueFull, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		fake := newFakeProjects()
		fake.startErr = tt.err
		r := NewRouter(RouterOptions{Projects: fake})
		w, body := doJSON(t, r, http.MethodPost, "/api/v1/projects/p1/train", "")
		assert.Equal(t, tt.want, w.Code, tt.err.Error())
		if tt.want == http.StatusInternalServerError {
			assert.Equal(t, "internal server error", body["message"])
		}
	}

	fake := newFakeProjects()
	fake.chatErr = service.ErrProjectNotReady
	r := NewRouter(RouterOptions{Projects: fake})
	w, _ := doJSON(t, r, http.MethodPost, "/api/v1/projects/p1/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteProject(t *testing.T) {
	r := NewRouter(RouterOptions{Projects: newFakeProjects()})
	w, _ := doJSON(t, r, http.MethodDelete, "/api/v1/projects/p1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = doJSON(t, r, http.MethodDelete, "/api/v1/projects/p1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScrapeRateLimited(t *testing.T) {
	r := NewRouter(RouterOptions{
		Projects: newFakeProjects(),
		Limiter:  ratelimit.NewMemoryLimiter(),
		Limits:   RateLimits{Window: time.Minute, Scrape: 2},
	})
	for i := 0; i < 2; i++ {
		w, _ := doJSON(t, r, http.MethodPost, "/api/v1/projects/p1/scrape", "")
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w, body := doJSON(t, r, http.MethodPost, "/api/v1/projects/p1/scrape", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "too many requests", body["message"])

	// 其他接口不受影响
	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/projects/p1/train", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthz(t *testing.T) {
	r := NewRouter(RouterOptions{Projects: newFakeProjects()})
	w, body := doJSON(t, r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestWebsocketChat(t *testing.T) {
	jwtManager := token.NewJWTManager("secret", 5)
	fake := newFakeProjects()
	srv := httptest.NewServer(NewRouter(RouterOptions{Projects: fake, Tokens: jwtManager}))
	defer srv.Close()

	tok, _, err := jwtManager.GenerateChatToken("p1")
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/" + tok
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "hello"}))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "response", frame["type"])
	assert.Equal(t, "echo: hello", frame["response"])
	assert.Equal(t, "generated", frame["session_id"])
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "completion", frame["type"])

	// 同一连接的后续消息沿用会话
	require.NoError(t, conn.WriteJSON(map[string]string{"message": "again"}))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "generated", frame["session_id"])
	require.NoError(t, conn.ReadJSON(&frame))
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	srv := httptest.NewServer(NewRouter(RouterOptions{Projects: newFakeProjects(), Tokens: token.NewJWTManager("secret", 5)}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/garbage"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
