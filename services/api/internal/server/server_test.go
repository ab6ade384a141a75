package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"promptapi/pkg/ai"
	"promptapi/pkg/storage"
	"promptapi/pkg/store"
	"promptapi/services/api/internal/app"
)

const (
	testSuperUser     = "root"
	testSuperPassword = "root-password-1"
)

type stubGenerator struct{}

func (stubGenerator) GenerateImages(ctx context.Context, req ai.ImageRequest) ([]ai.GeneratedImage, error) {
	out := make([]ai.GeneratedImage, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		out = append(out, ai.GeneratedImage{Data: pngBytes(), ContentType: "image/png"})
	}
	return out, ctx.Err()
}

type testServer struct {
	url   string
	app   *app.App
	store *store.MemoryStore
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	st := store.NewMemoryStore()
	tokens, err := store.NewHS256TokenManager([]byte("0123456789abcdef0123456789abcdef"), store.TokenOptions{
		Revoker: store.NewMemoryTokenRevoker(),
	})
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}
	if _, _, err := app.SeedSuperAdmin(context.Background(), st, tokens, testSuperUser, testSuperPassword); err != nil {
		t.Fatalf("seed super admin: %v", err)
	}
	a, err := app.New(app.Config{
		Store:           st,
		Tokens:          tokens,
		Images:          storage.NewMemoryHost("http://images.test"),
		Generator:       stubGenerator{},
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		GenerationDelay: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(a.Close)
	cfg.App = a
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	hs := httptest.NewServer(srv.Router())
	t.Cleanup(hs.Close)
	return &testServer{url: hs.URL, app: a, store: st}
}

type apiResponse struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Pagination *app.Pagination `json:"pagination"`
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (int, apiResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.url+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (int, apiResponse) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	var out apiResponse
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode %s %s response: %v", req.Method, req.URL.Path, err)
		}
	}
	return resp.StatusCode, out
}

func decodeData(t *testing.T, res apiResponse, dst any) {
	t.Helper()
	if err := json.Unmarshal(res.Data, dst); err != nil {
		t.Fatalf("decode data %s: %v", string(res.Data), err)
	}
}

func (ts *testServer) anonToken(t *testing.T) string {
	t.Helper()
	status, res := ts.do(t, http.MethodPost, "/api/auth/anonymous", "", nil)
	if status != http.StatusCreated {
		t.Fatalf("anonymous token: expected 201, got %d (%s)", status, res.Message)
	}
	var session struct {
		Token string `json:"token"`
	}
	decodeData(t, res, &session)
	return session.Token
}

func (ts *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	status, res := ts.do(t, http.MethodPost, "/api/admin/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	if status != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d (%s)", username, status, res.Message)
	}
	var session struct {
		Token string `json:"token"`
	}
	decodeData(t, res, &session)
	return session.Token
}

func pngBytes() []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2)))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, url, token, field string, files ...[]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i, data := range files {
		part, err := mw.CreateFormFile(field, "image"+string(rune('a'+i))+".png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, &body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

type promptView struct {
	ID       string `json:"_id"`
	Status   string `json:"status"`
	Category *struct {
		ID   string `json:"_id"`
		Name string `json:"name"`
	} `json:"categoryId"`
	Images []struct {
		ID  string `json:"_id"`
		URL string `json:"url"`
	} `json:"images"`
}

func TestPromptGalleryEndToEnd(t *testing.T) {
	ts := newTestServer(t, Config{})

	// 1) liveness and diagnostics
	resp, err := http.Get(ts.url + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var health map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health["status"] != "OK" {
		t.Fatalf("health: got %d %v", resp.StatusCode, health)
	}
	status, res := ts.do(t, http.MethodGet, "/api/test", "", nil)
	if status != http.StatusOK || !res.Success {
		t.Fatalf("api test: got %d %+v", status, res)
	}

	// 2) identities
	anon := ts.anonToken(t)
	admin := ts.login(t, testSuperUser, testSuperPassword)

	// 3) admin creates a category and uploads an image
	status, res = ts.do(t, http.MethodPost, "/api/categories", admin, map[string]string{"name": "Landscapes"})
	if status != http.StatusCreated {
		t.Fatalf("create category: expected 201, got %d (%s)", status, res.Message)
	}
	var category struct {
		ID string `json:"_id"`
	}
	decodeData(t, res, &category)

	status, res = send(t, multipartRequest(t, ts.url+"/api/images/upload", admin, "image", pngBytes()))
	if status != http.StatusCreated {
		t.Fatalf("upload image: expected 201, got %d (%s)", status, res.Message)
	}
	var uploaded struct {
		ID  string `json:"_id"`
		URL string `json:"url"`
	}
	decodeData(t, res, &uploaded)
	if uploaded.ID == "" || uploaded.URL == "" {
		t.Fatalf("upload image: missing id or url: %+v", uploaded)
	}

	// 4) anonymous user lists categories and submits a prompt for generation
	status, res = ts.do(t, http.MethodGet, "/api/categories", anon, nil)
	if status != http.StatusOK {
		t.Fatalf("list categories: expected 200, got %d", status)
	}
	status, res = ts.do(t, http.MethodPost, "/api/prompts/generate", anon, map[string]any{
		"promptText": "a quiet lake at dawn",
		"categoryId": category.ID,
		"count":      2,
	})
	if status != http.StatusCreated {
		t.Fatalf("generate: expected 201, got %d (%s)", status, res.Message)
	}
	var queued promptView
	decodeData(t, res, &queued)
	if queued.Status != "queued" {
		t.Fatalf("generate: expected queued, got %q", queued.Status)
	}

	// 5) poll until terminal
	deadline := time.Now().Add(5 * time.Second)
	var final promptView
	for {
		status, res = ts.do(t, http.MethodGet, "/api/prompts/"+queued.ID, anon, nil)
		if status != http.StatusOK {
			t.Fatalf("get prompt: expected 200, got %d", status)
		}
		decodeData(t, res, &final)
		if final.Status == "done" || final.Status == "failed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("prompt did not reach a terminal status, last %q", final.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if final.Status != "done" || len(final.Images) != 2 {
		t.Fatalf("expected done with 2 images, got %q with %d", final.Status, len(final.Images))
	}
	if final.Category == nil || final.Category.Name != "Landscapes" {
		t.Fatalf("expected category to be joined, got %+v", final.Category)
	}

	// 6) a prompt with an existing image is done immediately
	status, res = ts.do(t, http.MethodPost, "/api/prompts/generate", anon, map[string]any{
		"promptText": "uploaded reference",
		"imageIds":   []string{uploaded.ID},
	})
	if status != http.StatusCreated {
		t.Fatalf("generate with images: expected 201, got %d (%s)", status, res.Message)
	}
	var immediate promptView
	decodeData(t, res, &immediate)
	if immediate.Status != "done" || len(immediate.Images) != 1 {
		t.Fatalf("expected immediate done with 1 image, got %+v", immediate)
	}

	// 7) listing with a category filter and pagination
	status, res = ts.do(t, http.MethodGet, "/api/prompts?category="+category.ID+"&limit=5", anon, nil)
	if status != http.StatusOK || res.Pagination == nil {
		t.Fatalf("list prompts: got %d %+v", status, res)
	}
	if res.Pagination.Total != 1 || res.Pagination.Limit != 5 || res.Pagination.Page != 1 {
		t.Fatalf("unexpected pagination %+v", *res.Pagination)
	}

	// 8) favorites are idempotent
	for i, want := range []string{"Added to favorites", "Already in favorites"} {
		status, res = ts.do(t, http.MethodPost, "/api/user/favorites/add", anon, map[string]string{"promptId": final.ID})
		if status != http.StatusOK || res.Message != want {
			t.Fatalf("add favorite #%d: got %d %q", i+1, status, res.Message)
		}
	}
	var ids []string
	decodeData(t, res, &ids)
	if len(ids) != 1 || ids[0] != final.ID {
		t.Fatalf("expected single favorite %s, got %v", final.ID, ids)
	}

	// 9) an in-use category cannot be deleted
	status, res = ts.do(t, http.MethodDelete, "/api/categories/"+category.ID, admin, nil)
	if status != http.StatusConflict {
		t.Fatalf("delete in-use category: expected 409, got %d (%s)", status, res.Message)
	}

	// 10) deleting the favorite prompt hides it from favorites
	status, _ = ts.do(t, http.MethodDelete, "/api/admin/prompts/"+final.ID, admin, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete prompt: expected 204, got %d", status)
	}
	status, res = ts.do(t, http.MethodGet, "/api/user/favorites", anon, nil)
	if status != http.StatusOK {
		t.Fatalf("list favorites: expected 200, got %d", status)
	}
	var favorites []promptView
	decodeData(t, res, &favorites)
	if len(favorites) != 0 {
		t.Fatalf("expected dangling favorite to be filtered, got %d", len(favorites))
	}

	// 11) admin stats reflect the data
	status, res = ts.do(t, http.MethodGet, "/api/admin/stats", admin, nil)
	if status != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", status)
	}
	var stats struct {
		TotalPrompts    int64 `json:"totalPrompts"`
		TotalCategories int64 `json:"totalCategories"`
	}
	decodeData(t, res, &stats)
	if stats.TotalPrompts != 1 || stats.TotalCategories != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestAuthorizationGates(t *testing.T) {
	ts := newTestServer(t, Config{})
	anon := ts.anonToken(t)
	super := ts.login(t, testSuperUser, testSuperPassword)

	status, _ := ts.do(t, http.MethodPost, "/api/admin/create", super, map[string]string{
		"username": "editor",
		"password": "editor-password",
	})
	if status != http.StatusCreated {
		t.Fatalf("create admin: expected 201, got %d", status)
	}
	editor := ts.login(t, "editor", "editor-password")

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token on anon route", http.MethodGet, "/api/prompts", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/prompts", "not-a-jwt", http.StatusUnauthorized},
		{"admin token on anon route", http.MethodGet, "/api/prompts", editor, http.StatusUnauthorized},
		{"anon token on admin route", http.MethodGet, "/api/admin/stats", anon, http.StatusUnauthorized},
		{"admin on super admin route", http.MethodGet, "/api/admin/list", editor, http.StatusForbidden},
		{"super admin on super admin route", http.MethodGet, "/api/admin/list", super, http.StatusOK},
		{"anon cannot create categories", http.MethodPost, "/api/categories", anon, http.StatusUnauthorized},
		{"image reads are public", http.MethodGet, "/api/images/missing", "", http.StatusNotFound},
		{"image deletes need admin", http.MethodDelete, "/api/images/missing", anon, http.StatusUnauthorized},
		{"unknown prompt", http.MethodGet, "/api/prompts/missing", anon, http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/api/prompts", anon, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, res := ts.do(t, tc.method, tc.path, tc.token, nil)
			if status != tc.want {
				t.Fatalf("expected %d, got %d (%s)", tc.want, status, res.Message)
			}
			if tc.want >= 400 && res.Success {
				t.Fatalf("expected success=false on %d", status)
			}
		})
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	ts := newTestServer(t, Config{})
	for _, creds := range []map[string]string{
		{"username": testSuperUser, "password": "wrong-password"},
		{"username": "nobody", "password": testSuperPassword},
	} {
		status, res := ts.do(t, http.MethodPost, "/api/admin/login", "", creds)
		if status != http.StatusUnauthorized || res.Message != "Invalid credentials" {
			t.Fatalf("login %v: got %d %q", creds, status, res.Message)
		}
	}
}

func TestAdminLogoutRevokesToken(t *testing.T) {
	ts := newTestServer(t, Config{})
	admin := ts.login(t, testSuperUser, testSuperPassword)

	status, _ := ts.do(t, http.MethodPost, "/api/admin/logout", admin, nil)
	if status != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", status)
	}
	status, res := ts.do(t, http.MethodGet, "/api/admin/stats", admin, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("revoked token: expected 401, got %d (%s)", status, res.Message)
	}
}

func TestUploadMultiple(t *testing.T) {
	ts := newTestServer(t, Config{})
	admin := ts.login(t, testSuperUser, testSuperPassword)

	status, res := send(t, multipartRequest(t, ts.url+"/api/images/upload-multiple", admin, "images",
		pngBytes(), []byte("plain text, not an image"), pngBytes()))
	if status != http.StatusCreated {
		t.Fatalf("upload multiple: expected 201, got %d (%s)", status, res.Message)
	}
	var images []struct {
		ID string `json:"_id"`
	}
	decodeData(t, res, &images)
	if len(images) != 2 {
		t.Fatalf("expected 2 stored images, got %d", len(images))
	}

	status, res = send(t, multipartRequest(t, ts.url+"/api/images/upload", admin, "image", []byte("nope")))
	if status != http.StatusBadRequest {
		t.Fatalf("non-image upload: expected 400, got %d (%s)", status, res.Message)
	}

	status, _ = ts.do(t, http.MethodDelete, "/api/images/"+images[0].ID, admin, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete image: expected 204, got %d", status)
	}
	status, _ = ts.do(t, http.MethodGet, "/api/images/"+images[0].ID, "", nil)
	if status != http.StatusNotFound {
		t.Fatalf("deleted image: expected 404, got %d", status)
	}
}

func TestValidationErrors(t *testing.T) {
	ts := newTestServer(t, Config{})
	anon := ts.anonToken(t)

	status, res := ts.do(t, http.MethodPost, "/api/prompts/generate", anon, map[string]any{"promptText": "  "})
	if status != http.StatusBadRequest || res.Message != "promptText is required" {
		t.Fatalf("empty prompt: got %d %q", status, res.Message)
	}
	status, res = ts.do(t, http.MethodPost, "/api/prompts/generate", anon, map[string]any{
		"promptText": "x",
		"categoryId": "missing",
	})
	if status != http.StatusNotFound {
		t.Fatalf("unknown category: expected 404, got %d (%s)", status, res.Message)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.url+"/api/user/favorites/add", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+anon)
	status, res = send(t, req)
	if status != http.StatusBadRequest || res.Message != "Invalid JSON body" {
		t.Fatalf("bad json: got %d %q", status, res.Message)
	}
}
