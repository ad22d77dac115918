package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"noticeboard/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) seedPost(t *testing.T, author *models.UserProfile, title string, parentID *string) *models.Post {
	t.Helper()
	p := &models.Post{Title: title, Content: title + " body", AuthorID: author.ID, ParentID: parentID}
	require.NoError(t, e.srv.postRepo.Create(context.Background(), p))
	return p
}

func TestCreatePost(t *testing.T) {
	env := setupTestServer(t)
	env.createAccount(t, "Alice", "alice@example.com")
	b := env.browser(t)
	b.signIn("alice@example.com", testPassword)

	require.Equal(t, http.StatusOK, b.get("/protected/posts/new").StatusCode)

	tests := []struct {
		name   string
		title  string
		body   string
		status int
		msg    string
	}{
		{name: "Empty title", title: "", body: "x", status: http.StatusBadRequest, msg: "タイトルは必須で、150文字以内である必要があります"},
		{name: "Title too long", title: strings.Repeat("a", 151), body: "x", status: http.StatusBadRequest, msg: "タイトルは必須で、150文字以内である必要があります"},
		{name: "Empty content", title: "Hello", body: "", status: http.StatusBadRequest, msg: "内容は必須です"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := b.post("/protected/posts/new", url.Values{"title": {tt.title}, "content": {tt.body}})
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, readBody(t, resp), tt.msg)
		})
	}

	var count int64
	require.NoError(t, env.db.Model(&models.Post{}).Count(&count).Error)
	assert.Zero(t, count)

	resp := b.post("/protected/posts/new", url.Values{"title": {"初めての投稿"}, "content": {"こんにちは"}})
	assertRedirect(t, resp, "/protected/posts")

	resp = b.get("/protected/posts")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "初めての投稿")
}

func TestCreatePost_TitleOf150RunesIsAccepted(t *testing.T) {
	env := setupTestServer(t)
	env.createAccount(t, "Alice", "alice@example.com")
	b := env.browser(t)
	b.signIn("alice@example.com", testPassword)

	resp := b.post("/protected/posts/new", url.Values{"title": {strings.Repeat("あ", 150)}, "content": {"x"}})
	assertRedirect(t, resp, "/protected/posts")
}

func TestGetPosts_Pagination(t *testing.T) {
	env := setupTestServer(t)
	alice := env.createAccount(t, "Alice", "alice@example.com")
	for i := 0; i < 12; i++ {
		env.seedPost(t, alice, fmt.Sprintf("post-%02d", i), nil)
	}
	b := env.browser(t)
	b.signIn("alice@example.com", testPassword)

	tests := []struct {
		query    string
		contains string
		next     bool
		prev     bool
	}{
		{query: "", contains: "1 / 2", next: true},
		{query: "?page=abc", contains: "1 / 2", next: true},
		{query: "?page=0", contains: "1 / 2", next: true},
		{query: "?page=2", contains: "2 / 2", prev: true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp := b.get("/protected/posts" + tt.query)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			page := readBody(t, resp)
			assert.Contains(t, page, tt.contains)
			assert.Equal(t, tt.next, strings.Contains(page, "次へ"))
			assert.Equal(t, tt.prev, strings.Contains(page, "前へ"))
		})
	}
}

func TestGetPosts_HidesDeactivatedAuthors(t *testing.T) {
	env := setupTestServer(t)
	alice := env.createAccount(t, "Alice", "alice@example.com")
	carol := env.createAccount(t, "Carol", "carol@example.com")
	env.seedPost(t, alice, "visible-post", nil)
	hidden := env.seedPost(t, carol, "hidden-post", nil)
	require.NoError(t, env.srv.userRepo.Deactivate(context.Background(), carol))

	b := env.browser(t)
	b.signIn("alice@example.com", testPassword)

	page := readBody(t, b.get("/protected/posts"))
	assert.Contains(t, page, "visible-post")
	assert.NotContains(t, page, "hidden-post")

	// The thread view does not filter on author status.
	assert.Equal(t, http.StatusOK, b.get("/protected/posts/"+hidden.ID).StatusCode)
}

func TestGetPost(t *testing.T) {
	env := setupTestServer(t)
	alice := env.createAccount(t, "Alice", "alice@example.com")
	bob := env.createAccount(t, "Bob", "bob@example.com")
	post := env.seedPost(t, alice, "thread", nil)
	reply := env.seedPost(t, bob, "", &post.ID)

	b := env.browser(t)
	b.signIn("bob@example.com", testPassword)

	resp := b.get("/protected/posts/" + post.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := readBody(t, resp)
	assert.Contains(t, page, "thread")
	assert.Contains(t, page, "/protected/replies/"+reply.ID+"/edit", "own reply is editable")
	assert.NotContains(t, page, "/protected/posts/"+post.ID+"/edit", "someone else's post is not")
	assert.Contains(t, page, `data-live-path="/protected/posts/`+post.ID+`"`)

	assertRedirect(t, b.get("/protected/posts/"+reply.ID), "/protected/posts/"+post.ID)

	resp = b.get("/protected/posts/" + uuid.NewString())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "投稿が見つかりません")

	assert.Equal(t, http.StatusNotFound, b.get("/protected/posts/not-a-uuid").StatusCode)
}

func TestEditPost(t *testing.T) {
	env := setupTestServer(t)
	alice := env.createAccount(t, "Alice", "alice@example.com")
	env.createAccount(t, "Bob", "bob@example.com")
	post := env.seedPost(t, alice, "original", nil)

	owner := env.browser(t)
	owner.signIn("alice@example.com", testPassword)
	other := env.browser(t)
	other.signIn("bob@example.com", testPassword)

	t.Run("Other user cannot open the form", func(t *testing.T) {
		resp := other.get("/protected/posts/" + post.ID + "/edit")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Contains(t, readBody(t, resp), "この投稿を編集する権限がありません")
	})

	t.Run("Other user cannot save", func(t *testing.T) {
		resp := other.post("/protected/posts/"+post.ID+"/edit", url.Values{"title": {"hijacked"}, "content": {"x"}})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("Validation keeps the form", func(t *testing.T) {
		resp := owner.post("/protected/posts/"+post.ID+"/edit", url.Values{"title": {"edited"}, "content": {""}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		page := readBody(t, resp)
		assert.Contains(t, page, "内容は必須です")
		assert.Contains(t, page, `value="edited"`)
	})

	t.Run("Owner saves", func(t *testing.T) {
		require.Equal(t, http.StatusOK, owner.get("/protected/posts/"+post.ID+"/edit").StatusCode)
		resp := owner.post("/protected/posts/"+post.ID+"/edit", url.Values{"title": {"edited"}, "content": {"new body"}})
		assertRedirect(t, resp, "/protected/posts/"+post.ID)

		stored, err := env.srv.postRepo.GetByID(context.Background(), post.ID)
		require.NoError(t, err)
		assert.Equal(t, "edited", stored.Title)
		assert.Equal(t, "new body", stored.Content)
	})

	t.Run("Missing post", func(t *testing.T) {
		resp := owner.post("/protected/posts/"+uuid.NewString()+"/edit", url.Values{"title": {"t"}, "content": {"c"}})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestDeletePost(t *testing.T) {
	env := setupTestServer(t)
	alice := env.createAccount(t, "Alice", "alice@example.com")
	env.createAccount(t, "Bob", "bob@example.com")
	post := env.seedPost(t, alice, "doomed", nil)

	owner := env.browser(t)
	owner.signIn("alice@example.com", testPassword)
	other := env.browser(t)
	other.signIn("bob@example.com", testPassword)

	errorOf := func(t *testing.T, resp *http.Response) string {
		t.Helper()
		var body models.ErrorResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return body.Error
	}

	resp := other.post("/protected/posts/"+post.ID+"/delete", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "この投稿を削除する権限がありません", errorOf(t, resp))

	resp = owner.post("/protected/posts/"+post.ID+"/delete", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	var stored models.Post
	require.NoError(t, env.db.First(&stored, "id = ?", post.ID).Error)
	assert.True(t, stored.IsDeleted, "soft delete keeps the row")

	resp = owner.post("/protected/posts/"+post.ID+"/delete", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "投稿が見つかりません", errorOf(t, resp))

	resp = owner.post("/protected/posts/not-a-uuid/delete", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.NotContains(t, readBody(t, owner.get("/protected/posts")), "doomed")
}

func TestDeletePost_Anonymous(t *testing.T) {
	env := setupTestServer(t)
	alice := env.createAccount(t, "Alice", "alice@example.com")
	post := env.seedPost(t, alice, "kept", nil)

	assertRedirect(t, env.browser(t).post("/protected/posts/"+post.ID+"/delete", nil), "/sign-in")
}

func TestListingCacheIsRefreshedAfterMutation(t *testing.T) {
	env := setupTestServer(t)
	env.createAccount(t, "Alice", "alice@example.com")
	b := env.browser(t)
	b.signIn("alice@example.com", testPassword)

	assert.NotContains(t, readBody(t, b.get("/protected/posts")), "fresh-post")

	b.post("/protected/posts/new", url.Values{"title": {"fresh-post"}, "content": {"x"}})
	assert.Contains(t, readBody(t, b.get("/protected/posts")), "fresh-post")
}
