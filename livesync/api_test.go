package livesync

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestGetAdsToleratesPascalCaseKeys(t *testing.T) {
	// older backend endpoints emit PascalCase keys
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/profiles/7/ads", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"Ads": [
				{
					"Id": 1,
					"OwnerId": 2,
					"Title": "Wagon",
					"ViewCount": 5,
					"CreatedAt": "2024-01-01T10:00:00Z"
				}
			]
		}`))
	}))
	defer server.Close()

	api := NewMarketApi(server.URL)
	defer api.Close()

	result, err := api.GetAdsSync(7)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(result.Ads))
	assert.Equal(t, int64(1), result.Ads[0].Id)
	assert.Equal(t, "Wagon", result.Ads[0].Title)
	assert.Equal(t, int64(5), result.Ads[0].ViewCount)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), result.Ads[0].CreatedAt)
}

func TestGetBiographiesSync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/profiles/7/biographies", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"entries": [
				{"id": 5, "ownerId": 7, "groupKey": "g1", "isAdvanced": false, "text": "plain"}
			]
		}`))
	}))
	defer server.Close()

	api := NewMarketApi(server.URL)
	defer api.Close()

	result, err := api.GetBiographiesSync(7)
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(result.Entries))
	assert.Equal(t, int64(5), result.Entries[0].Id)
	assert.Equal(t, "plain", result.Entries[0].Text)
}

func TestApiErrorBodyFlattened(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"title": "Validation failed", "errors": {"title": ["required"]}}`))
	}))
	defer server.Close()

	api := NewMarketApi(server.URL)
	defer api.Close()

	_, err := api.GetAdsSync(7)
	assert.NotEqual(t, nil, err)
	assert.Equal(t, "Validation failed; title: required", err.Error())
}

func TestAttachPropagatesBearerToken(t *testing.T) {
	authHeaders := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeaders <- r.Header.Get("Authorization")
		w.Write([]byte(`{"ads": []}`))
	}))
	defer server.Close()

	api := NewMarketApi(server.URL)
	defer api.Close()

	session := NewSessionState()
	session.SetSession("jwt-token", &Identity{UserId: 1})
	detach := api.Attach(session)
	defer detach()

	_, err := api.GetAdsSync(1)
	assert.Equal(t, nil, err)
	assert.Equal(t, "Bearer jwt-token", <-authHeaders)

	// clearing the session clears the bearer
	session.ClearSession()
	_, err = api.GetAdsSync(1)
	assert.Equal(t, nil, err)
	assert.Equal(t, "", <-authHeaders)
}

func TestAuthLoginAsync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		assert.Equal(t, "POST", r.Method)
		w.Write([]byte(`{"token": "fresh-jwt", "identity": {"userId": 7, "role": 1, "displayName": "Dana"}}`))
	}))
	defer server.Close()

	api := NewMarketApi(server.URL)
	defer api.Close()

	callback, results := NewBlockingApiCallback[*AuthLoginResult]()
	api.AuthLogin(&AuthLoginArgs{
		Email:    "dana@example.com",
		Password: "secret",
	}, callback)

	result := <-results
	assert.Equal(t, nil, result.Error)
	assert.Equal(t, "fresh-jwt", result.Result.Token)
	assert.Equal(t, int64(7), result.Result.Identity.UserId)
	assert.Equal(t, RoleAdmin, result.Result.Identity.Role)
}
