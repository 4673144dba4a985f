package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shehryarbajwa/listing-harness/internal/auth"
	"github.com/shehryarbajwa/listing-harness/internal/driver"
	"github.com/shehryarbajwa/listing-harness/internal/driver/drivertest"
	"github.com/shehryarbajwa/listing-harness/internal/ratelimit"
	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

// fakeUMS answers logins for seller1/secret
func fakeUMS(t *testing.T, body string) (*httptest.Server, *[]auth.LoginRequest) {
	t.Helper()
	var received []auth.LoginRequest

	r := mux.NewRouter()
	r.HandleFunc("/"+auth.LoginPath, func(w http.ResponseWriter, req *http.Request) {
		var login auth.LoginRequest
		if err := json.NewDecoder(req.Body).Decode(&login); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		received = append(received, login)

		assert.Equal(t, "desktop", req.Header.Get("Sellernet-Origin"))
		if login.Input != "seller1@example.com" || login.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}).Methods(http.MethodPost)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, &received
}

// httpPage returns a fake page whose requests go to a real HTTP server
func httpPage(t *testing.T) driver.Page {
	t.Helper()
	b := drivertest.NewBrowser(models.EngineChromium)
	c, err := b.NewContext(playwright.BrowserNewContextOptions{})
	require.NoError(t, err)

	c.(*drivertest.Context).Post = func(url string, opts playwright.APIRequestContextPostOptions) (driver.Response, error) {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(opts.Data.(string)))
		if err != nil {
			return nil, err
		}
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return &drivertest.Response{StatusCode: resp.StatusCode, Payload: payload}, nil
	}

	page, err := c.NewPage()
	require.NoError(t, err)
	return page
}

func seller(password string) models.CredentialRecord {
	return models.CredentialRecord{AccountID: "seller1", Username: "seller1@example.com", Password: password}
}

func TestLogin_ExtractsUserID(t *testing.T) {
	srv, received := fakeUMS(t, `{"Result":{"UserId":12345}}`)
	a := auth.NewAuthenticator(auth.Options{BaseURL: srv.URL, Timeout: 5 * time.Second}, nil, zaptest.NewLogger(t))

	session, err := a.Login(context.Background(), httpPage(t), seller("secret"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, session.Status)
	assert.Equal(t, "12345", session.UserID)
	require.Len(t, *received, 1)
	assert.Equal(t, 0, (*received)[0].IsRemember)
}

func TestLogin_FallsBackToTopLevelUserID(t *testing.T) {
	srv, _ := fakeUMS(t, `{"userId":"u-77"}`)
	a := auth.NewAuthenticator(auth.Options{BaseURL: srv.URL + "/"}, nil, zaptest.NewLogger(t))

	session, err := a.Login(context.Background(), httpPage(t), seller("secret"))
	require.NoError(t, err)
	assert.Equal(t, "u-77", session.UserID)
}

func TestLogin_MissingUserIDIsNotAnError(t *testing.T) {
	srv, _ := fakeUMS(t, `{"Result":{}}`)
	a := auth.NewAuthenticator(auth.Options{BaseURL: srv.URL}, nil, zaptest.NewLogger(t))

	session, err := a.Login(context.Background(), httpPage(t), seller("secret"))
	require.NoError(t, err)
	assert.Empty(t, session.UserID)
}

func TestLogin_RejectedIsAuthenticationError(t *testing.T) {
	srv, _ := fakeUMS(t, `{}`)
	a := auth.NewAuthenticator(auth.Options{BaseURL: srv.URL}, nil, zaptest.NewLogger(t))

	session, err := a.Login(context.Background(), httpPage(t), seller("wrong"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrAuthentication))
	assert.Equal(t, http.StatusUnauthorized, session.Status)
}

func TestLogin_TransportErrorIsAuthenticationError(t *testing.T) {
	page := drivertest.NewBrowser(models.EngineChromium)
	c, err := page.NewContext(playwright.BrowserNewContextOptions{})
	require.NoError(t, err)
	c.(*drivertest.Context).Post = func(string, playwright.APIRequestContextPostOptions) (driver.Response, error) {
		return nil, errors.New("connection refused")
	}
	p, err := c.NewPage()
	require.NoError(t, err)

	a := auth.NewAuthenticator(auth.Options{BaseURL: "http://ums.invalid"}, nil, zaptest.NewLogger(t))
	_, err = a.Login(context.Background(), p, seller("secret"))
	assert.True(t, errors.Is(err, models.ErrAuthentication))
}

func TestLogin_ThrottledByLimiter(t *testing.T) {
	srv, received := fakeUMS(t, `{"userId":1}`)
	limiter := ratelimit.NewLimiter(1, 1)
	a := auth.NewAuthenticator(auth.Options{BaseURL: srv.URL}, limiter, zaptest.NewLogger(t))
	page := httpPage(t)

	_, err := a.Login(context.Background(), page, seller("secret"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Login(ctx, page, seller("secret"))
	assert.True(t, errors.Is(err, models.ErrResource))
	assert.Len(t, *received, 1)
}

func TestLoginURL(t *testing.T) {
	a := auth.NewAuthenticator(auth.Options{BaseURL: "https://staging.example.vn"}, nil, zaptest.NewLogger(t))
	assert.Equal(t, "https://staging.example.vn/user-management-service/api/v1/User/Login", a.LoginURL())
}
