package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/submission"
)

func TestNewClientValidatesBaseURL(t *testing.T) {
	_, err := NewClient(ClientOptions{})
	assert.Error(t, err)

	_, err = NewClient(ClientOptions{BaseURL: "not a url"})
	assert.Error(t, err)
}

func newClientFor(t *testing.T, srv *httptest.Server, apiKey string) *Client {
	t.Helper()
	c, err := NewClient(ClientOptions{
		BaseURL: srv.URL + "/api/submissions",
		APIKey:  apiKey,
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return c
}

func TestSubmitSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(map[string]string{"listing_ref": "listing-99"})
	}))
	defer srv.Close()

	c := newClientFor(t, srv, "secret")
	ref, err := c.Submit(context.Background(), json.RawMessage(`{"name":"Acme"}`), "yelp")
	require.NoError(t, err)

	assert.Equal(t, "listing-99", ref)
	assert.Equal(t, "/api/submissions/yelp", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.JSONEq(t, `{"name":"Acme"}`, string(gotBody))
}

func TestSubmitEscapesTargetID(t *testing.T) {
	var gotEscaped string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEscaped = r.URL.EscapedPath()
		_ = json.NewEncoder(w).Encode(map[string]string{"listing_ref": "ref"})
	}))
	defer srv.Close()

	c := newClientFor(t, srv, "")
	_, err := c.Submit(context.Background(), json.RawMessage(`{}`), "dir/with space")
	require.NoError(t, err)
	assert.Equal(t, "/api/submissions/dir%2Fwith%20space", gotEscaped)
}

func TestSubmitClassifiesValidationErrors(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnprocessableEntity} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "name is required"})
		}))

		c := newClientFor(t, srv, "")
		_, err := c.Submit(context.Background(), json.RawMessage(`{}`), "yelp")
		require.Error(t, err)
		assert.Equal(t, submission.ClassValidation, submission.Classify(err))
		assert.Contains(t, err.Error(), "name is required")
		srv.Close()
	}
}

func TestSubmitClassifiesPermanentErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := newClientFor(t, srv, "")
	_, err := c.Submit(context.Background(), json.RawMessage(`{}`), "yelp")
	require.Error(t, err)
	assert.Equal(t, submission.ClassPermanent, submission.Classify(err))
}

func TestSubmitClassifiesRateLimitTransient(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusRequestTimeout} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		c := newClientFor(t, srv, "")
		_, err := c.Submit(context.Background(), json.RawMessage(`{}`), "yelp")
		require.Error(t, err, status)
		assert.Equal(t, submission.ClassTransient, submission.Classify(err), status)
		srv.Close()
	}
}

func TestSubmitClassifiesServerErrorsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newClientFor(t, srv, "")
	_, err := c.Submit(context.Background(), json.RawMessage(`{}`), "yelp")
	require.Error(t, err)
	assert.Equal(t, submission.ClassTransient, submission.Classify(err))
}

func TestSubmitTransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c, err := NewClient(ClientOptions{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), json.RawMessage(`{}`), "yelp")
	require.Error(t, err)
	assert.Equal(t, submission.ClassTransient, submission.Classify(err))
}

func TestSubmitContextCancellationPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newClientFor(t, srv, "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Submit(ctx, json.RawMessage(`{}`), "yelp")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmitRejectsEmptyListingRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "ok"})
	}))
	defer srv.Close()

	c := newClientFor(t, srv, "")
	_, err := c.Submit(context.Background(), json.RawMessage(`{}`), "yelp")
	require.Error(t, err)
	assert.Equal(t, submission.ClassTransient, submission.Classify(err))
}
