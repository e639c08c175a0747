package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/errors"
	"github.com/davidleathers/crm-dnc-relay/internal/service/credentials"
)

type fakeOAuthFlow struct {
	codes []string
	err   error
}

func (f *fakeOAuthFlow) AuthCodeURL(state string) string {
	return "https://crm.example.com/oauth/chooselocation?state=" + url.QueryEscape(state)
}

func (f *fakeOAuthFlow) Exchange(_ context.Context, code string) (*credentials.Token, error) {
	f.codes = append(f.codes, code)
	if f.err != nil {
		return nil, f.err
	}
	return &credentials.Token{UserID: "u-1", LocationID: "loc-1", CompanyID: "co-1"}, nil
}

func TestStateSigner(t *testing.T) {
	_, err := NewStateSigner("", time.Minute)
	assert.Error(t, err)

	signer, err := NewStateSigner("secret", time.Minute)
	require.NoError(t, err)

	state, err := signer.Issue()
	require.NoError(t, err)
	assert.NoError(t, signer.Verify(state))

	other, err := NewStateSigner("different", time.Minute)
	require.NoError(t, err)
	assert.Error(t, other.Verify(state), "signed with another secret")

	assert.Error(t, signer.Verify(""))
	assert.Error(t, signer.Verify(state+"x"))

	signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	err = signer.Verify(state)
	assert.True(t, errors.HasCode(err, "INVALID_STATE"), "expired state")
}

func newOAuthTestHandler(t *testing.T, flow *fakeOAuthFlow) (*OAuthHandler, *StateSigner) {
	t.Helper()
	signer, err := NewStateSigner("secret", time.Minute)
	require.NoError(t, err)
	h, err := NewOAuthHandler(flow, signer, zaptest.NewLogger(t))
	require.NoError(t, err)
	return h, signer
}

func TestOAuthHandler_Install(t *testing.T) {
	h, signer := newOAuthTestHandler(t, &fakeOAuthFlow{})

	rec := httptest.NewRecorder()
	h.Install(rec, httptest.NewRequest(http.MethodGet, "/oauth/install", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "crm.example.com", loc.Host)
	assert.NoError(t, signer.Verify(loc.Query().Get("state")))
}

func TestOAuthHandler_Callback(t *testing.T) {
	flow := &fakeOAuthFlow{}
	h, signer := newOAuthTestHandler(t, flow)
	state, err := signer.Issue()
	require.NoError(t, err)

	call := func(query string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.Callback(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback?"+query, nil))
		return rec
	}

	t.Run("success", func(t *testing.T) {
		rec := call("code=abc&state=" + url.QueryEscape(state))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp InstallResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "installed", resp.Status)
		assert.Equal(t, "loc-1", resp.LocationID)
		assert.Equal(t, []string{"abc"}, flow.codes)
	})

	t.Run("bad state", func(t *testing.T) {
		rec := call("code=abc&state=forged")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing code", func(t *testing.T) {
		rec := call("state=" + url.QueryEscape(state))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("denied", func(t *testing.T) {
		rec := call("error=access_denied")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("exchange failure", func(t *testing.T) {
		flow.err = errors.NewExternalError("crm", "token endpoint returned 500")
		defer func() { flow.err = nil }()

		rec := call("code=abc&state=" + url.QueryEscape(state))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}
