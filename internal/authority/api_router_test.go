package authority

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cbeuw/netcode/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRouter(t *testing.T) *APIRouter {
	return APIRouterOf(makeIssuer(t))
}

func do(router *APIRouter, method, target string, body []byte) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	}
	router.ServeHTTP(rr, req)
	return rr
}

func TestIssueTokenHlr(t *testing.T) {
	router := makeRouter(t)

	t.Run("no body", func(t *testing.T) {
		rr := do(router, "POST", "/token/42", nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

		var resp TokenResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.EqualValues(t, 42, resp.ClientID)
		assert.EqualValues(t, 1700000060, resp.ExpireTimestamp)
		require.Len(t, resp.ConnectToken, token.ConnectTokenBytes)

		tok, err := token.ReadPublic(resp.ConnectToken)
		require.NoError(t, err)
		assert.Equal(t, resp.ExpireTimestamp, tok.ExpireTimestamp)
	})

	t.Run("user data", func(t *testing.T) {
		body, _ := json.Marshal(TokenRequest{UserData: []byte("level 3")})
		rr := do(router, "POST", "/token/43", body)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var resp TokenResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		private, err := token.ReadPrivate(resp.ConnectToken, mockConfig.PrivateKey, mockWorldState.Now())
		require.NoError(t, err)
		assert.Equal(t, []byte("level 3"), private.UserData[:7])
	})

	t.Run("bad requests", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(router, "POST", "/token/abc", nil).Code)
		assert.Equal(t, http.StatusBadRequest, do(router, "POST", "/token/-1", nil).Code)
		assert.Equal(t, http.StatusBadRequest, do(router, "POST", "/token/1", []byte("{")).Code)
		body, _ := json.Marshal(TokenRequest{UserData: make([]byte, token.UserDataBytes+1)})
		assert.Equal(t, http.StatusBadRequest, do(router, "POST", "/token/1", body).Code)
		assert.Equal(t, http.StatusMethodNotAllowed, do(router, "GET", "/token/1", nil).Code)
	})

	t.Run("revoked", func(t *testing.T) {
		require.Equal(t, http.StatusOK, do(router, "POST", "/admin/clients/44/revoke", nil).Code)
		assert.Equal(t, http.StatusForbidden, do(router, "POST", "/token/44", nil).Code)
	})
}

func TestClientAdminHlrs(t *testing.T) {
	router := makeRouter(t)
	require.Equal(t, http.StatusOK, do(router, "POST", "/token/7", nil).Code)
	require.Equal(t, http.StatusOK, do(router, "POST", "/token/7", nil).Code)

	t.Run("get", func(t *testing.T) {
		rr := do(router, "GET", "/admin/clients/7", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var info ClientInfo
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
		assert.EqualValues(t, 7, info.ClientID)
		assert.EqualValues(t, 2, info.IssueCount)
		assert.False(t, info.Revoked)

		assert.Equal(t, http.StatusNotFound, do(router, "GET", "/admin/clients/8", nil).Code)
	})

	t.Run("list", func(t *testing.T) {
		rr := do(router, "GET", "/admin/clients", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var infos []ClientInfo
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &infos))
		require.Len(t, infos, 1)
		assert.EqualValues(t, 7, infos[0].ClientID)
	})

	t.Run("delete", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do(router, "DELETE", "/admin/clients/7", nil).Code)
		assert.Equal(t, http.StatusNotFound, do(router, "DELETE", "/admin/clients/7", nil).Code)
		rr := do(router, "GET", "/admin/clients", nil)
		assert.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))
	})

	t.Run("options", func(t *testing.T) {
		rr := do(router, "OPTIONS", "/admin/clients", nil)
		assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "DELETE")
	})
}
