package authority

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/cbeuw/netcode/internal/token"
	gmux "github.com/gorilla/mux"
)

type APIRouter struct {
	*gmux.Router
	issuer Issuer
}

// TokenRequest is the optional body of POST /token/{ClientID}
type TokenRequest struct {
	UserData []byte
}

// TokenResponse is what POST /token/{ClientID} returns. ConnectToken is base64 in json.
type TokenResponse struct {
	ClientID        uint64
	ExpireTimestamp uint64
	ConnectToken    []byte
}

func APIRouterOf(issuer Issuer) *APIRouter {
	ret := &APIRouter{
		issuer: issuer,
	}
	ret.registerMux()
	return ret
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func (ar *APIRouter) registerMux() {
	ar.Router = gmux.NewRouter()
	ar.HandleFunc("/token/{ClientID}", ar.issueTokenHlr).Methods("POST")
	ar.HandleFunc("/admin/clients", ar.listAllClientsHlr).Methods("GET")
	ar.HandleFunc("/admin/clients/{ClientID}", ar.getClientInfoHlr).Methods("GET")
	ar.HandleFunc("/admin/clients/{ClientID}", ar.deleteClientHlr).Methods("DELETE")
	ar.HandleFunc("/admin/clients/{ClientID}/revoke", ar.revokeClientHlr).Methods("POST")
	ar.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	})
	ar.Use(corsMiddleware)
}

func clientIDOf(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	s := gmux.Vars(r)["ClientID"]
	if s == "" {
		http.Error(w, "ClientID cannot be empty", http.StatusBadRequest)
		return 0, false
	}
	clientID, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return clientID, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	resp, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}

func (ar *APIRouter) issueTokenHlr(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDOf(w, r)
	if !ok {
		return
	}

	var req TokenRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	tok, err := ar.issuer.IssueToken(clientID, req.UserData)
	switch {
	case errors.Is(err, ErrClientRevoked):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case errors.Is(err, token.ErrUserDataSize):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, TokenResponse{
		ClientID:        clientID,
		ExpireTimestamp: tok.ExpireTimestamp,
		ConnectToken:    tok.Bytes(),
	})
}

func (ar *APIRouter) listAllClientsHlr(w http.ResponseWriter, r *http.Request) {
	infos, err := ar.issuer.ListAllClients()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, infos)
}

func (ar *APIRouter) getClientInfoHlr(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDOf(w, r)
	if !ok {
		return
	}
	info, err := ar.issuer.GetClientInfo(clientID)
	if errors.Is(err, ErrClientNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, info)
}

func (ar *APIRouter) revokeClientHlr(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDOf(w, r)
	if !ok {
		return
	}
	if err := ar.issuer.RevokeClient(clientID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (ar *APIRouter) deleteClientHlr(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDOf(w, r)
	if !ok {
		return
	}
	err := ar.issuer.DeleteClient(clientID)
	if errors.Is(err, ErrClientNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
