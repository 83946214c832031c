package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	// AuthorizationHeader is the header key to get the authorization token
	AuthorizationHeader = "authorization"
	tokenPrefix         = "Bearer "
)

// BearerAuthenticate protects every route but /version behind the token.
func BearerAuthenticate(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "" && r.URL.Path != "/" && r.URL.Path != "/version" {
			if err := authenticate(token, r.Header.Get(AuthorizationHeader)); err != nil {
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(err.Error())
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func authenticate(expected, token string) error {
	if expected == "" {
		return nil // No auth required
	}
	if token == "" {
		return fmt.Errorf("token not found")
	}
	if !strings.HasPrefix(token, tokenPrefix) {
		return fmt.Errorf(`missing "` + tokenPrefix + `" prefix`)
	}
	if strings.TrimPrefix(token, tokenPrefix) != expected {
		return fmt.Errorf("invalid token")
	}
	return nil
}
