// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oxen-ai/oxen-go/modules/ekind"
)

const bearerPrefix = "Bearer "

// BearerMD is the claim set oxen tokens carry. The server only
// verifies tokens it is handed — issuance and credential storage live
// outside the core.
type BearerMD struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// GenerateJWT mints an HS256 token for subject, used by deployments
// that let the hub itself hand out tokens (and by tests).
func GenerateJWT(signingKey, subject string, claims BearerMD) (string, error) {
	claims.Subject = subject
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(signingKey))
}

// authenticate returns the caller's user identifier. With no signing
// key configured the server is open and every caller is "anonymous";
// otherwise a valid bearer token is required and its subject is the
// identifier the staging area is keyed by.
func (s *Server) authenticate(r *http.Request) (string, error) {
	if s.cfg.SigningKey == "" {
		return "anonymous", nil
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", ekind.New(ekind.AuthFailed, "missing bearer token")
	}
	raw := strings.TrimPrefix(header, bearerPrefix)
	var md BearerMD
	token, err := jwt.ParseWithClaims(raw, &md, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ekind.New(ekind.AuthFailed, "unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.SigningKey), nil
	})
	if err != nil || !token.Valid {
		return "", ekind.Wrap(ekind.AuthFailed, err, "invalid bearer token")
	}
	if md.Subject == "" {
		return "", ekind.New(ekind.AuthFailed, "token has no subject")
	}
	return md.Subject, nil
}
