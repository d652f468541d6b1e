/*
 * Copyright 2025 The Yorkie Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/yorkie-team/docsync/pkg/errors"
)

var (
	// ErrUnexpectedSigningMethod is returned when the signing method is unexpected.
	ErrUnexpectedSigningMethod = errors.Unauthenticated("unexpected signing method").
					WithCode("ErrUnexpectedSigningMethod")

	// ErrInvalidToken is returned when the token cannot be verified.
	ErrInvalidToken = errors.Unauthenticated("invalid token").WithCode("ErrInvalidToken")
)

// UserClaims is a JWT claims struct for a user. The uid is carried in the
// subject.
type UserClaims struct {
	jwt.StandardClaims
}

// User returns the user of these claims.
func (c *UserClaims) User() User {
	return NewUser(c.Subject)
}

// TokenManager issues and verifies tokens signed with a shared secret.
type TokenManager struct {
	secretKey     string
	tokenDuration time.Duration
	now           func() time.Time
}

// NewTokenManager creates a new TokenManager.
func NewTokenManager(secretKey string, tokenDuration time.Duration) *TokenManager {
	return &TokenManager{
		secretKey:     secretKey,
		tokenDuration: tokenDuration,
		now:           time.Now,
	}
}

// Generate generates a new token for the user.
func (m *TokenManager) Generate(user User) (string, error) {
	now := m.now()
	claims := UserClaims{
		StandardClaims: jwt.StandardClaims{
			Subject:   user.UID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(m.tokenDuration).Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(m.secretKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signedToken, nil
}

// Verify verifies the given token and returns its claims.
func (m *TokenManager) Verify(token string) (*UserClaims, error) {
	claims := &UserClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%s: %w", token.Method.Alg(), ErrUnexpectedSigningMethod)
		}
		return []byte(m.secretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token %v: %w", err, ErrInvalidToken)
	}

	return claims, nil
}

// UserOf reads the user of the given token without verifying its signature.
// The client uses it to learn who a token provided by the application
// belongs to.
func UserOf(token string) (User, error) {
	claims := &UserClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return Unauthenticated, fmt.Errorf("parse token %v: %w", err, ErrInvalidToken)
	}
	return claims.User(), nil
}
