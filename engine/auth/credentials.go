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
	"context"
	"fmt"
	gosync "sync"
)

// Token is a credential attached to the requests of a user.
type Token struct {
	Value string
	User  User
}

// CredentialsProvider provides the tokens of the current user and reports
// user changes.
type CredentialsProvider interface {
	// GetToken returns the token of the current user. A nil token means the
	// requests are sent without credentials.
	GetToken(ctx context.Context) (*Token, error)

	// InvalidateToken forces the next GetToken to refresh the token.
	InvalidateToken()

	// SetChangeListener registers the listener that is called with the
	// current user immediately and whenever the user changes.
	SetChangeListener(listener func(User))

	// RemoveChangeListener removes the listener.
	RemoveChangeListener()
}

// EmptyCredentialsProvider always reports the unauthenticated user.
type EmptyCredentialsProvider struct{}

// GetToken returns no token.
func (p *EmptyCredentialsProvider) GetToken(_ context.Context) (*Token, error) {
	return nil, nil
}

// InvalidateToken does nothing.
func (p *EmptyCredentialsProvider) InvalidateToken() {}

// SetChangeListener calls the listener with the unauthenticated user.
func (p *EmptyCredentialsProvider) SetChangeListener(listener func(User)) {
	listener(Unauthenticated)
}

// RemoveChangeListener does nothing.
func (p *EmptyCredentialsProvider) RemoveChangeListener() {}

// TokenCredentialsProvider issues tokens with a TokenManager for the user it
// is signed in as.
type TokenCredentialsProvider struct {
	manager *TokenManager

	mu          gosync.Mutex
	user        User
	token       *Token
	listener    func(User)
	invalidated bool
}

// NewTokenCredentialsProvider creates a provider signed in as the given user.
func NewTokenCredentialsProvider(manager *TokenManager, user User) *TokenCredentialsProvider {
	return &TokenCredentialsProvider{
		manager: manager,
		user:    user,
	}
}

// GetToken returns the cached token or generates a new one.
func (p *TokenCredentialsProvider) GetToken(ctx context.Context) (*Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.user.IsAuthenticated() {
		return nil, nil
	}
	if p.token != nil && !p.invalidated {
		return p.token, nil
	}

	value, err := p.manager.Generate(p.user)
	if err != nil {
		return nil, fmt.Errorf("get token of %s: %w", p.user, err)
	}
	p.token = &Token{Value: value, User: p.user}
	p.invalidated = false
	return p.token, nil
}

// InvalidateToken drops the cached token.
func (p *TokenCredentialsProvider) InvalidateToken() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidated = true
}

// SetChangeListener registers the listener and calls it with the current user.
func (p *TokenCredentialsProvider) SetChangeListener(listener func(User)) {
	p.mu.Lock()
	p.listener = listener
	user := p.user
	p.mu.Unlock()

	listener(user)
}

// RemoveChangeListener removes the listener.
func (p *TokenCredentialsProvider) RemoveChangeListener() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = nil
}

// SignIn switches the provider to the given user and notifies the listener.
// Signing in as the current user does nothing.
func (p *TokenCredentialsProvider) SignIn(user User) {
	p.mu.Lock()
	if p.user == user {
		p.mu.Unlock()
		return
	}
	p.user = user
	p.token = nil
	listener := p.listener
	p.mu.Unlock()

	if listener != nil {
		listener(user)
	}
}

// SignOut switches the provider to the unauthenticated user.
func (p *TokenCredentialsProvider) SignOut() {
	p.SignIn(Unauthenticated)
}

// StaticCredentialsProvider sends a token issued elsewhere. The user is read
// from the token and never changes.
type StaticCredentialsProvider struct {
	token *Token
}

// NewStaticCredentialsProvider creates a provider of the given token.
func NewStaticCredentialsProvider(token string) (*StaticCredentialsProvider, error) {
	user, err := UserOf(token)
	if err != nil {
		return nil, err
	}
	return &StaticCredentialsProvider{token: &Token{Value: token, User: user}}, nil
}

// GetToken returns the token.
func (p *StaticCredentialsProvider) GetToken(_ context.Context) (*Token, error) {
	return p.token, nil
}

// InvalidateToken does nothing as the token can not be refreshed.
func (p *StaticCredentialsProvider) InvalidateToken() {}

// SetChangeListener calls the listener with the user of the token.
func (p *StaticCredentialsProvider) SetChangeListener(listener func(User)) {
	listener(p.token.User)
}

// RemoveChangeListener does nothing.
func (p *StaticCredentialsProvider) RemoveChangeListener() {}
