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

// Package auth provides the users and the credentials of the sync engine.
package auth

// anonymousKey is the persistence key of the unauthenticated user.
const anonymousKey = "anonymous"

// User is the user on whose behalf the engine reads and writes. Local data
// such as the mutation queue is partitioned by user.
type User struct {
	UID string
}

// Unauthenticated is the user of a client without credentials.
var Unauthenticated = User{}

// NewUser creates a new User with the given uid.
func NewUser(uid string) User {
	return User{UID: uid}
}

// IsAuthenticated returns whether this user has a uid.
func (u User) IsAuthenticated() bool {
	return u.UID != ""
}

// Key returns the key that partitions the local data of this user.
func (u User) Key() string {
	if !u.IsAuthenticated() {
		return anonymousKey
	}
	return u.UID
}

// String returns the string representation of this user.
func (u User) String() string {
	return u.Key()
}
