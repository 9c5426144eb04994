// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

// UserVisibleError is implemented by errors that the CLI and the HTTP trigger
// surface render directly to the person who started a run.
type UserVisibleError interface {
	error

	// IsUserVisible reports whether the message is safe to show.
	IsUserVisible() bool

	// UserMessage returns the message without wrapping context.
	UserMessage() string

	// Suggestion returns a hint for fixing the problem, or "".
	Suggestion() string
}

// ErrorClassifier lets the dispatcher and runner decide how to treat an error
// without matching on concrete types.
type ErrorClassifier interface {
	error

	// ErrorType returns the error category, e.g. "validation" or "timeout".
	ErrorType() string

	// IsRetryable reports whether repeating the operation may succeed.
	IsRetryable() bool
}
