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
package errors_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	flowerrors "github.com/tombee/autoflow/pkg/errors"
)

func TestValidationError_Message(t *testing.T) {
	err := &flowerrors.ValidationError{Field: "steps[0].stepId", Message: "unknown kind"}
	assert.Equal(t, "validation failed on steps[0].stepId: unknown kind", err.Error())

	bare := &flowerrors.ValidationError{Message: "empty automation"}
	assert.Equal(t, "validation failed: empty automation", bare.Error())
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  string
		retryable bool
	}{
		{"validation", &flowerrors.ValidationError{Message: "x"}, "validation", false},
		{"not found", &flowerrors.NotFoundError{Resource: "automation", ID: "a1"}, "not_found", false},
		{"config", &flowerrors.ConfigError{Key: "server.addr", Reason: "empty"}, "config", false},
		{"conflict", &flowerrors.ConflictError{Resource: "row", ID: "r1", Revision: "1-a"}, "conflict", false},
		{"provider rate limited", &flowerrors.ProviderError{Provider: "openai", StatusCode: 429, Message: "slow down"}, "provider", true},
		{"provider bad request", &flowerrors.ProviderError{Provider: "openai", StatusCode: 400, Message: "bad"}, "provider", false},
		{"timeout", &flowerrors.TimeoutError{Operation: "step s1", Duration: time.Second}, "timeout", true},
		{"plain", fmt.Errorf("boom"), "internal", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := flowerrors.Wrap(tt.err, "running")
			assert.Equal(t, tt.wantType, flowerrors.TypeOf(wrapped))
			assert.Equal(t, tt.retryable, flowerrors.IsRetryable(wrapped))
		})
	}
}

func TestWrap_Nil(t *testing.T) {
	assert.NoError(t, flowerrors.Wrap(nil, "ctx"))
	assert.NoError(t, flowerrors.Wrapf(nil, "ctx %d", 1))
}

func TestConfigError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("parse failure")
	err := flowerrors.Wrapf(&flowerrors.ConfigError{Key: "k", Reason: "bad", Cause: cause}, "loading %s", "file")
	assert.ErrorIs(t, err, cause)

	var cfgErr *flowerrors.ConfigError
	assert.True(t, flowerrors.As(err, &cfgErr))
	assert.Equal(t, "check the value of \"k\"", cfgErr.Suggestion())
}

func TestIsNotFoundAndConflict(t *testing.T) {
	nf := flowerrors.Wrap(&flowerrors.NotFoundError{Resource: "row", ID: "r1"}, "get")
	assert.True(t, flowerrors.IsNotFound(nf))
	assert.False(t, flowerrors.IsConflict(nf))

	conflict := flowerrors.Wrap(&flowerrors.ConflictError{Resource: "row", ID: "r1"}, "update")
	assert.True(t, flowerrors.IsConflict(conflict))
	assert.False(t, flowerrors.IsNotFound(conflict))
	assert.False(t, flowerrors.IsNotFound(nil))
}
