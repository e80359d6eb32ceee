// Copyright 2025 Google LLC
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

package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextOutputUsesSeverityAndMessageFieldNames(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, TRACE, false)
	defer SetOutput(os.Stderr, DEBUG, false)

	Tracef("hello %s", "world")

	line := buf.String()
	assert.Contains(t, line, "severity=TRACE")
	assert.Contains(t, line, `message="hello world"`)
	assert.False(t, strings.Contains(line, "msg="), "default slog msg= key must be renamed")
}

func TestJSONOutputUsesSeverityAndMessageFieldNames(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, DEBUG, true)
	defer SetOutput(os.Stderr, DEBUG, false)

	Debugf("starting up")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "DEBUG", decoded["severity"])
	assert.Equal(t, "starting up", decoded["message"])
	_, hasMsg := decoded["msg"]
	assert.False(t, hasMsg, "default slog msg key must be renamed")
}
