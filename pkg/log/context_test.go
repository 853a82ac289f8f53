// Copyright 2026 Stackmesh Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmesh/stackmesh/pkg/log"
	"github.com/stackmesh/stackmesh/pkg/log/testlog"
)

func TestCtxWith(t *testing.T) {
	logger := testlog.NewLogger(t)
	ctx := log.CtxWith(context.Background(), logger)
	assert.Same(t, logger, log.FromCtx(ctx))
}

func TestFromCtxFallsBackToRoot(t *testing.T) {
	require.NotNil(t, log.FromCtx(context.Background()))
	require.NotNil(t, log.FromCtx(nil))
}

func TestWithLabels(t *testing.T) {
	parent := log.CtxWith(context.Background(), testlog.NewLogger(t))
	ctx, logger := log.WithLabels(parent, "client", 7)
	require.NotNil(t, logger)
	// The labeled logger is a child, not the parent logger.
	assert.NotSame(t, log.FromCtx(parent), logger)
	assert.Same(t, logger, log.FromCtx(ctx))
	logger.Debug("labeled")
}
