/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logging builds the structured logger shared by the Agent and
// Server processes and injects it into a context.Context the way
// controller-runtime does, so the rest of the codebase can pull it back out
// with log.FromContext without passing a *logr.Logger through every call.
package logging

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	controllerruntimelog "sigs.k8s.io/controller-runtime/pkg/log"
)

// Build constructs a logr.Logger backed by zap, configured by level and
// format ("json" or "console"). component is attached to every log line so
// Agent and Server output can be told apart in shared aggregation.
func Build(level, format, component string) (logr.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return logr.Logger{}, fmt.Errorf("parsing log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	zl, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, fmt.Errorf("building zap logger: %w", err)
	}
	return zapr.NewLogger(zl).WithValues("component", component), nil
}

// IntoContext installs logger for retrieval via FromContext, mirroring
// controller-runtime's log.IntoContext so pipeline stages and provider code
// can share the same access pattern regardless of which process they run in.
func IntoContext(ctx context.Context, logger logr.Logger) context.Context {
	return controllerruntimelog.IntoContext(ctx, logger)
}

// FromContext returns the logger installed by IntoContext, or a no-op logger
// if none was installed.
func FromContext(ctx context.Context) logr.Logger {
	return controllerruntimelog.FromContext(ctx)
}
