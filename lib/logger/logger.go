// Copyright (C) 2026 The IGD-Go Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package logger hands out named per-facility loggers.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger for the given facility, writing to stderr. Debug
// output is enabled for a facility when the IGDTRACE environment variable
// contains its name, or for all facilities when it is "all".
func New(facility string) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	if t := os.Getenv("IGDTRACE"); t == "all" || strings.Contains(t, facility) {
		level = zapcore.DebugLevel
	}

	enc := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), level)
	return zap.New(core).Named(facility).Sugar()
}
