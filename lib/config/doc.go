// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for socialmux.
//
// Configuration is loaded from a single file named either by the
// SOCIALMUX_CONFIG environment variable (via [Load]) or by a --config
// flag (via [LoadFile]). There is no discovery and no search path.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production enables the metrics listener
// on localhost unless the file says otherwise.
//
// ${HOME}, ${XDG_CACHE_HOME}, and ${VAR:-default} patterns are expanded
// in the credentials file path and in the homeserver URL. Secrets (the
// Matrix password) never live in the file; the daemon reads them from
// its environment or a terminal prompt.
//
// This package depends on no other socialmux packages.
package config
