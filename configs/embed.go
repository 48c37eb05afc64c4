// Package configs provides embedded configuration templates for tabsense.
//
// Templates are embedded at build time with Go's //go:embed directive so
// they ship inside the binary regardless of how it was installed. The
// user config template is written by `tabsense config init` and doubles
// as the documented reference for every setting: each value is commented
// out and shows its default.
//
// Configuration hierarchy (see internal/config Load):
//  1. Hardcoded defaults (internal/config NewConfig)
//  2. User config (~/.config/tabsense/config.yaml)
//  3. Profile config (<profile>/config.yaml)
//  4. Environment variables (TABSENSE_*)
package configs

import _ "embed"

// UserConfigTemplate is the machine-level configuration template.
// Created by `tabsense config init` at ~/.config/tabsense/config.yaml.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
