// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package pty

import "os"

const defaultChatBinary = "opencode"

// ChatArgsInput describes the parameters the chat terminal needs to
// compose an attach command for the coding-agent CLI.
type ChatArgsInput struct {
	SessionID string
	Dir       string
	Theme     string
}

// BuildChatArgv resolves the coding-agent binary (overridable via
// HIVE_OPENCODE_BIN) and composes its attach arguments. Two calls with
// the same input produce the same argv, which is what makes
// EnsureSession's sameLaunch comparison idempotent for the chat flavor.
func BuildChatArgv(in ChatArgsInput) []string {
	bin := os.Getenv("HIVE_OPENCODE_BIN")
	if bin == "" {
		bin = defaultChatBinary
	}
	argv := []string{bin, "--session", in.SessionID, "--dir", in.Dir}
	if in.Theme != "" {
		argv = append(argv, "--theme", in.Theme)
	}
	return argv
}
