// Package sysio implements the system-facing node handlers: shell commands,
// cryptographic operations and sandboxed expressions.
package sysio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"time"

	"github.com/lyzr/flowcore/common/node"
	"github.com/lyzr/flowcore/common/value"
)

// destructivePatterns match commands never run without an explicit override.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|\s)rm\s+-rf\s+/`),
	regexp.MustCompile(`(^|\s)rm\s+-r\s+-f\s`),
	regexp.MustCompile(`(^|\s)shutdown(\s|$)`),
	regexp.MustCompile(`(^|\s)reboot(\s|$)`),
	regexp.MustCompile(`(^|\s)mkfs`),
	regexp.MustCompile(`(^|\s)dd\s+if=`),
	regexp.MustCompile(`(curl|wget)[^|]*\|\s*(ba)?sh`),
	regexp.MustCompile(`\$\(`),
	regexp.MustCompile("`"),
}

// defaultCommandTimeout bounds command runtime unless configured.
const defaultCommandTimeout = 60 * time.Second

// Command runs a shell command. Disabled unless the deployment enables it,
// and destructive patterns are blocked unless the node config explicitly
// allows them.
type Command struct {
	node.Base
	enabled bool
	log     node.Logger
}

// NewCommand creates the executeCommand handler. enabled is the
// deployment-level gate; a disabled handler fails every execution.
func NewCommand(enabled bool, log node.Logger) *Command {
	return &Command{
		Base: node.Base{Def: node.Definition{
			Type:        "executeCommand",
			DisplayName: "Execute Command",
			Description: "Run a shell command and capture its output",
			Icon:        "terminal",
			Category:    "system",
			Schema: node.ObjectSchema(map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "Command line passed to the shell",
				},
				"cwd": map[string]interface{}{
					"type": "string",
				},
				"env": map[string]interface{}{
					"type":        "object",
					"description": "Environment overlay applied on top of the process env",
				},
				"timeoutSec": map[string]interface{}{
					"type":    "integer",
					"default": 60,
				},
				"allowDestructive": map[string]interface{}{
					"type":    "boolean",
					"default": false,
				},
				"failOnError": map[string]interface{}{
					"type":    "boolean",
					"default": false,
				},
			}, "command"),
			Interface: node.Ports([]string{"main"}, []string{"out"}),
			Async:     true,
		}},
		enabled: enabled,
		log:     log,
	}
}

// Execute runs the command through `sh -c` with the configured overlay.
func (h *Command) Execute(ctx context.Context, nc *node.Context) *node.Result {
	if !h.enabled {
		return node.Fail(node.KindSecurity, "command execution is disabled on this deployment")
	}
	command := nc.ConfigString("command", "")
	if command == "" {
		return node.Fail(node.KindValidation, "command is required")
	}

	if !nc.ConfigBool("allowDestructive", false) {
		for _, pattern := range destructivePatterns {
			if pattern.MatchString(command) {
				return node.Fail(node.KindSecurity, "command blocked by pattern %q", pattern.String())
			}
		}
	}

	timeout := time.Duration(nc.ConfigInt("timeoutSec", 60)) * time.Second
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	if cwd := nc.ConfigString("cwd", ""); cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = os.Environ()
	for k, v := range nc.ConfigMap("env") {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, value.ToString(v)))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	if cmdCtx.Err() == context.DeadlineExceeded {
		return node.Fail(node.KindTimeout, "command timed out after %s", timeout)
	}

	exitCode := 0
	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			return node.Fail(node.KindInternal, "failed to run command: %v", runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	if h.log != nil {
		h.log.Debug("command finished", "exit_code", exitCode, "duration_ms", time.Since(start).Milliseconds())
	}

	output := map[string]interface{}{
		"stdout":   stdout.String(),
		"stderr":   stderr.String(),
		"exitCode": exitCode,
	}
	if exitCode != 0 && nc.ConfigBool("failOnError", false) {
		return node.Fail(node.KindInternal, "command exited with code %d", exitCode).WithPartial(output)
	}
	return node.Succeed(output)
}
