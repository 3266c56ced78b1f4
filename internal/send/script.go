package send

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ScriptSender drives the fire-and-forget channel by invoking an external
// command, the way the host application is normally automated. The command
// receives the chat identifier, the text, and the attachment path (empty when
// none) as arguments and must exit zero on success.
type ScriptSender struct {
	command string
	args    []string
}

// NewScriptSender creates a sender from a command line. The first token is
// the executable, the rest become leading arguments.
func NewScriptSender(commandLine string) (*ScriptSender, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("send command must not be empty")
	}
	return &ScriptSender{command: fields[0], args: fields[1:]}, nil
}

// Send invokes the command. Output is returned in the error on failure; there
// is no confirmation payload on success.
func (s *ScriptSender) Send(ctx context.Context, chatID, text, attachmentPath string) error {
	args := append(append([]string{}, s.args...), chatID, text, attachmentPath)
	out, err := exec.CommandContext(ctx, s.command, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("send command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
