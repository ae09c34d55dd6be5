package agentsession

import (
	"context"
	"strings"

	"github.com/coder/acp-go-sdk"

	"github.com/sudocode/controlplane/internal/controlplane/coordinator"
)

// acpSession is one conversation turn against an acpAgent's subprocess.
// Update types mirror SessionUpdate.Type in coordinator: agent_message_chunk
// frames coalesce into a single agent_message_complete, and a tool_call's
// lifecycle coalesces into a single tool_call_complete once its update
// reports a terminal status.
type acpSession struct {
	agent *acpAgent
	id    string
	cwd   string
}

func (s *acpSession) ID() string  { return s.id }
func (s *acpSession) Cwd() string { return s.cwd }

func (s *acpSession) Prompt(ctx context.Context, text string) (<-chan coordinator.SessionUpdate, error) {
	out := make(chan coordinator.SessionUpdate, 64)
	done := make(chan error, 1)

	go func() {
		_, err := s.agent.conn.Prompt(ctx, acp.PromptRequest{
			SessionId: acp.SessionId(s.id),
			Prompt:    []acp.ContentBlock{acp.TextBlock(text)},
		})
		done <- err
	}()

	go s.coalesce(out, done)
	return out, nil
}

func (s *acpSession) coalesce(out chan<- coordinator.SessionUpdate, done <-chan error) {
	defer close(out)
	var message strings.Builder

	for {
		select {
		case n := <-s.agent.notifications:
			if string(n.SessionId) != s.id {
				continue
			}
			if update, ok := convertUpdate(n); ok {
				if update.Type == "agent_message_chunk" {
					message.WriteString(update.Payload.(string))
				}
				out <- update
			}
		case err := <-done:
			s.drainRemaining(out, &message)
			if message.Len() > 0 {
				out <- coordinator.SessionUpdate{Type: "agent_message_complete", SessionID: s.id, Payload: message.String()}
			}
			out <- coordinator.SessionUpdate{Type: "turn_complete", SessionID: s.id, Payload: err}
			return
		}
	}
}

// drainRemaining flushes any notifications already queued at turn end so a
// final tool_call_update arriving just before the prompt call returns is not
// lost to the race between the two channels.
func (s *acpSession) drainRemaining(out chan<- coordinator.SessionUpdate, message *strings.Builder) {
	for {
		select {
		case n := <-s.agent.notifications:
			if string(n.SessionId) != s.id {
				continue
			}
			if update, ok := convertUpdate(n); ok {
				if update.Type == "agent_message_chunk" {
					message.WriteString(update.Payload.(string))
				}
				out <- update
			}
		default:
			return
		}
	}
}

func (s *acpSession) Cancel(ctx context.Context) error {
	return s.agent.conn.Cancel(ctx, acp.CancelNotification{SessionId: acp.SessionId(s.id)})
}

func convertUpdate(n acp.SessionNotification) (coordinator.SessionUpdate, bool) {
	u := n.Update
	sid := string(n.SessionId)

	switch {
	case u.AgentMessageChunk != nil && u.AgentMessageChunk.Content.Text != nil:
		return coordinator.SessionUpdate{Type: "agent_message_chunk", SessionID: sid, Payload: u.AgentMessageChunk.Content.Text.Text}, true

	case u.AgentThoughtChunk != nil && u.AgentThoughtChunk.Content.Text != nil:
		return coordinator.SessionUpdate{Type: "agent_thought_chunk", SessionID: sid, Payload: u.AgentThoughtChunk.Content.Text.Text}, true

	case u.ToolCall != nil:
		return coordinator.SessionUpdate{Type: "tool_call", SessionID: sid, Payload: u.ToolCall}, true

	case u.ToolCallUpdate != nil:
		status := ""
		if u.ToolCallUpdate.Status != nil {
			status = string(*u.ToolCallUpdate.Status)
		}
		if status == "completed" || status == "failed" {
			return coordinator.SessionUpdate{Type: "tool_call_complete", SessionID: sid, Payload: u.ToolCallUpdate}, true
		}
		return coordinator.SessionUpdate{Type: "tool_call_update", SessionID: sid, Payload: u.ToolCallUpdate}, true

	case u.Plan != nil:
		return coordinator.SessionUpdate{Type: "plan", SessionID: sid, Payload: u.Plan}, true
	}
	return coordinator.SessionUpdate{}, false
}

var _ coordinator.Session = (*acpSession)(nil)
