package hub

// Message types on the command-deck socket. Every frame is a JSON object
// with a "type" discriminator; payloads ride in "content" unless noted.
const (
	TypeAgentStatus        = "agent_status"
	TypeSystemLog          = "system_log"
	TypeAuraResponse       = "aura_response"
	TypePhase              = "phase"
	TypeMissionLogUpdated  = "mission_log_updated"
	TypeActiveTaskUpdated  = "active_task_updated"
	TypeCodeStreamChunk    = "code_stream_chunk"
	TypeFileWritingPending = "file_writing_pending"
	TypeFileContentUpdated = "file_content_updated"
	TypeFileTreeUpdated    = "file_tree_updated"
	TypeMissionSuccess     = "mission_success"
	TypeMissionFailure     = "mission_failure"
	TypeInternalWSStatus   = "internal_ws_status"
	TypePing               = "ping"
)

// Message is one outbound frame.
type Message = map[string]any

// AgentStatus reports "idle" or "thinking".
func AgentStatus(status string) Message {
	return Message{"type": TypeAgentStatus, "status": status}
}

// SystemLog carries errors and informational user-facing notes.
func SystemLog(content string) Message {
	return Message{"type": TypeSystemLog, "content": content}
}

// AuraResponse carries companion chat and conductor narration.
func AuraResponse(content string) Message {
	return Message{"type": TypeAuraResponse, "content": content}
}

// Phase labels plan-assembly stage transitions.
func Phase(content string) Message {
	return Message{"type": TypePhase, "content": content}
}

// MissionLogUpdated carries the authoritative task snapshot.
func MissionLogUpdated(tasks any) Message {
	return Message{"type": TypeMissionLogUpdated, "content": map[string]any{"tasks": tasks}}
}

// ActiveTaskUpdated announces the task the conductor is starting.
func ActiveTaskUpdated(taskID int) Message {
	return Message{"type": TypeActiveTaskUpdated, "content": map[string]any{"taskId": taskID}}
}

// CodeStreamChunk carries one streamed token of generated code.
func CodeStreamChunk(filePath, chunk string) Message {
	return Message{"type": TypeCodeStreamChunk, "content": map[string]any{"filePath": filePath, "chunk": chunk}}
}

// FileWritingPending fires just before a write_file action runs.
func FileWritingPending(filePath string) Message {
	return Message{"type": TypeFileWritingPending, "content": map[string]any{"filePath": filePath}}
}

// FileContentUpdated carries the full content of a freshly written file.
func FileContentUpdated(filePath, content string) Message {
	return Message{"type": TypeFileContentUpdated, "content": map[string]any{"filePath": filePath, "content": content}}
}

// FileTreeUpdated carries a tree snapshot after a filesystem mutation.
func FileTreeUpdated(tree any) Message {
	return Message{"type": TypeFileTreeUpdated, "content": tree}
}

// MissionSuccess is the terminal success frame.
func MissionSuccess() Message {
	return Message{"type": TypeMissionSuccess}
}

// MissionFailure is the terminal failure frame.
func MissionFailure(content string) Message {
	return Message{"type": TypeMissionFailure, "content": content}
}

// Connected is the handshake acknowledgement.
func Connected() Message {
	return Message{"type": TypeInternalWSStatus, "content": "connected"}
}
