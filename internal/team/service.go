// Package team implements the agent roster: intent detection, the planning
// assembly line (Architect, Auditor, Sequencer), companion chat, streaming
// code generation, strategic re-planning, the final polish linter, and
// mission summaries. Each agent is one prompt template plus one gateway
// call under a configured role.
package team

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"aura/internal/hub"
	"aura/internal/llmgate"
	"aura/internal/logging"
	"aura/internal/metrics"
	"aura/internal/missioncontrol"
	"aura/internal/missionlog"
	"aura/internal/pysrc"
	"aura/internal/store"
	"aura/internal/workspace"
)

// Intents returned by DetermineIntent.
const (
	IntentPlan = "PLAN"
	IntentChat = "CHAT"
)

// Roles a model can be assigned to.
const (
	RolePlanner = "planner"
	RoleCoder   = "coder"
	RoleChat    = "chat"
)

// Fix is one patch suggested by the polish linter.
type Fix struct {
	FilePath            string `json:"file_path"`
	OriginalCodeSnippet string `json:"original_code_snippet"`
	FixedCodeSnippet    string `json:"fixed_code_snippet"`
	Reason              string `json:"reason"`
}

// ToolSelectContext is the bundle the conductor assembles for tool choice.
type ToolSelectContext struct {
	CurrentTask      string
	MissionLog       string
	FileStructure    string
	ActiveFileState  string
	AvailableTools   string
	RelevantSnippets string
}

// Service wires the agents to one user's session: the account store for
// model assignments and keys, the gateway streamer, the broadcast hub, and
// the active project's workspace and mission log.
type Service struct {
	store    *store.Store
	streamer *llmgate.Streamer
	hub      *hub.Hub
	control  *missioncontrol.Registry
	ws       *workspace.Manager
	mission  *missionlog.Store
	log      logging.Logger
}

func NewService(st *store.Store, streamer *llmgate.Streamer, h *hub.Hub, control *missioncontrol.Registry,
	ws *workspace.Manager, mission *missionlog.Store, log logging.Logger) *Service {
	return &Service{
		store:    st,
		streamer: streamer,
		hub:      h,
		control:  control,
		ws:       ws,
		mission:  mission,
		log:      logging.OrNop(log),
	}
}

type streamOptions struct {
	isJSON   bool
	streamAs string // non-empty: fan chunks out to the user as this message type
	filePath string
}

// streamRole resolves the model assignment and API key for a role and runs
// one gateway generation. Failures come back as "Error: ..." strings, the
// convention every agent flow checks for.
func (s *Service) streamRole(ctx context.Context, userID int64, role string, messages []llmgate.Message, opt streamOptions) string {
	assignment, err := s.store.ResolveRole(userID, role)
	provider, model := assignment.Split()
	apiKey := ""
	if provider != "" {
		apiKey, _ = s.store.GetProviderKey(userID, provider)
	}
	if err != nil || provider == "" || model == "" || apiKey == "" {
		return fmt.Sprintf("Error: Missing config for role '%s' or provider '%s'. Please set it in Settings.", role, provider)
	}

	metrics.GatewayRequests.WithLabelValues(role).Inc()
	req := llmgate.Request{
		ProviderName: provider,
		ModelName:    model,
		Messages:     messages,
		Temperature:  assignment.Temperature,
		IsJSON:       opt.isJSON,
	}
	// Chunks always reach the user's socket: code generation as
	// code_stream_chunk frames, everything else as raw chunk frames the
	// client assembles into the live transcript.
	onChunk := func(chunk string) {
		if opt.streamAs != "" {
			s.hub.BroadcastToUser(hub.CodeStreamChunk(opt.filePath, chunk), userID)
			return
		}
		s.hub.BroadcastToUser(hub.Message{"type": "chunk", "content": chunk}, userID)
	}
	// Other typed envelopes (status updates, tool progress) pass through
	// to the user's socket exactly as the gateway sent them.
	onEnvelope := func(raw json.RawMessage) {
		var msg hub.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.Warn("dropping undecodable gateway envelope: %v", err)
			return
		}
		s.hub.BroadcastToUser(msg, userID)
	}
	stop := func() bool { return !s.control.IsRunning(userID) }

	reply, err := s.streamer.Stream(ctx, apiKey, req, onChunk, onEnvelope, stop)
	if errors.Is(err, llmgate.ErrStopped) {
		s.log.Info("stop request received during stream for user %d, halting", userID)
		return "Error: Operation was cancelled by the user."
	}
	if err != nil {
		s.postChat(userID, "Aura", fmt.Sprintf("Error from AI microservice: %v", err), true)
		return fmt.Sprintf("Error: %v", err)
	}
	return reply
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// parseJSONResponse decodes a model reply that should be a JSON object.
// Replies wrapped in prose or slightly malformed are recovered by repairing
// the text, then by extracting the outermost brace span.
func parseJSONResponse(response string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(response), &out); err == nil {
		return out, nil
	}
	if repaired, err := jsonrepair.JSONRepair(response); err == nil {
		if json.Unmarshal([]byte(repaired), &out) == nil {
			return out, nil
		}
	}
	match := jsonObjectPattern.FindString(response)
	if match == "" {
		return nil, fmt.Errorf("no JSON object found in the response")
	}
	if err := json.Unmarshal([]byte(match), &out); err != nil {
		return nil, fmt.Errorf("decode extracted JSON object: %w", err)
	}
	return out, nil
}

func historyString(history []llmgate.Message) string {
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		lines = append(lines, msg.Role+": "+msg.Content)
	}
	return strings.Join(lines, "\n")
}

func userMessage(content string) []llmgate.Message {
	return []llmgate.Message{{Role: "user", Content: content}}
}

func isErrorReply(reply string) bool {
	return strings.HasPrefix(strings.TrimSpace(reply), "Error:")
}

// DetermineIntent classifies the user's latest message as PLAN or CHAT.
// Every failure mode falls back to CHAT so a broken detector never triggers
// an unwanted build.
func (s *Service) DetermineIntent(ctx context.Context, userID int64, userPrompt string, history []llmgate.Message) string {
	s.log.Info("determining intent for user %d: %q", userID, truncate(userPrompt, 50))
	prompt, err := renderPrompt("intent", map[string]string{
		"conversation_history": historyString(history),
		"user_prompt":          userPrompt,
	})
	if err != nil {
		s.log.Error("render intent prompt: %v", err)
		return IntentChat
	}
	reply := s.streamRole(ctx, userID, RolePlanner, userMessage(prompt), streamOptions{isJSON: true})
	if reply == "" || isErrorReply(reply) {
		s.handleError(userID, "IntentDetector", orDefault(reply, "Intent detector returned an empty response."))
		return IntentChat
	}
	data, err := parseJSONResponse(reply)
	if err != nil {
		s.handleError(userID, "IntentDetector", fmt.Sprintf("Failed to parse intent JSON: %v. Raw: %s", err, reply))
		return IntentChat
	}
	intent, _ := data["intent"].(string)
	intent = strings.ToUpper(intent)
	if intent != IntentPlan && intent != IntentChat {
		s.log.Warn("intent detector returned invalid intent %q, defaulting to CHAT", intent)
		return IntentChat
	}
	s.log.Info("detected user intent: %s", intent)
	return intent
}

// RunPlannerWorkflow drives the three-stage planning assembly line and, on
// success, installs the new plan in the mission log.
func (s *Service) RunPlannerWorkflow(ctx context.Context, userID int64, userIdea string, projectName string) {
	s.log.Info("planning assembly line initiated for user %d: %q", userID, truncate(userIdea, 50))

	// Stage 1: Architect drafts and self-critiques a blueprint.
	prompt, err := renderPrompt("architect", map[string]string{
		"user_idea":    userIdea,
		"project_name": projectName,
	})
	if err != nil {
		s.handleError(userID, "Architect", err.Error())
		return
	}
	reply := s.streamRole(ctx, userID, RolePlanner, userMessage(prompt), streamOptions{isJSON: true})
	if reply == "" || isErrorReply(reply) {
		s.handleError(userID, "Architect", orDefault(reply, "Architect AI returned an empty response."))
		return
	}
	data, err := parseJSONResponse(reply)
	if err != nil {
		s.handleError(userID, "Architect", fmt.Sprintf("Failed to create a valid blueprint: %v.", err))
		return
	}
	blueprint, ok := data["final_blueprint"].(map[string]any)
	if !ok || len(blueprint) == 0 {
		s.handleError(userID, "Architect", "Failed to create a valid blueprint: final_blueprint was missing or malformed.")
		return
	}

	// Stage 2: Auditor verifies the blueprint against the user's request.
	if !s.runPlanAudit(ctx, userID, userIdea, blueprint) {
		return
	}

	// Stage 3: Sequencer turns the blueprint into ordered tasks.
	s.hub.BroadcastToUser(hub.Phase("Sequencer is generating the detailed task list..."), userID)
	blueprintJSON, _ := json.MarshalIndent(blueprint, "", "  ")
	prompt, err = renderPrompt("sequencer", map[string]string{"blueprint": string(blueprintJSON)})
	if err != nil {
		s.handleError(userID, "Sequencer", err.Error())
		return
	}
	reply = s.streamRole(ctx, userID, RolePlanner, userMessage(prompt), streamOptions{isJSON: true})
	if reply == "" || isErrorReply(reply) {
		s.handleError(userID, "Sequencer", orDefault(reply, "Sequencer AI returned an empty response."))
		return
	}
	planData, err := parseJSONResponse(reply)
	if err != nil {
		s.handleError(userID, "Sequencer", fmt.Sprintf("Failed to create a valid plan: %v.", err))
		return
	}
	steps := stringList(planData["final_plan"])
	if len(steps) == 0 {
		s.handleError(userID, "Sequencer", "Failed to create a valid plan: final_plan was empty or malformed.")
		return
	}

	if deps := stringList(blueprint["dependencies"]); len(deps) > 0 {
		steps = append([]string{"Add the following dependencies to requirements.txt: " + strings.Join(deps, ", ")}, steps...)
	}
	if _, err := s.mission.SetInitialPlan(userIdea, steps); err != nil {
		s.handleError(userID, "Sequencer", fmt.Sprintf("Failed to save the new plan: %v", err))
		return
	}
	s.postChat(userID, "Aura", "Plan approved by Auditor. Review in 'Agent TODO' and dispatch to begin.", false)
}

// runPlanAudit asks the Auditor to check the blueprint against the prompt.
func (s *Service) runPlanAudit(ctx context.Context, userID int64, userPrompt string, blueprint map[string]any) bool {
	s.hub.BroadcastToUser(hub.Phase("Auditor is verifying the plan's correctness..."), userID)
	blueprintJSON, _ := json.MarshalIndent(blueprint, "", "  ")
	prompt, err := renderPrompt("auditor", map[string]string{
		"user_prompt": userPrompt,
		"blueprint":   string(blueprintJSON),
	})
	if err != nil {
		s.handleError(userID, "Auditor", err.Error())
		return false
	}
	reply := s.streamRole(ctx, userID, RolePlanner, userMessage(prompt), streamOptions{isJSON: true})
	if reply == "" || isErrorReply(reply) {
		s.handleError(userID, "Auditor", orDefault(reply, "Auditor returned an empty response."))
		return false
	}
	data, err := parseJSONResponse(reply)
	if err != nil {
		s.handleError(userID, "Auditor", fmt.Sprintf("Failed to parse audit JSON: %v. Raw: %s", err, reply))
		return false
	}
	if passed, _ := data["audit_passed"].(bool); passed {
		s.log.Info("audit passed: the plan is aligned with the user's request")
		return true
	}
	s.log.Error("audit failed: the Architect's plan did not match the user's core requirements")
	s.handleError(userID, "Auditor", "Audit failed. The Architect's plan was incorrect. Halting mission.")
	return false
}

// RunCompanionChat produces a conversational reply for a CHAT-intent turn.
func (s *Service) RunCompanionChat(ctx context.Context, userID int64, userPrompt string, history []llmgate.Message) string {
	s.log.Info("companion chat initiated for user %d: %q", userID, truncate(userPrompt, 50))
	prompt, err := renderPrompt("companion", map[string]string{
		"conversation_history": historyString(history),
		"user_prompt":          userPrompt,
	})
	if err != nil {
		s.log.Error("render companion prompt: %v", err)
		return "I'm sorry, I seem to be having trouble connecting to my creative core right now."
	}
	reply := s.streamRole(ctx, userID, RoleChat, userMessage(prompt), streamOptions{})
	if isErrorReply(reply) {
		s.handleError(userID, "Companion", reply)
		return "I'm sorry, I seem to be having trouble connecting to my creative core right now."
	}
	return reply
}

// relevantPlanContext renders the previous, current, and next plan entries
// around the active task.
func relevantPlanContext(taskID int, tasks []missionlog.Task) string {
	idx := -1
	for i, t := range tasks {
		if t.ID == taskID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return "Could not find the current task in the plan."
	}
	var lines []string
	if idx > 0 {
		prev := tasks[idx-1]
		label := "Pending"
		if prev.Done {
			label = "Done"
		}
		lines = append(lines, fmt.Sprintf("Previous Task (ID %d): %s [Status: %s]", prev.ID, prev.Description, label))
	}
	current := tasks[idx]
	lines = append(lines, fmt.Sprintf("--> CURRENT TASK (ID %d): %s [Status: Pending]", current.ID, current.Description))
	if idx < len(tasks)-1 {
		next := tasks[idx+1]
		lines = append(lines, fmt.Sprintf("Next Task (ID %d): %s [Status: Pending]", next.ID, next.Description))
	}
	return strings.Join(lines, "\n")
}

var codeBlockPattern = regexp.MustCompile("(?s)```(?:python\n)?(.*?)```")

// GenerateCodeForTask streams full-file code generation for one task,
// fanning chunks out to the user as they arrive, and validates the result
// before handing it back.
func (s *Service) GenerateCodeForTask(ctx context.Context, userID int64, relPath, taskDescription, userIdea string, taskID int) (string, error) {
	s.log.Info("generating code for '%s'", relPath)

	schemas, err := s.ws.ReadFile("src/schemas.py")
	if err != nil || strings.TrimSpace(schemas) == "" {
		schemas = "# src/schemas.py not found or is empty."
	}
	models, err := s.ws.ReadFile("src/models.py")
	if err != nil || strings.TrimSpace(models) == "" {
		models = "# src/models.py not found or is empty."
	}
	dataContract := fmt.Sprintf("--- Contents of src/schemas.py ---\n%s\n\n--- Contents of src/models.py ---\n%s", schemas, models)

	tasks, err := s.mission.Tasks()
	if err != nil {
		return "", fmt.Errorf("load mission log: %w", err)
	}

	prompt, err := renderPrompt("codegen", map[string]string{
		"user_idea":                 userIdea,
		"path":                      relPath,
		"task_description":          taskDescription,
		"schema_and_models_context": dataContract,
		"relevant_plan_context":     relevantPlanContext(taskID, tasks),
		"file_tree":                 s.fileTree(),
	})
	if err != nil {
		return "", err
	}

	reply := s.streamRole(ctx, userID, RoleCoder, userMessage(prompt), streamOptions{
		streamAs: hub.TypeCodeStreamChunk,
		filePath: relPath,
	})
	if isErrorReply(reply) {
		return "", errors.New(strings.TrimPrefix(strings.TrimSpace(reply), "Error: "))
	}

	code := strings.TrimSpace(reply)
	if match := codeBlockPattern.FindStringSubmatch(reply); match != nil {
		code = strings.TrimSpace(match[1])
	}
	if code == "" {
		return "", fmt.Errorf("the AI failed to generate any code for '%s', the response was empty", relPath)
	}
	if err := pysrc.Validate(ctx, code); err != nil {
		return "", fmt.Errorf("AI-generated code for '%s' has a syntax error: %v", relPath, err)
	}
	s.log.Info("generated code for '%s' is syntactically valid", relPath)
	return code, nil
}

// SelectToolCall asks the coder role to translate a task into one tool
// invocation. A nil call with nil error means the model's answer was
// unusable and the caller should retry.
func (s *Service) SelectToolCall(ctx context.Context, userID int64, bundle ToolSelectContext) (map[string]any, error) {
	prompt, err := renderPrompt("tool_select", map[string]string{
		"current_task":           bundle.CurrentTask,
		"mission_log":            bundle.MissionLog,
		"file_structure":         bundle.FileStructure,
		"active_file_context":    bundle.ActiveFileState,
		"available_tools":        bundle.AvailableTools,
		"relevant_code_snippets": bundle.RelevantSnippets,
	})
	if err != nil {
		return nil, err
	}
	reply := s.streamRole(ctx, userID, RoleCoder, userMessage(prompt), streamOptions{isJSON: true})
	if isErrorReply(reply) {
		s.log.Error("tool selection LLM call failed: %s", reply)
		return nil, nil
	}
	call, err := parseJSONResponse(reply)
	if err != nil {
		s.log.Error("failed to parse tool call response, raw: %s, error: %v", reply, err)
		return nil, nil
	}
	if _, ok := call["tool_name"]; !ok {
		s.log.Error("tool call response missing 'tool_name', raw: %s", reply)
		return nil, nil
	}
	if _, ok := call["arguments"]; !ok {
		s.log.Error("tool call response missing 'arguments', raw: %s", reply)
		return nil, nil
	}
	return call, nil
}

// RunStrategicReplan rebuilds the plan from the failed task onward.
func (s *Service) RunStrategicReplan(ctx context.Context, userID int64, originalGoal string, failedTask missionlog.Task, lastError string) {
	s.log.Info("strategic re-plan initiated for user %d", userID)
	missionLog, err := s.mission.HistorySummary()
	if err != nil {
		s.handleError(userID, "Aura", fmt.Sprintf("I failed to create a valid recovery plan: %v", err))
		return
	}
	if lastError == "" {
		lastError = "No specific error message was recorded."
	}
	prompt, err := renderPrompt("replanner", map[string]string{
		"user_goal":     originalGoal,
		"mission_log":   missionLog,
		"failed_task":   fmt.Sprintf("ID %d: %s", failedTask.ID, failedTask.Description),
		"error_message": lastError,
	})
	if err != nil {
		s.handleError(userID, "Aura", err.Error())
		return
	}
	reply := s.streamRole(ctx, userID, RolePlanner, userMessage(prompt), streamOptions{isJSON: true})
	if reply == "" || isErrorReply(reply) {
		s.handleError(userID, "Aura", orDefault(reply, "Re-planner returned an empty response."))
		return
	}
	data, err := parseJSONResponse(reply)
	if err != nil {
		s.handleError(userID, "Aura", fmt.Sprintf("I failed to create a valid recovery plan: %v", err))
		s.log.Error("re-planner failure for user %d, raw response: %s", userID, reply)
		return
	}
	steps := stringList(data["plan"])
	if len(steps) == 0 {
		s.handleError(userID, "Aura", "I failed to create a valid recovery plan: the re-planner returned an empty or malformed plan.")
		s.log.Error("re-planner failure for user %d, raw response: %s", userID, reply)
		return
	}
	if _, err := s.mission.ReplaceTasksFrom(failedTask.ID, steps); err != nil {
		s.handleError(userID, "Aura", fmt.Sprintf("I failed to save the recovery plan: %v", err))
		return
	}
	s.log.Info("replaced failed task for user %d with a new plan", userID)
	s.postChat(userID, "Aura", "I have a new plan. Resuming execution.", false)
}

// RunFinalPolishLinter reviews the mission's diff for small bugs and
// returns the suggested patches.
func (s *Service) RunFinalPolishLinter(ctx context.Context, userID int64, userIdea, fileTree, diff string) []Fix {
	s.log.Info("running final polish check on newly generated code")
	s.postChat(userID, "Conductor", "Code generation complete. Performing final quality review...", false)

	prompt, err := renderPrompt("polish", map[string]string{
		"user_idea": userIdea,
		"file_tree": fileTree,
		"git_diff":  diff,
	})
	if err != nil {
		s.handleError(userID, "FinalPolish", err.Error())
		return nil
	}
	reply := s.streamRole(ctx, userID, RolePlanner, userMessage(prompt), streamOptions{isJSON: true})
	if reply == "" || isErrorReply(reply) {
		s.handleError(userID, "FinalPolish", orDefault(reply, "The Linter AI returned an empty response."))
		return nil
	}
	data, err := parseJSONResponse(reply)
	if err != nil {
		s.handleError(userID, "FinalPolish", fmt.Sprintf("Failed to parse Linter AI JSON: %v. Raw: %s", err, reply))
		return nil
	}
	raw, ok := data["fixes"]
	if !ok {
		s.handleError(userID, "FinalPolish", "The Linter AI response was missing the 'fixes' list.")
		return nil
	}
	encoded, _ := json.Marshal(raw)
	var fixes []Fix
	if err := json.Unmarshal(encoded, &fixes); err != nil {
		s.handleError(userID, "FinalPolish", fmt.Sprintf("The 'fixes' key must be a list of patches: %v", err))
		return nil
	}
	if len(fixes) > 0 {
		s.log.Info("final polish found %d issue(s) to correct", len(fixes))
		s.postChat(userID, "Conductor", fmt.Sprintf("Found %d small bug(s). Applying automated patches...", len(fixes)), false)
	} else {
		s.log.Info("final polish found no issues")
		s.postChat(userID, "Conductor", "Final quality review passed with no issues.", false)
	}
	return fixes
}

// GenerateMissionSummary writes the wrap-up paragraph for a finished
// mission. Any failure degrades to the stock phrase.
func (s *Service) GenerateMissionSummary(ctx context.Context, userID int64, tasks []missionlog.Task) string {
	var done []string
	for _, t := range tasks {
		if t.Done {
			done = append(done, "- "+t.Description)
		}
	}
	if len(done) == 0 {
		return "Mission accomplished!"
	}
	prompt, err := renderPrompt("mission_summary", map[string]string{
		"completed_tasks": strings.Join(done, "\n"),
	})
	if err != nil {
		return "Mission accomplished!"
	}
	summary := strings.TrimSpace(s.streamRole(ctx, userID, RoleChat, userMessage(prompt), streamOptions{}))
	if summary == "" || isErrorReply(summary) {
		return "Mission accomplished!"
	}
	return summary
}

// PostChat exposes the chat broadcast convention to the conductor.
func (s *Service) PostChat(userID int64, sender, message string, isError bool) {
	s.postChat(userID, sender, message, isError)
}

// postChat broadcasts a chat line. Messages from "Aura" arrive as
// aura_response; everything else, and all errors, as system_log.
func (s *Service) postChat(userID int64, sender, message string, isError bool) {
	if strings.TrimSpace(message) == "" {
		return
	}
	msg := hub.SystemLog(message)
	if strings.EqualFold(sender, "aura") && !isError {
		msg = hub.AuraResponse(message)
	}
	s.hub.BroadcastToUser(msg, userID)
}

func (s *Service) handleError(userID int64, agent, errMsg string) {
	s.log.Error("%s failed for user %d: %s", agent, userID, errMsg)
	s.postChat(userID, "Aura", errMsg, true)
}

// fileTree renders the sorted file manifest for prompt context.
func (s *Service) fileTree() string {
	files, err := s.ws.ListFiles()
	if err != nil || len(files) == 0 {
		return "The project is currently empty."
	}
	sort.Strings(files)
	return strings.Join(files, "\n")
}

func stringList(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
