// Package session assembles the per-request service bundle. Every agent
// request binds fresh services to the caller's active project so nothing
// leaks between users or between projects of the same user.
package session

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"aura/internal/conductor"
	"aura/internal/foundry"
	"aura/internal/hub"
	"aura/internal/intel"
	"aura/internal/llmgate"
	"aura/internal/logging"
	"aura/internal/missioncontrol"
	"aura/internal/missionlog"
	"aura/internal/rag"
	"aura/internal/snapshot"
	"aura/internal/store"
	"aura/internal/team"
	"aura/internal/workspace"
)

// Session is one user's working set, bound to their active project.
type Session struct {
	Workspace  *workspace.Manager
	MissionLog *missionlog.Store
	RAG        *rag.Store
	Intel      *intel.Index
	Snapshots  *snapshot.Tracker
	Runner     *foundry.Runner
	Team       *team.Service
	Conductor  *conductor.Conductor
}

// Factory builds sessions from the process-wide services.
type Factory struct {
	store          *store.Store
	streamer       *llmgate.Streamer
	hub            *hub.Hub
	control        *missioncontrol.Registry
	registry       *foundry.Registry
	embedder       rag.Embedder
	workspacesRoot string
	log            logging.Logger
}

func NewFactory(st *store.Store, streamer *llmgate.Streamer, h *hub.Hub, control *missioncontrol.Registry,
	registry *foundry.Registry, embedder rag.Embedder, workspacesRoot string, log logging.Logger) *Factory {
	return &Factory{
		store:          st,
		streamer:       streamer,
		hub:            h,
		control:        control,
		registry:       registry,
		embedder:       embedder,
		workspacesRoot: workspacesRoot,
		log:            logging.OrNop(log),
	}
}

// Workspace returns a project-less workspace manager for the user, enough
// for project listing and creation.
func (f *Factory) Workspace(userID int64) (*workspace.Manager, error) {
	return workspace.NewManager(f.workspacesRoot, userID, f.log)
}

// ForProject builds a full session bound to one of the user's projects.
// The retrieval and symbol indexes are (re)built concurrently from the
// project's current files.
func (f *Factory) ForProject(ctx context.Context, userID int64, projectName string) (*Session, error) {
	ws, err := f.Workspace(userID)
	if err != nil {
		return nil, err
	}
	if _, err := ws.LoadProject(projectName); err != nil {
		return nil, err
	}

	mission := missionlog.NewStore(ws.ActivePath(), f.log, func(tasks []missionlog.Task) {
		f.hub.BroadcastToUser(hub.MissionLogUpdated(tasks), userID)
	})

	ragStore, err := rag.NewStore(ws.ActivePath(), userID, projectName, f.embedder, f.log)
	if err != nil {
		return nil, fmt.Errorf("open retrieval index: %w", err)
	}
	index := intel.New(f.log)

	files, err := ws.ListFiles()
	if err != nil {
		return nil, err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return index.BuildProject(gctx, files, ws.ReadFile)
	})
	if ragStore.Count() == 0 && len(files) > 0 {
		g.Go(func() error {
			return ragStore.ReindexProject(gctx, files, ws.ReadFile)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build project indexes: %w", err)
	}

	snapshots := snapshot.NewTracker()
	teamSvc := team.NewService(f.store, f.streamer, f.hub, f.control, ws, mission, f.log)

	deps := &foundry.Deps{
		Workspace:  ws,
		MissionLog: mission,
		RAG:        ragStore,
		Intel:      index,
		Hub:        f.hub,
		Snapshots:  snapshots,
		CodeGen:    teamSvc,
		Log:        f.log,
	}
	runner := foundry.NewRunner(f.registry, deps, f.log)

	return &Session{
		Workspace:  ws,
		MissionLog: mission,
		RAG:        ragStore,
		Intel:      index,
		Snapshots:  snapshots,
		Runner:     runner,
		Team:       teamSvc,
		Conductor:  conductor.New(runner, teamSvc, f.control, f.log),
	}, nil
}
