// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package agentrt is the narrow boundary between the provisioning engine
// and the out-of-process coding-agent runtime. It generalizes teacher
// internal/agent.Client (one SDK client bound to one booted opencode
// server) into ensureSession/sendMessage/closeSession keyed by cell ID,
// reusing the same OpenTelemetry span/event instrumentation.
package agentrt

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/HiveRun/hive-sub001/internal/telemetry"
)

// EnsureOptions selects the session's model/provider/start mode; a zero
// value lets the runtime pick its own defaults.
type EnsureOptions struct {
	ModelID     string
	ProviderID  string
	StartMode   string
	BaseURLHint string
}

// SessionInfo is the adapter's view of an ensured session.
type SessionInfo struct {
	ID          string
	Provider    string
	ModelID     string
	ProviderID  string
	StartMode   string
	CurrentMode string
}

// BaseURLResolver returns the base URL of a cell's supervised opencode
// service, used when EnsureOptions.BaseURLHint is empty.
type BaseURLResolver func(ctx context.Context, cellID string) (string, error)

// Adapter is the single entry point the provisioning engine uses to
// talk to the coding-agent runtime, one client cached per cell.
type Adapter struct {
	resolveBaseURL BaseURLResolver

	mu       sync.Mutex
	clients  map[string]*opencode.Client
	sessions map[string]SessionInfo
}

// NewAdapter creates an Adapter. resolveBaseURL is consulted whenever a
// cell has no cached client yet and the caller did not supply an
// explicit BaseURLHint.
func NewAdapter(resolveBaseURL BaseURLResolver) *Adapter {
	return &Adapter{
		resolveBaseURL: resolveBaseURL,
		clients:        make(map[string]*opencode.Client),
		sessions:       make(map[string]SessionInfo),
	}
}

func (a *Adapter) clientFor(ctx context.Context, cellID, baseURLHint string) (*opencode.Client, error) {
	a.mu.Lock()
	if c, ok := a.clients[cellID]; ok {
		a.mu.Unlock()
		return c, nil
	}
	a.mu.Unlock()

	baseURL := baseURLHint
	if baseURL == "" {
		if envURL := os.Getenv("HIVE_OPENCODE_SERVER_URL"); envURL != "" {
			baseURL = envURL
		} else if a.resolveBaseURL != nil {
			resolved, err := a.resolveBaseURL(ctx, cellID)
			if err != nil {
				return nil, fmt.Errorf("resolve opencode base url for cell %s: %w", cellID, err)
			}
			baseURL = resolved
		}
	}
	if baseURL == "" {
		return nil, fmt.Errorf("no opencode base url available for cell %s", cellID)
	}

	client := opencode.NewClient(option.WithBaseURL(baseURL))

	a.mu.Lock()
	a.clients[cellID] = client
	a.mu.Unlock()
	return client, nil
}

// EnsureSession returns the cell's session, reusing a cached one with
// identical selection parameters or creating a fresh session otherwise.
func (a *Adapter) EnsureSession(ctx context.Context, cellID string, opts EnsureOptions) (SessionInfo, error) {
	ctx, span := telemetry.StartSpan(ctx, "agentrt", "EnsureSession",
		trace.WithAttributes(attribute.String("hive.cell_id", cellID)),
	)
	defer span.End()

	a.mu.Lock()
	if info, ok := a.sessions[cellID]; ok &&
		info.ModelID == opts.ModelID && info.ProviderID == opts.ProviderID && info.StartMode == opts.StartMode {
		a.mu.Unlock()
		return info, nil
	}
	a.mu.Unlock()

	client, err := a.clientFor(ctx, cellID, opts.BaseURLHint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve opencode client")
		return SessionInfo{}, err
	}

	startMode := opts.StartMode
	if startMode == "" {
		startMode = "plan"
	}

	session, err := client.Session.New(ctx, opencode.SessionNewParams{
		Title: opencode.F(fmt.Sprintf("hive cell %s", cellID)),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create session")
		telemetry.AddEvent(ctx, "session.create.failed", telemetry.ErrorAttrs(err)...)
		return SessionInfo{}, fmt.Errorf("create opencode session: %w", err)
	}

	info := SessionInfo{
		ID:          session.ID,
		ModelID:     opts.ModelID,
		ProviderID:  opts.ProviderID,
		StartMode:   startMode,
		CurrentMode: startMode,
	}

	a.mu.Lock()
	a.sessions[cellID] = info
	a.mu.Unlock()

	span.SetAttributes(attribute.String("opencode.session_id", info.ID))
	telemetry.AddEvent(ctx, "session.created", attribute.String("session_id", info.ID))
	span.SetStatus(codes.Ok, "session ensured")
	return info, nil
}

// SendMessage prompts cellID's session with content.
func (a *Adapter) SendMessage(ctx context.Context, cellID, content string) error {
	ctx, span := telemetry.StartSpan(ctx, "agentrt", "SendMessage",
		trace.WithAttributes(attribute.String("hive.cell_id", cellID)),
	)
	defer span.End()

	a.mu.Lock()
	info, ok := a.sessions[cellID]
	client := a.clients[cellID]
	a.mu.Unlock()
	if !ok || client == nil {
		err := fmt.Errorf("no agent session for cell %s", cellID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "no session")
		return err
	}

	parts := []opencode.SessionPromptParamsPartUnion{
		opencode.TextPartInputParam{
			Type: opencode.F(opencode.TextPartInputTypeText),
			Text: opencode.F(content),
		},
	}

	_, err := client.Session.Prompt(ctx, info.ID, opencode.SessionPromptParams{
		Parts: opencode.F(parts),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send prompt")
		telemetry.AddEvent(ctx, "prompt.send.failed", telemetry.ErrorAttrs(err)...)
		return fmt.Errorf("send message to session %s: %w", info.ID, err)
	}

	span.SetStatus(codes.Ok, "message sent")
	return nil
}

// CloseSession deletes cellID's session best-effort and forgets it.
func (a *Adapter) CloseSession(ctx context.Context, cellID string) error {
	ctx, span := telemetry.StartSpan(ctx, "agentrt", "CloseSession",
		trace.WithAttributes(attribute.String("hive.cell_id", cellID)),
	)
	defer span.End()

	a.mu.Lock()
	info, ok := a.sessions[cellID]
	client := a.clients[cellID]
	delete(a.sessions, cellID)
	delete(a.clients, cellID)
	a.mu.Unlock()

	if !ok || client == nil {
		span.SetStatus(codes.Ok, "no session to close")
		return nil
	}

	if _, err := client.Session.Delete(ctx, info.ID, opencode.SessionDeleteParams{}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete session")
		return fmt.Errorf("delete session %s: %w", info.ID, err)
	}

	span.SetStatus(codes.Ok, "session closed")
	telemetry.AddEvent(ctx, "session.deleted", attribute.String("session_id", info.ID))
	return nil
}
