package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/story-engine/go-controller/internal/logging"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/patch"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/resolve"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/ruleset"
	"github.com/danielpatrickdp/story-engine/go-controller/internal/scope"
)

// #region write
// Write applies req's patches to the effective ruleset at its scope, turns the
// result into override values and submits them. Validation errors (unknown lane,
// malformed patch, unknown reset field) return synchronously and nothing is
// submitted; persistence outcomes arrive on the ticket.
func (s *Service) Write(ctx context.Context, req WriteRequest) (tk *scope.Ticket, err error) {
	ctx, span := s.startSpan(ctx, "engine.Write", req.ProjectID, req.Lane, attribute.String("scope", string(req.Scope)))
	defer func() { endSpan(span, err) }()

	p, err := s.lanes.Lookup(req.Lane)
	if err != nil {
		return nil, err
	}
	if _, err := ruleset.ParseScope(string(req.Scope)); err != nil {
		return nil, err
	}
	if len(req.Patches) == 0 && len(req.Reset) == 0 {
		return nil, ErrEmptyWrite
	}
	session := ""
	if req.Scope == ruleset.ScopeRun {
		if req.SessionID == "" {
			return nil, scope.ErrMissingSession
		}
		session = req.SessionID
	}
	for _, path := range req.Reset {
		if _, err := ruleset.Lookup(path); err != nil {
			return nil, fmt.Errorf("reset: %w", err)
		}
	}

	in, err := s.loadInputs(ctx, req.ProjectID, p, session)
	if err != nil {
		return nil, err
	}
	tier := in.Project
	if req.Scope == ruleset.ScopeRun {
		tier = in.Run
	}

	set := ruleset.Layer{}
	reset := slices.Clone(req.Reset)
	if len(req.Patches) > 0 {
		base := resolve.Resolve(in).Profile.Rules
		patched, err := patch.Apply(base, req.Patches)
		if err != nil {
			return nil, err
		}
		var cleared []string
		set, cleared = scopeValues(base, patched, req.Patches, tier)
		reset = append(reset, cleared...)
	}

	tk, err = s.coord.Submit(ctx, scope.Request{
		ProjectID: req.ProjectID,
		Lane:      req.Lane,
		Target:    writeTarget(req.Patches, req.Reset),
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Scope:     req.Scope,
		Set:       set,
		Reset:     reset,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("write submitted",
		zap.String("project", req.ProjectID),
		zap.String("lane", req.Lane),
		zap.String("scope", string(req.Scope)),
		zap.String("target", tk.Key.Target),
		zap.Uint64("token", tk.Token),
		zap.Strings("fields", set.Paths()),
		zap.Strings("reset", reset))
	return tk, nil
}

// WriteResult is the settled outcome of a write plus the effective ruleset
// the writer now sees.
type WriteResult struct {
	Token      uint64             `json:"token"`
	Status     scope.Status       `json:"status"`
	Resolution resolve.Resolution `json:"resolution"`
}

// WriteAndWait submits req, waits for it to settle and re-reads the effective
// ruleset at the write's scope. A failed write returns its error; the previous
// ruleset is unchanged.
func (s *Service) WriteAndWait(ctx context.Context, req WriteRequest) (WriteResult, error) {
	tk, err := s.Write(ctx, req)
	if err != nil {
		return WriteResult{}, err
	}
	o, err := tk.Wait(ctx)
	if err != nil {
		return WriteResult{}, err
	}
	out := WriteResult{Token: o.Token, Status: o.Status}
	if o.Status == scope.StatusFailed {
		return out, fmt.Errorf("write %d: %w", o.Token, o.Err)
	}
	session := ""
	if req.Scope == ruleset.ScopeRun {
		session = req.SessionID
	}
	out.Resolution, err = s.Effective(ctx, req.ProjectID, req.Lane, session)
	if err != nil {
		return out, err
	}
	return out, nil
}

// afterWrite republishes the profile once a project-default write is applied.
func (s *Service) afterWrite(ctx context.Context, req scope.Request) {
	_, err := s.Rebuild(ctx, RebuildRequest{
		ProjectID: req.ProjectID,
		Lane:      req.Lane,
		Trigger:   logging.TriggerWrite,
		Reason:    fmt.Sprintf("%s write on %s by %s", req.Scope, req.Target, orUnknown(req.UserID)),
	})
	if err != nil {
		s.logger.Error("rebuild after write failed",
			zap.String("project", req.ProjectID), zap.String("lane", req.Lane), zap.Error(err))
	}
}

// #endregion write

// #region scope-values
// scopeValues lists the override values a patch batch expresses: every field the
// batch changed plus every leaf it addressed directly. Forbidden-move edits become
// per-item bans and lifts folded into the scope's existing lists; when both lists
// fold to empty they are returned as resets instead.
func scopeValues(base, patched ruleset.Ruleset, patches []patch.Patch, tier ruleset.Layer) (ruleset.Layer, []string) {
	paths := ruleset.Diff(base, patched)
	for _, p := range patches {
		fp, err := patch.FieldPath(p.Path)
		if err != nil {
			continue
		}
		if _, err := ruleset.Lookup(fp); err == nil && !slices.Contains(paths, fp) {
			paths = append(paths, fp)
		}
	}

	set := ruleset.Layer{}
	forbidden := false
	for _, path := range paths {
		if path == ruleset.FieldBanned || path == ruleset.FieldLifted {
			forbidden = true
			continue
		}
		f, _ := ruleset.Lookup(path)
		set[path] = f.Get(patched)
	}
	if !forbidden {
		return set, nil
	}

	bans, lifts := ruleset.ForbiddenDelta(base, patched)
	banned, lifted := ruleset.FoldForbidden(tier.List(ruleset.FieldBanned), tier.List(ruleset.FieldLifted), bans, lifts)
	if len(banned) == 0 && len(lifted) == 0 {
		return set, []string{ruleset.FieldBanned, ruleset.FieldLifted}
	}
	set[ruleset.FieldBanned] = banned
	set[ruleset.FieldLifted] = lifted
	return set, nil
}

// writeTarget names the field group a write touches, or "ruleset" when it spans several.
func writeTarget(patches []patch.Patch, reset []string) string {
	target := ""
	if len(patches) > 0 {
		target = patch.Target(patches)
	}
	for _, path := range reset {
		group, _, _ := strings.Cut(path, ".")
		switch {
		case target == "":
			target = group
		case target != group:
			return "ruleset"
		}
	}
	return target
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown user"
	}
	return s
}

// #endregion scope-values
