package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/overlay-core/internal/announce"
	"github.com/nerrad567/overlay-core/internal/overlay"
)

// Command types accepted from clients.
const (
	CmdCreateScene      = "create-scene"
	CmdRenameScene      = "rename-scene"
	CmdDeleteScene      = "delete-scene"
	CmdAddLayer         = "add-layer"
	CmdUpdateLayer      = "update-layer"
	CmdDeleteLayer      = "delete-layer"
	CmdReorderLayers    = "reorder-layers"
	CmdSyncToLive       = "sync-to-live"
	CmdSetVisibility    = "set-visibility"
	CmdShowAnnouncement = "show-announcement"
	CmdHideAnnouncement = "hide-announcement"
)

// aliases maps older command names sent by existing control surfaces.
var aliases = map[string]string{
	"show-tweet": CmdShowAnnouncement,
	"hide-tweet": CmdHideAnnouncement,
}

var errAnnouncementsDisabled = errors.New("announcements are disabled")

// Command is one client command. Fields not used by Type are ignored.
type Command struct {
	Type     string            `json:"type"`
	SceneID  string            `json:"sceneId,omitempty"`
	LayerID  string            `json:"layerId,omitempty"`
	Name     string            `json:"name,omitempty"`
	Label    *string           `json:"label,omitempty"`
	Template overlay.Template  `json:"template,omitempty"`
	Props    map[string]string `json:"props,omitempty"`
	LayerIDs []string          `json:"layerIds,omitempty"`
	Visible  *bool             `json:"visible,omitempty"`
	URL      string            `json:"url,omitempty"`
}

// DecodeCommand parses a command frame and checks that the fields its type
// requires are present. Legacy aliases are rewritten to their current names.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, &commandError{Code: ErrCodeBadRequest, Message: "invalid JSON message"}
	}
	if alias, ok := aliases[cmd.Type]; ok {
		cmd.Type = alias
	}

	missing := func(field string) error {
		return &commandError{Code: ErrCodeBadRequest, Message: fmt.Sprintf("%s: %s is required", cmd.Type, field)}
	}

	switch cmd.Type {
	case CmdCreateScene, CmdHideAnnouncement:
	case CmdRenameScene, CmdDeleteScene, CmdSyncToLive, CmdReorderLayers:
		if cmd.SceneID == "" {
			return Command{}, missing("sceneId")
		}
	case CmdAddLayer:
		if cmd.SceneID == "" {
			return Command{}, missing("sceneId")
		}
		if cmd.Template == "" {
			return Command{}, missing("template")
		}
	case CmdUpdateLayer, CmdDeleteLayer:
		if cmd.SceneID == "" {
			return Command{}, missing("sceneId")
		}
		if cmd.LayerID == "" {
			return Command{}, missing("layerId")
		}
	case CmdSetVisibility:
		if cmd.SceneID == "" {
			return Command{}, missing("sceneId")
		}
		if cmd.Visible == nil {
			return Command{}, missing("visible")
		}
	case CmdShowAnnouncement:
		if cmd.URL == "" {
			return Command{}, missing("url")
		}
	case "":
		return Command{}, &commandError{Code: ErrCodeBadRequest, Message: "type is required"}
	default:
		return Command{}, &commandError{Code: ErrCodeBadRequest, Message: "unknown command type: " + cmd.Type}
	}
	return cmd, nil
}

// request is a command waiting for the writer goroutine.
type request struct {
	cmd    Command
	source string
	// origin receives error frames; nil for REST and MQTT.
	origin *Session
	// reply, if set, receives the outcome (nil or *commandError).
	reply chan error
}

// completion is the result of an announcement lookup.
type completion struct {
	gen uint64
	url string
	ann announce.Announcement
	err error
}

// submit hands req to the writer goroutine.
func (s *Server) submit(ctx context.Context, req request) error {
	select {
	case s.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped():
		return &commandError{Code: ErrCodeUnavailable, Message: "server is shutting down"}
	}
}

// runCommands is the single writer: it applies requests and announcement
// completions one at a time and broadcasts after each change.
func (s *Server) runCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			s.apply(ctx, req)
		case c := <-s.completions:
			s.complete(c)
		}
	}
}

func (s *Server) apply(ctx context.Context, req request) {
	start := time.Now()
	err := s.execute(ctx, req.cmd)

	var cerr *commandError
	switch {
	case err == nil:
		s.broadcast()
	case overlay.IsStale(err):
		// Clients self-correct from the unchanged snapshot.
		s.logger.Debug("stale command ignored", "type", req.cmd.Type, "source", req.source, "error", err)
		s.broadcast()
	case errors.As(err, &cerr):
	case overlay.IsValidation(err), errors.Is(err, announce.ErrInvalidURL), errors.Is(err, errAnnouncementsDisabled):
		cerr = &commandError{Code: ErrCodeValidation, Message: err.Error()}
	case errors.Is(err, overlay.ErrPersistence):
		s.logger.Error("command not persisted", "type", req.cmd.Type, "source", req.source, "error", err)
		cerr = &commandError{Code: ErrCodePersistence, Message: "the change could not be saved"}
	default:
		s.logger.Error("command failed", "type", req.cmd.Type, "source", req.source, "error", err)
		cerr = &commandError{Code: ErrCodeInternal, Message: "command failed"}
	}

	outcome := "ok"
	if cerr != nil {
		outcome = cerr.Code
		if req.origin != nil {
			s.hub.SendTo(req.origin, errorFrame(cerr))
		}
	}
	s.recordCommand(req.cmd.Type, outcome, time.Since(start))

	if req.reply != nil {
		if cerr != nil {
			req.reply <- cerr
		} else {
			req.reply <- nil
		}
	}
}

func (s *Server) execute(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case CmdCreateScene:
		_, err := s.registry.CreateScene(ctx, cmd.Name)
		return err
	case CmdRenameScene:
		return s.registry.RenameScene(ctx, cmd.SceneID, cmd.Name)
	case CmdDeleteScene:
		return s.registry.DeleteScene(ctx, cmd.SceneID)
	case CmdAddLayer:
		nl := overlay.NewLayer{Template: cmd.Template, Props: cmd.Props}
		if cmd.Label != nil {
			nl.Label = *cmd.Label
		}
		_, err := s.registry.AddLayer(ctx, cmd.SceneID, nl)
		return err
	case CmdUpdateLayer:
		update := overlay.LayerUpdate{Label: cmd.Label, Props: cmd.Props}
		if cmd.Template != "" {
			t := cmd.Template
			update.Template = &t
		}
		return s.registry.UpdateLayer(ctx, cmd.SceneID, cmd.LayerID, update)
	case CmdDeleteLayer:
		return s.registry.DeleteLayer(ctx, cmd.SceneID, cmd.LayerID)
	case CmdReorderLayers:
		return s.registry.ReorderLayers(ctx, cmd.SceneID, cmd.LayerIDs)
	case CmdSyncToLive:
		live, err := s.registry.Publish(ctx, cmd.SceneID)
		if err == nil && s.telemetry != nil {
			s.telemetry.RecordPublish(cmd.SceneID, len(live))
		}
		return err
	case CmdSetVisibility:
		return s.registry.SetVisibility(ctx, cmd.SceneID, *cmd.Visible)
	case CmdShowAnnouncement:
		return s.showAnnouncement(ctx, cmd.URL)
	case CmdHideAnnouncement:
		s.slot.Clear()
		return nil
	default:
		return &commandError{Code: ErrCodeBadRequest, Message: "unknown command type: " + cmd.Type}
	}
}

// showAnnouncement starts a lookup. The slot keeps its current value until
// the lookup for the newest request succeeds.
func (s *Server) showAnnouncement(ctx context.Context, postURL string) error {
	if s.resolver == nil {
		return errAnnouncementsDisabled
	}
	if err := announce.ValidateURL(postURL); err != nil {
		return err
	}

	gen := s.slot.Begin()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.fetchAnnouncement(ctx, gen, postURL)
	}()
	return nil
}

func (s *Server) fetchAnnouncement(ctx context.Context, gen uint64, postURL string) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.announceTimeout)
	defer cancel()

	a, err := s.resolver.Resolve(fetchCtx, postURL)
	select {
	case s.completions <- completion{gen: gen, url: postURL, ann: a, err: err}:
	case <-ctx.Done():
	}
}

func (s *Server) complete(c completion) {
	if c.err != nil {
		s.logger.Warn("announcement lookup failed", "url", c.url, "error", c.err)
		return
	}
	if c.ann.URL == "" {
		c.ann.URL = c.url
	}
	if !s.slot.Complete(c.gen, c.ann) {
		s.logger.Debug("superseded announcement discarded", "url", c.url)
		return
	}
	s.broadcast()
}

func (s *Server) recordCommand(kind, outcome string, elapsed time.Duration) {
	if s.telemetry != nil {
		s.telemetry.RecordCommand(kind, outcome, elapsed)
	}
}
