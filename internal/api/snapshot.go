package api

import (
	"encoding/json"

	"github.com/nerrad567/overlay-core/internal/announce"
	"github.com/nerrad567/overlay-core/internal/mirror"
	"github.com/nerrad567/overlay-core/internal/overlay"
)

// Frame types sent to sessions.
const (
	FrameSync  = "sync"
	FrameError = "error"
)

// Snapshot is the complete state sent after every change.
type Snapshot struct {
	Type         string                 `json:"type"`
	Scenes       []overlay.Scene        `json:"scenes"`
	Announcement *announce.Announcement `json:"announcement"`
}

// ErrorFrame reports a rejected command to the session that sent it.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorFrame(e *commandError) []byte {
	data, _ := json.Marshal(ErrorFrame{Type: FrameError, Code: e.Code, Message: e.Message}) //nolint:errcheck // plain strings
	return data
}

// broadcast encodes the current state once and sends it to every session
// and the mirror. Called only from the writer goroutine.
func (s *Server) broadcast() {
	scenes := s.registry.Scenes()
	if scenes == nil {
		scenes = []overlay.Scene{}
	}

	data, err := json.Marshal(Snapshot{
		Type:         FrameSync,
		Scenes:       scenes,
		Announcement: s.slot.Current(),
	})
	if err != nil {
		s.logger.Error("failed to marshal snapshot", "error", err)
		return
	}

	s.hub.Broadcast(data)
	if s.mirror != nil {
		s.mirror.Offer(mirror.Frame{Snapshot: data, Scenes: scenes})
	}
}
