package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/menu-safety/internal/common"
)

const watchWriteWait = 5 * time.Second

// watchJob upgrades to a websocket and pushes a JobView every time the job
// changes, closing once it is terminal or gone.
func (s *HTTPServer) watchJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, common.NewAppError("INVALID_ID", "job id must be a UUID", common.ErrInvalidInput))
		return
	}
	// Fail before the upgrade so unknown ids get a plain 404.
	if _, err := s.scanner.GetJob(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws.upgrade.failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()
	s.logger.Debug("ws.watch.start", "job_id", id)

	// Drain client frames so close messages are processed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.WatchInterval)
	defer ticker.Stop()

	var last time.Time
	for {
		job, err := s.scanner.GetJob(r.Context(), id)
		if err != nil {
			s.closeWatch(conn, websocket.CloseGoingAway, err.Error())
			return
		}
		if !job.UpdatedAt.Equal(last) {
			last = job.UpdatedAt
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteJSON(newJobView(job)); err != nil {
				s.logger.Debug("ws.watch.write_failed", "job_id", id, "error", err)
				return
			}
		}
		if job.Status.IsTerminal() {
			s.closeWatch(conn, websocket.CloseNormalClosure, string(job.Status))
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *HTTPServer) closeWatch(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(watchWriteWait))
}
