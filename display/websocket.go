package systole

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	St "github.com/maroda/systole/types"
)

const (
	wsInterval     = 100 * time.Millisecond
	wsWriteTimeout = 200 * time.Millisecond
)

// WaveFrame is one websocket message: the points since the last frame
// and the numbers a browser needs to label them
type WaveFrame struct {
	Session string         `json:"session"`
	Points  []St.WavePoint `json:"points"`
	BPM     int            `json:"bpm"`
	BPMOK   bool           `json:"bpmOK"`
	Quality float64        `json:"quality"`
	Beats   int            `json:"beats"`
	Signal  bool           `json:"signal"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NextFrame collects the points newer than since. It returns the frame and
// the timestamp to pass next time. A new session starts over from zero.
func (v *View) NextFrame(session string, since float64) (WaveFrame, float64) {
	snap := v.Session.Snapshot()
	if snap.ID != session {
		since = -1
	}

	frame := WaveFrame{
		Session: snap.ID,
		Points:  []St.WavePoint{},
		BPM:     snap.BPM,
		BPMOK:   snap.BPMOK,
		Quality: snap.Quality,
		Beats:   snap.Beats,
		Signal:  snap.Signal,
	}
	for _, p := range v.Session.Wave(0) {
		if p.Timestamp > since {
			frame.Points = append(frame.Points, p)
			since = p.Timestamp
		}
	}
	return frame, since
}

func (v *View) WebsocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// the browser never talks, reading only notices the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsInterval)
	defer ticker.Stop()

	session, since := "", -1.0
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			var frame WaveFrame
			frame, since = v.NextFrame(session, since)
			session = frame.Session
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}
