package systole_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	Sd "github.com/maroda/systole/display"
	Ss "github.com/maroda/systole/server"
	St "github.com/maroda/systole/types"
)

func TestView_NextFrame(t *testing.T) {
	session := makeTestSession(t, 600)
	view := makeTestView(t, session, nil)

	first, since := view.NextFrame("", -1)

	t.Run("First frame carries the whole wave", func(t *testing.T) {
		assertInt(t, len(first.Points), 300)
		assertInt(t, first.Beats, session.Snapshot().Beats)
		if since != first.Points[len(first.Points)-1].Timestamp {
			t.Errorf("since should be the newest timestamp, got %v", since)
		}
	})

	t.Run("Nothing new means no points", func(t *testing.T) {
		frame, next := view.NextFrame(first.Session, since)
		assertInt(t, len(frame.Points), 0)
		assertFloat(t, next, since)
	})

	t.Run("Only newer points follow", func(t *testing.T) {
		ingestAfter(session, since, 15)
		frame, _ := view.NextFrame(first.Session, since)
		assertInt(t, len(frame.Points), 15)
	})

	t.Run("A new session starts over", func(t *testing.T) {
		session.Reset()
		ingestAfter(session, since+1, 10)
		frame, _ := view.NextFrame(first.Session, since+100)
		assertInt(t, len(frame.Points), 10)
		if frame.Session == first.Session {
			t.Errorf("expected the new session ID")
		}
	})
}

func TestView_WebsocketHandler(t *testing.T) {
	session := makeTestSession(t, 600)
	view := makeTestView(t, session, nil)

	srv := httptest.NewServer(view.SetupMux())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frame Sd.WaveFrame

	t.Run("Streams the wave first", func(t *testing.T) {
		assertError(t, conn.ReadJSON(&frame), nil)
		assertInt(t, len(frame.Points), 300)
		if !frame.BPMOK {
			t.Errorf("expected a heart rate in the frame")
		}
	})

	t.Run("Then only what is new", func(t *testing.T) {
		last := frame.Points[len(frame.Points)-1].Timestamp
		ingestAfter(session, last, 20)

		// a frame may already be in flight before the new points landed
		got := 0
		for got < 20 {
			var next Sd.WaveFrame
			if err := conn.ReadJSON(&next); err != nil {
				t.Fatalf("read failed after %d points: %v", got, err)
			}
			got += len(next.Points)
		}
		assertInt(t, got, 20)
	})
}

// ingestAfter feeds n valid samples stamped 30 Hz after ts
func ingestAfter(session *Ss.Session, ts float64, n int) {
	for i := 1; i <= n; i++ {
		session.Ingest(St.Sample{Value: 180, Timestamp: ts + float64(i)/30, Valid: true})
	}
}
