package systole

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	So "github.com/maroda/systole/obvy"
	Sp "github.com/maroda/systole/plugin"
	Ss "github.com/maroda/systole/server"
	St "github.com/maroda/systole/types"
)

const (
	screenGutter = 2  // rows above the beat marker line
	panelWidth   = 26 // reading panel on the right
	flashFrames  = 4  // frames the beat marker stays lit
	frameRate    = 50 * time.Millisecond
)

// waveRunes are eighth blocks, index is the fill level of one cell
var waveRunes = []rune{' ', '▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// ViewOptions are shared by the terminal and headless modes
type ViewOptions struct {
	Addr   string            // listen address for /metrics, /ws and /api
	Output Sp.OutputAdapter  // where readings are queried from, may be nil
	Stats  *So.StatsInternal // created when nil
}

// View draws a running Session
type View struct {
	MU          sync.Mutex
	Session     *Ss.Session
	Output      Sp.OutputAdapter
	Screen      tcell.Screen      // nil when headless
	Stats       *So.StatsInternal // Internal status for prometheus
	Supervisor  *SessionSupervisor
	server      *http.Server
	ShowHRV     bool           // HRV block in the panel
	Frozen      bool           // wave stops scrolling
	LastReading *St.Reading    // most recent finished session
	frozenWave  []St.WavePoint // captured when Frozen was set
	flash       int
	seenBeats   int
	quit        chan struct{}
	quitOnce    sync.Once
}

// NewView attaches a View to a Session. A nil screen is a headless view.
func NewView(s *Ss.Session, screen tcell.Screen, opts ViewOptions) (*View, error) {
	if s == nil {
		slog.Error("Could not get a Session for display")
		return nil, errors.New("session not found")
	}

	stats := opts.Stats
	if stats == nil {
		stats = So.NewStatsInternal()
	}

	view := &View{
		Session: s,
		Output:  opts.Output,
		Screen:  screen,
		Stats:   stats,
		ShowHRV: true,
		quit:    make(chan struct{}),
	}

	if screen != nil {
		view.UpdateScreen()
	}

	return view, nil
}

// WaveLevels scales the newest points into fill levels for a plot that is
// width columns by rows cells high. Each cell holds eight levels, and every
// point gets at least one so the trace never disappears.
func WaveLevels(points []St.WavePoint, width, rows int) []int {
	if width <= 0 || rows <= 0 || len(points) == 0 {
		return nil
	}
	if len(points) > width {
		points = points[len(points)-width:]
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		lo = math.Min(lo, p.Value)
		hi = math.Max(hi, p.Value)
	}

	top := rows * 8
	levels := make([]int, len(points))
	for i, p := range points {
		if hi == lo {
			levels[i] = top / 2
			continue
		}
		frac := (p.Value - lo) / (hi - lo)
		levels[i] = 1 + int(math.Round(frac*float64(top-1)))
	}
	return levels
}

// CellRune is the block for row r (0 is the bottom) of a column at level
func CellRune(level, r int) rune {
	fill := level - r*8
	switch {
	case fill <= 0:
		return waveRunes[0]
	case fill >= 8:
		return waveRunes[8]
	}
	return waveRunes[fill]
}

func runeStyle(r rune) tcell.Style {
	switch r {
	case '▁':
		return tcell.StyleDefault.Foreground(tcell.ColorSeaGreen)
	case '▂':
		return tcell.StyleDefault.Foreground(tcell.ColorMediumSeaGreen)
	case '▃':
		return tcell.StyleDefault.Foreground(tcell.ColorLightSeaGreen)
	case '▄':
		return tcell.StyleDefault.Foreground(tcell.ColorDarkTurquoise)
	case '▅':
		return tcell.StyleDefault.Foreground(tcell.ColorMediumTurquoise)
	case '▆':
		return tcell.StyleDefault.Foreground(tcell.ColorTurquoise)
	case '▇':
		return tcell.StyleDefault.Foreground(tcell.ColorLightGreen)
	case '█':
		return tcell.StyleDefault.Foreground(tcell.ColorAquaMarine)
	}
	return tcell.StyleDefault
}

// DrawWave plots points into the box starting at (x, y).
// The newest point is in the rightmost column, beats are marked
// with a heart on the row above the box.
func (v *View) DrawWave(x, y, width, rows int, points []St.WavePoint) {
	if len(points) > width {
		points = points[len(points)-width:]
	}
	levels := WaveLevels(points, width, rows)
	offset := width - len(levels)

	beatStyle := tcell.StyleDefault.Foreground(tcell.ColorRed)
	lostStyle := tcell.StyleDefault.Foreground(tcell.ColorDarkGray)

	for i, level := range levels {
		col := x + offset + i
		if points[i].Beat {
			v.Screen.SetContent(col, y-1, '♥', nil, beatStyle)
		}
		for r := 0; r < rows; r++ {
			ch := CellRune(level, r)
			style := runeStyle(ch)
			if !points[i].Valid {
				style = lostStyle
			}
			v.Screen.SetContent(col, y+rows-1-r, ch, nil, style)
		}
	}
}

// PanelLines is the text of the reading panel
func PanelLines(snap Ss.Snapshot, showHRV bool, last *St.Reading) []string {
	bpm := "--"
	if snap.BPMOK {
		bpm = strconv.Itoa(snap.BPM)
	}
	signal := "ok"
	if !snap.Signal {
		signal = "LOST"
	}

	lines := []string{
		fmt.Sprintf("BPM      %s", bpm),
		fmt.Sprintf("FFT BPM  %.1f", snap.SpectralBPM),
		fmt.Sprintf("Quality  %.2f", snap.Quality),
		fmt.Sprintf("Beats    %d", snap.Beats),
		fmt.Sprintf("Rate     %.1f Hz", snap.SampleRate),
		fmt.Sprintf("Measured %.1f Hz", snap.MeasuredRate),
		fmt.Sprintf("Thresh   %.3f", snap.Threshold),
		fmt.Sprintf("Refract  %.2f s", snap.Refractory),
		fmt.Sprintf("Signal   %s", signal),
		fmt.Sprintf("Elapsed  %.0f s", snap.Elapsed),
	}

	if showHRV {
		lines = append(lines, "")
		if snap.HRV == nil {
			lines = append(lines, "HRV      --")
		} else {
			h := snap.HRV
			lines = append(lines,
				fmt.Sprintf("HRV      %s (%d)", h.Quality, h.Count),
				fmt.Sprintf("SDNN     %.1f ms", h.SDNN),
				fmt.Sprintf("RMSSD    %.1f ms", h.RMSSD),
				fmt.Sprintf("pNN50    %.1f %%", h.PNN50),
				fmt.Sprintf("SD1/SD2  %.1f/%.1f", h.SD1, h.SD2),
			)
		}
	}

	if last != nil {
		lines = append(lines, "", fmt.Sprintf("Last     %d bpm q%.2f", last.BPM, last.Quality))
	}
	return lines
}

// DrawQualityBar shows signal quality as a colored bar of up to width cells
func (v *View) DrawQualityBar(x, y, width int, quality float64) {
	color := tcell.ColorRed
	switch {
	case quality >= 0.8:
		color = tcell.ColorSeaGreen
	case quality >= 0.5:
		color = tcell.ColorGold
	}
	filled := int(math.Round(math.Max(0, math.Min(1, quality)) * float64(width)))
	WriteBar(v.Screen, x, y, x+filled, y+1, tcell.StyleDefault.Background(color))
}

// DrawText displays the text string at the given (x1, y1) with box size (x2, y2)
func (v *View) DrawText(x1, y1, x2, y2 int, text string) {
	row := y1
	col := x1
	style := tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorLightSteelBlue)
	for _, r := range text {
		v.Screen.SetContent(col, row, r, nil, style)
		col++
		if col >= x2 {
			row++
			col = x1
		}
		if row > y2 {
			break
		}
	}
}

// DrawViewBorder displays the outline of the View
func (v *View) DrawViewBorder(width, height int) {
	hvStyle := tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorPink)
	v.Screen.SetContent(0, 0, tcell.RuneULCorner, nil, hvStyle)
	for i := 1; i < width; i++ {
		v.Screen.SetContent(i, 0, tcell.RuneHLine, nil, hvStyle)
		v.Screen.SetContent(i, height, tcell.RuneHLine, nil, hvStyle)
	}
	v.Screen.SetContent(width, 0, tcell.RuneURCorner, nil, hvStyle)

	for i := 1; i < height; i++ {
		v.Screen.SetContent(0, i, tcell.RuneVLine, nil, hvStyle)
		v.Screen.SetContent(width, i, tcell.RuneVLine, nil, hvStyle)
	}

	v.Screen.SetContent(0, height, tcell.RuneLLCorner, nil, hvStyle)
	v.Screen.SetContent(width, height, tcell.RuneLRCorner, nil, hvStyle)
}

// DrawSessionView draws the waveform and the reading panel
func (v *View) DrawSessionView() {
	width, height := v.GetScreenSize()
	snap := v.Session.Snapshot()

	v.MU.Lock()
	if snap.Beats > v.seenBeats {
		v.flash = flashFrames
	}
	v.seenBeats = snap.Beats
	flash := v.flash
	if v.flash > 0 {
		v.flash--
	}
	showHRV := v.ShowHRV
	frozen := v.Frozen
	points := v.frozenWave
	last := v.LastReading
	v.MU.Unlock()

	if !frozen {
		points = v.Session.Wave(0)
	}

	v.DrawViewBorder(width-1, height-1)

	id := snap.ID
	if len(id) > 8 {
		id = id[:8]
	}
	v.DrawText(2, 1, width-2, 1, fmt.Sprintf("session %s  source %s", id, snap.Source))

	plotW := width - panelWidth - 3
	rows := height - screenGutter - 4
	if plotW < 10 || rows < 2 {
		v.DrawText(2, 2, width-2, height-2, "terminal too small")
		return
	}

	v.DrawWave(1, screenGutter+1, plotW, rows, points)

	px := width - panelWidth
	if flash > 0 {
		v.Screen.SetContent(px, 1, '♥', nil, tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true))
	}
	if frozen {
		v.DrawText(px+2, 1, width-2, 1, "FROZEN")
	}
	v.DrawQualityBar(px, screenGutter, panelWidth-2, snap.Quality)
	for i, line := range PanelLines(snap, showHRV, last) {
		y := screenGutter + 1 + i
		if y >= height-1 {
			break
		}
		v.DrawText(px, y, width-2, y, line)
	}

	v.DrawText(1, height-1, width, height+10, "/r/ reset | /f/ finish | /h/ hrv | /space/ freeze | /ESC/ quit")
	v.DrawText(width-9, height-1, width, height+10, "SYSTOLE")
}

// HandleEvent reacts to one terminal event, false means quit
func (v *View) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		v.ResizeScreen()
	case *tcell.EventInterrupt:
		return false
	case *tcell.EventKey:
		if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC {
			return false
		}
		switch ev.Rune() {
		case 'r':
			v.Session.Reset()
		case 'f':
			v.finish(context.Background())
		case 'h':
			v.MU.Lock()
			v.ShowHRV = !v.ShowHRV
			v.MU.Unlock()
		case ' ':
			v.toggleFreeze()
		}
	}
	return true
}

// toggleFreeze holds View.MU across Session.Wave, the Session never takes View.MU
func (v *View) toggleFreeze() {
	v.MU.Lock()
	defer v.MU.Unlock()
	v.Frozen = !v.Frozen
	v.frozenWave = nil
	if v.Frozen {
		v.frozenWave = v.Session.Wave(0)
	}
}

// finish closes out the current measurement and keeps it for the panel
func (v *View) finish(ctx context.Context) (*St.Reading, error) {
	reading, err := v.Session.Finish(ctx)
	if err != nil {
		slog.Error("Could not store reading", slog.Any("error", err))
	}
	v.MU.Lock()
	v.LastReading = reading
	v.MU.Unlock()
	return reading, err
}

// exit stops the draw loop, it is safe to call more than once
func (v *View) exit() {
	v.quitOnce.Do(func() { close(v.quit) })
}

// Running Loop to handle events
func (v *View) handleKeyBoardEvent() {
	for {
		ev := v.Screen.PollEvent()
		if ev == nil {
			return
		}
		if !v.HandleEvent(ev) {
			return
		}
	}
}

// GetScreenSize provides the terminal size for drawing
func (v *View) GetScreenSize() (int, int) {
	width, height := v.Screen.Size()
	return width, height
}

// ResizeScreen redraws after terminal changes
func (v *View) ResizeScreen() {
	v.Screen.Sync()
	v.UpdateScreen()
}

func (v *View) UpdateScreen() {
	start := time.Now()
	v.Screen.Clear()
	v.DrawSessionView()
	v.Screen.Show()
	v.Stats.RecDrawTimer(time.Since(start))
}

// run redraws every frame until ctx is done or the view exits
func (v *View) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in run loop", slog.Any("panic", r))
			slog.Error("Recovered from panic", slog.String("stack", string(debug.Stack())))
		}
	}()

	slog.Info("Starting session view")
	ticker := time.NewTicker(frameRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-v.quit:
			return
		case <-ticker.C:
			v.UpdateScreen()
		}
	}
}

// serve blocks on the web endpoint
func (v *View) serve() error {
	slog.Info("Starting Systole web endpoint", slog.String("addr", v.server.Addr))
	if err := v.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Could not start web endpoint", slog.Any("error", err))
		return err
	}
	return nil
}

func (v *View) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return v.server.Shutdown(ctx)
}

// RespWriter is a wrapper with StatsMiddleware, used for Prometheus
type RespWriter struct {
	http.ResponseWriter
	Status int
}

// WriteHeader is a helper for StatsMiddleware, used for Prometheus
func (w *RespWriter) WriteHeader(status int) {
	w.Status = status
	w.ResponseWriter.WriteHeader(status)
}

// Write is a helper for StatsMiddleware, used for Prometheus
func (w *RespWriter) Write(b []byte) (int, error) {
	return w.ResponseWriter.Write(b)
}

func (v *View) StatsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &RespWriter{
			ResponseWriter: w,
			Status:         200,
		}
		next.ServeHTTP(wrapped, r)
		v.Stats.RecWWW(strconv.Itoa(wrapped.Status), r.Method)
	})
}

// StartSessionView is called by main to run the terminal view.
// It returns when the user quits or ctx is done, the caller finishes the session.
func StartSessionView(ctx context.Context, s *Ss.Session, src Ss.SampleSource, opts ViewOptions) error {
	screen, err := GetTTY()
	if err != nil {
		slog.Error("Could not get terminal", slog.Any("error", err))
		return err
	}
	defer screen.Fini()

	view, err := NewView(s, screen, opts)
	if err != nil {
		slog.Error("Could not start session view", slog.Any("error", err))
		return err
	}
	view.server = view.NewServer(opts.Addr)

	sup := view.NewSessionSupervisor(ctx, src)
	sup.Start()
	defer sup.Stop()

	go view.serve()
	defer view.shutdown()

	go view.run(ctx)
	defer view.exit()

	// wake PollEvent when the session length runs out
	go func() {
		select {
		case <-ctx.Done():
			_ = screen.PostEvent(tcell.NewEventInterrupt(nil))
		case <-view.quit:
		}
	}()

	view.handleKeyBoardEvent()
	return nil
}

// StartWebNoTUI runs the session with only the web endpoint, until ctx is done
func StartWebNoTUI(ctx context.Context, s *Ss.Session, src Ss.SampleSource, opts ViewOptions) error {
	view, err := NewView(s, nil, opts)
	if err != nil {
		return err
	}
	view.server = view.NewServer(opts.Addr)

	sup := view.NewSessionSupervisor(ctx, src)
	sup.Start()
	defer sup.Stop()

	errc := make(chan error, 1)
	go func() { errc <- view.serve() }()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return err
		}
	}
	return view.shutdown()
}
