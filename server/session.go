package systole

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	Sp "github.com/maroda/systole/plugin"
	St "github.com/maroda/systole/types"
)

// Recorder takes measurements off the session loop, e.g. Prometheus
type Recorder interface {
	RecSample(latency time.Duration, valid bool)
	RecBeat(plausible bool)
	RecReading(bpm int, quality float64)
}

// SessionConfig is what a Session is built from
type SessionConfig struct {
	Tuning          Tuning
	WaveSize        int              // recent filtered points kept for display
	NoSignalTimeout time.Duration    // zero disables the no-signal policy
	AutoRate        bool             // reconfigure when the measured rate drifts
	RateTolerance   float64          // drift fraction that triggers a reconfigure
	RateWindow      float64          // seconds per rate estimate
	Output          Sp.OutputAdapter // beats and readings go here, may be nil
	Recorder        Recorder         // may be nil
	Emitters        []BeatEmitter    // extra synchronous beat receivers
}

// DefaultSessionConfig fills what the caller usually does not care about
func DefaultSessionConfig(t Tuning) SessionConfig {
	return SessionConfig{
		Tuning:          t,
		WaveSize:        300,
		NoSignalTimeout: 5 * time.Second,
		RateTolerance:   0.15,
		RateWindow:      5,
	}
}

// Measured rates outside this band are treated as a broken clock
const (
	minAutoRate = 5
	maxAutoRate = 1000
)

// Snapshot is a consistent view of a running session
type Snapshot struct {
	ID           string           `json:"id"`
	Source       string           `json:"source"`
	Started      time.Time        `json:"started"`
	Elapsed      float64          `json:"elapsed"` // seconds of signal
	Samples      int              `json:"samples"`
	SampleRate   float64          `json:"sampleRate"`
	MeasuredRate float64          `json:"measuredRate"`
	BPM          int              `json:"bpm"` // zero when unavailable
	BPMOK        bool             `json:"bpmOK"`
	SpectralBPM  float64          `json:"spectralBPM"`
	Quality      float64          `json:"quality"`
	Threshold    float64          `json:"threshold"`
	Refractory   float64          `json:"refractory"`
	Beats        int              `json:"beats"`
	LastBeat     St.Beat          `json:"lastBeat"`
	Signal       bool             `json:"signal"`
	Counters     DetectorCounters `json:"counters"`
	Buffers      []BufferLen      `json:"buffers"`
	HRV          *St.HRVMetrics   `json:"hrv,omitempty"`
}

// Session is the single consumer in front of a Processor.
// Samples from one source are serialized into the Processor, while any
// number of readers take Snapshots under MU.
type Session struct {
	MU        sync.RWMutex
	ID        string
	Start     time.Time
	processor *Processor
	cfg       SessionConfig
	source    string

	wave    *waveRing
	meter   *RateMeter
	beats   BeatChan
	beatHit bool

	samples   int
	beatCount int
	lastBeat  St.Beat
	firstTs   float64
	lastTs    float64

	lastValid time.Time
	lost      bool
	now       func() time.Time
}

// NewSession builds a Session and its Processor
func NewSession(cfg SessionConfig) *Session {
	if cfg.WaveSize < 1 {
		cfg.WaveSize = 300
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = 5
	}
	if cfg.RateTolerance <= 0 {
		cfg.RateTolerance = 0.15
	}

	s := &Session{
		cfg:   cfg,
		wave:  newWaveRing(cfg.WaveSize),
		meter: NewRateMeter(cfg.RateWindow),
		beats: make(BeatChan, 64),
		now:   time.Now,
	}

	opts := []Option{WithBeatEmitter(BeatFunc(s.onBeat))}
	for _, e := range cfg.Emitters {
		opts = append(opts, WithBeatEmitter(e))
	}
	s.processor = NewProcessor(cfg.Tuning, opts...)
	s.begin()

	return s
}

// SetClock replaces the wall clock used by the no-signal policy
func (s *Session) SetClock(now func() time.Time) {
	s.MU.Lock()
	defer s.MU.Unlock()
	s.now = now
	s.lastValid = now()
}

func (s *Session) begin() {
	s.ID = uuid.NewString()
	s.Start = s.now()
	s.lastValid = s.Start
	s.lost = false
	s.wave.reset()
	s.meter.Reset()
	s.samples, s.beatCount = 0, 0
	s.lastBeat = St.Beat{}
	s.firstTs, s.lastTs = 0, 0
}

// onBeat runs inside Processor.Process with MU held
func (s *Session) onBeat(beat St.Beat) {
	s.beatCount++
	s.lastBeat = beat
	s.beatHit = true
	s.wave.markBeat(beat.Timestamp)
	s.beats.Emit(beat)
	if s.cfg.Recorder != nil {
		s.cfg.Recorder.RecBeat(beat.Plausible)
	}
}

// Ingest runs one sample through the pipeline. It returns the filtered
// value and whether a beat was accepted while processing it.
func (s *Session) Ingest(sample St.Sample) (float64, bool) {
	s.MU.Lock()
	defer s.MU.Unlock()

	started := time.Now()

	if !Finite(sample.Value) {
		sample.Valid = false
	}
	if s.samples == 0 {
		s.firstTs = sample.Timestamp
	}
	s.samples++
	s.lastTs = sample.Timestamp

	if sample.Valid {
		s.lastValid = s.now()
		if s.lost {
			s.lost = false
			slog.Info("Signal restored", slog.String("session", s.ID))
		}
	}

	// the wave point goes in first so onBeat can find the peak in it
	s.beatHit = false
	point := St.WavePoint{Timestamp: sample.Timestamp, Valid: sample.Valid}
	s.wave.add(point)
	filtered := s.processor.ProcessSample(sample)
	s.wave.setLast(filtered)

	if s.cfg.AutoRate {
		s.checkRate(sample.Timestamp)
	}
	s.checkSignalLocked()

	if s.cfg.Recorder != nil {
		s.cfg.Recorder.RecSample(time.Since(started), sample.Valid)
	}
	return filtered, s.beatHit
}

func (s *Session) checkRate(ts float64) {
	measured, ok := s.meter.Observe(ts)
	if !ok {
		return
	}
	configured := s.processor.SampleRate()
	if !Drifted(measured, configured, s.cfg.RateTolerance) {
		return
	}
	if measured < minAutoRate || measured > maxAutoRate {
		slog.Warn("Ignoring implausible measured sample rate",
			slog.Float64("measured", measured),
			slog.Float64("configured", configured))
		return
	}

	slog.Warn("Sample rate drifted, reconfiguring",
		slog.String("session", s.ID),
		slog.Float64("measured", FloatPrecise(measured, 1)),
		slog.Float64("configured", configured))
	s.processor.Configure(FloatPrecise(measured, 1))
	s.wave.reset()
}

// checkSignalLocked applies the no-signal policy: when no valid sample
// arrived for NoSignalTimeout the processor is reset once
func (s *Session) checkSignalLocked() {
	if s.cfg.NoSignalTimeout <= 0 || s.lost {
		return
	}
	if s.now().Sub(s.lastValid) < s.cfg.NoSignalTimeout {
		return
	}

	s.lost = true
	s.processor.Reset()
	slog.Warn("No valid signal, processor reset",
		slog.String("session", s.ID),
		slog.Duration("timeout", s.cfg.NoSignalTimeout))
}

// Signal returns ErrNoSignal while the signal is lost
func (s *Session) Signal() error {
	s.MU.Lock()
	defer s.MU.Unlock()
	s.checkSignalLocked()
	if s.lost {
		return ErrNoSignal
	}
	return nil
}

// Run feeds the session from src until the source ends or ctx is done.
// A source that ends, or a cancelled ctx, is a normal stop.
func (s *Session) Run(ctx context.Context, src SampleSource) error {
	s.MU.Lock()
	s.source = src.Type()
	s.MU.Unlock()

	slog.Info("Session running",
		slog.String("session", s.ID),
		slog.String("source", src.Type()))

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.forwardBeats(ctx)
	}()
	go func() {
		defer wg.Done()
		s.watchSignal(ctx)
	}()

	err := s.consume(ctx, src)
	cancel()
	wg.Wait()
	return err
}

func (s *Session) consume(ctx context.Context, src SampleSource) error {
	for {
		sample, err := src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrSourceClosed):
				slog.Info("Sample source ended", slog.String("source", src.Type()))
				return nil
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return nil
			}
			slog.Error("Sample source failed", slog.String("source", src.Type()), slog.Any("error", err))
			return err
		}
		s.Ingest(sample)
	}
}

// forwardBeats hands beats to the output off the sample loop
func (s *Session) forwardBeats(ctx context.Context) {
	for {
		select {
		case beat := <-s.beats:
			s.writeBeat(beat)
		case <-ctx.Done():
			for {
				select {
				case beat := <-s.beats:
					s.writeBeat(beat)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) writeBeat(beat St.Beat) {
	if s.cfg.Output == nil {
		return
	}
	if err := s.cfg.Output.WriteBeat(beat); err != nil {
		slog.Error("Output failed to take beat",
			slog.String("output", s.cfg.Output.Type()),
			slog.Any("error", err))
	}
}

// watchSignal catches a source that stops delivering altogether
func (s *Session) watchSignal(ctx context.Context) {
	if s.cfg.NoSignalTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.NoSignalTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.Signal()
		}
	}
}

// Snapshot reads everything a display needs in one lock
func (s *Session) Snapshot() Snapshot {
	s.MU.RLock()
	defer s.MU.RUnlock()

	snap := Snapshot{
		ID:           s.ID,
		Source:       s.source,
		Started:      s.Start,
		Elapsed:      s.elapsed(),
		Samples:      s.samples,
		SampleRate:   s.processor.SampleRate(),
		MeasuredRate: s.meter.Rate(),
		Quality:      s.processor.SignalQuality(),
		Threshold:    s.processor.Threshold(),
		Refractory:   s.processor.Refractory(),
		Beats:        s.beatCount,
		LastBeat:     s.lastBeat,
		Signal:       !s.lost,
		Counters:     s.processor.Counters(),
		Buffers:      s.processor.Buffers(),
	}
	snap.BPM, snap.BPMOK = s.processor.CurrentBPM()
	snap.SpectralBPM = s.spectralBPM()
	if hrv, ok := s.processor.ComputeHRV(); ok {
		snap.HRV = &hrv
	}
	return snap
}

func (s *Session) elapsed() float64 {
	if s.samples == 0 {
		return 0
	}
	return s.lastTs - s.firstTs
}

func (s *Session) spectralBPM() float64 {
	t := s.processor.Tuning()
	points := s.wave.values(0)
	wave := make([]float64, len(points))
	for i, p := range points {
		wave[i] = p.Value
	}
	bpm, ok := SpectralBPM(wave, s.processor.SampleRate(), t.LowCutHz, t.HighCutHz)
	if !ok {
		return 0
	}
	return FloatPrecise(bpm, 1)
}

// Wave returns the n most recent points, oldest first; n <= 0 is all
func (s *Session) Wave(n int) []St.WavePoint {
	s.MU.RLock()
	defer s.MU.RUnlock()
	return s.wave.values(n)
}

// HRV is the current HRV snapshot
func (s *Session) HRV() (St.HRVMetrics, bool) {
	s.MU.RLock()
	defer s.MU.RUnlock()
	return s.processor.ComputeHRV()
}

// Reading is the current state as a Reading, without writing it anywhere
func (s *Session) Reading() *St.Reading {
	s.MU.RLock()
	defer s.MU.RUnlock()
	return s.readingLocked()
}

func (s *Session) readingLocked() *St.Reading {
	r := &St.Reading{
		ID:          s.ID,
		StartTime:   s.Start,
		Duration:    time.Duration(s.elapsed() * float64(time.Second)),
		SampleRate:  s.processor.SampleRate(),
		Beats:       s.beatCount,
		SpectralBPM: s.spectralBPM(),
		Quality:     s.processor.SignalQuality(),
	}
	if bpm, ok := s.processor.CurrentBPM(); ok {
		r.BPM = bpm
	}
	if hrv, ok := s.processor.ComputeHRV(); ok {
		r.HRV = &hrv
	}
	return r
}

// Finish closes out the measurement: the Reading is written to the
// output and the session starts over with a new ID.
func (s *Session) Finish(ctx context.Context) (*St.Reading, error) {
	_, span := otel.Tracer("systole").Start(ctx, "session.finish")
	defer span.End()

	s.MU.Lock()
	reading := s.readingLocked()
	s.processor.Reset()
	s.begin()
	s.MU.Unlock()

	span.SetAttributes(
		attribute.String("session.id", reading.ID),
		attribute.Int("session.beats", reading.Beats),
		attribute.Int("session.bpm", reading.BPM),
		attribute.Float64("session.quality", reading.Quality),
	)

	slog.Info("Session finished",
		slog.String("session", reading.ID),
		slog.Int("beats", reading.Beats),
		slog.Int("bpm", reading.BPM),
		slog.Float64("quality", FloatPrecise(reading.Quality, 2)),
		slog.Duration("duration", reading.Duration))

	if s.cfg.Recorder != nil {
		s.cfg.Recorder.RecReading(reading.BPM, reading.Quality)
	}

	if s.cfg.Output == nil {
		return reading, nil
	}
	if err := s.cfg.Output.WriteReading(reading); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write reading")
		slog.Error("Output failed to take reading",
			slog.String("output", s.cfg.Output.Type()),
			slog.Any("error", err))
		return reading, err
	}
	if err := s.cfg.Output.Flush(); err != nil {
		span.RecordError(err)
		return reading, err
	}
	return reading, nil
}

// Reset drops the current measurement without writing it
func (s *Session) Reset() {
	s.MU.Lock()
	defer s.MU.Unlock()
	s.processor.Reset()
	s.begin()
	slog.Info("Session reset", slog.String("session", s.ID))
}

// Configure changes the sample rate, which also starts a new measurement
func (s *Session) Configure(rate float64) {
	s.MU.Lock()
	defer s.MU.Unlock()
	s.processor.Configure(rate)
	s.begin()
}

// Processor is exposed for read-only inspection in tests
func (s *Session) Processor() *Processor { return s.processor }

// waveRing keeps the most recent wave points
type waveRing struct {
	points []St.WavePoint
	index  int
}

func newWaveRing(size int) *waveRing {
	return &waveRing{points: make([]St.WavePoint, 0, size)}
}

func (w *waveRing) add(p St.WavePoint) {
	if len(w.points) < cap(w.points) {
		w.points = append(w.points, p)
		return
	}
	w.points[w.index] = p
	w.index = (w.index + 1) % cap(w.points)
}

// markBeat flags the newest point stamped ts
func (w *waveRing) markBeat(ts float64) {
	n := len(w.points)
	for k := 1; k <= n; k++ {
		i := (w.index - k + n) % n
		if len(w.points) < cap(w.points) {
			i = n - k
		}
		if w.points[i].Timestamp == ts {
			w.points[i].Beat = true
			return
		}
		if w.points[i].Timestamp < ts {
			return
		}
	}
}

func (w *waveRing) setLast(v float64) {
	n := len(w.points)
	if n == 0 {
		return
	}
	i := n - 1
	if n == cap(w.points) {
		i = (w.index - 1 + n) % n
	}
	w.points[i].Value = v
}

func (w *waveRing) values(n int) []St.WavePoint {
	out := make([]St.WavePoint, 0, len(w.points))
	if len(w.points) < cap(w.points) {
		out = append(out, w.points...)
	} else {
		out = append(out, w.points[w.index:]...)
		out = append(out, w.points[:w.index]...)
	}
	if n > 0 && n < len(out) {
		out = out[len(out)-n:]
	}
	return out
}

func (w *waveRing) reset() {
	w.points = w.points[:0]
	w.index = 0
}
