package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const minTickerTime = time.Second / 60

// Progress accumulates event statistics and reports them periodically.
type Progress struct {
	OnStart   func()
	OnUpdate  ProgressFunc
	OnDone    ProgressFunc
	funcMutex sync.Mutex

	currentStat  Stat
	currentMutex sync.Mutex
	startTime    time.Time
	ticker       *time.Ticker
	cancel       chan struct{}
	once         sync.Once
	duration     time.Duration
	lastUpdate   time.Time

	running bool
}

// Stat counts events received by a listener.
type Stat struct {
	Events uint64
	Bytes  uint64
	Errors uint64
}

type ProgressFunc func(s Stat, runtime time.Duration, ticker bool)

func NewProgress(d time.Duration) *Progress {
	return &Progress{duration: d}
}

// Start resets and runs the progress reporter.
func (p *Progress) Start() {
	if p == nil || p.running {
		return
	}

	p.once = sync.Once{}
	p.cancel = make(chan struct{})
	p.running = true
	p.Reset()
	p.startTime = time.Now()
	p.ticker = time.NewTicker(p.duration)

	if p.OnStart != nil {
		p.OnStart()
	}
	go p.reporter()
}

// Reset resets all statistic counters to zero.
func (p *Progress) Reset() {
	if p == nil {
		return
	}

	if !p.running {
		panic("resetting a non-running Progress")
	}
	p.currentMutex.Lock()
	p.currentStat = Stat{}
	p.currentMutex.Unlock()
}

func (p *Progress) updateProgress(current Stat, ticker bool) {
	if p.OnUpdate == nil {
		return
	}

	p.funcMutex.Lock()
	p.OnUpdate(current, time.Since(p.startTime), ticker)
	p.funcMutex.Unlock()
}

func (p *Progress) reporter() {
	if p == nil {
		return
	}
	for {
		select {
		case <-p.ticker.C:
			p.updateProgress(p.Current(), true)
		case <-p.cancel:
			p.ticker.Stop()
			return
		}
	}
}

// Report adds the statistics from s to the current state and reports the
// accumulated statistics, at most once per frame interval.
func (p *Progress) Report(s Stat) {
	if p == nil {
		return
	}

	if !p.running {
		panic("reporting in a non-running Progress")
	}
	p.currentMutex.Lock()
	p.currentStat.Add(s)
	current := p.currentStat
	needUpdate := false
	if time.Since(p.lastUpdate) > minTickerTime {
		p.lastUpdate = time.Now()
		needUpdate = true
	}
	p.currentMutex.Unlock()

	if needUpdate {
		p.updateProgress(current, false)
	}
}

// Current returns the accumulated statistics.
func (p *Progress) Current() Stat {
	p.currentMutex.Lock()
	defer p.currentMutex.Unlock()
	return p.currentStat
}

func (p *Progress) Done() {
	if p == nil || !p.running {
		return
	}

	p.running = false
	p.once.Do(func() {
		close(p.cancel)
	})
	cur := p.Current()
	if p.OnDone != nil {
		p.funcMutex.Lock()
		p.OnDone(cur, time.Since(p.startTime), false)
		p.funcMutex.Unlock()
	}
}

// Add accumulates other into s.
func (s *Stat) Add(other Stat) {
	s.Events += other.Events
	s.Bytes += other.Bytes
	s.Errors += other.Errors
}

// Rate returns events per second over runtime.
func (s Stat) Rate(runtime time.Duration) float64 {
	if runtime <= 0 {
		return 0
	}
	return float64(s.Events) / runtime.Seconds()
}

func (s Stat) String() string {
	return fmt.Sprintf("Stat(%s events, %d errors, %s)",
		humanize.Comma(int64(s.Events)), s.Errors, humanize.IBytes(s.Bytes))
}
