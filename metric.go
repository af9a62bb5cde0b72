package zsql

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"zgo.at/zstd/ztime"
)

// MetricRecorder records how long commands took to run.
type MetricRecorder interface {
	Record(d time.Duration, cmd *Command)
}

// MetricsMemory records metrics in memory.
type MetricsMemory struct {
	mu      sync.Mutex
	max     int
	metrics map[string]ztime.Durations
}

// NewMetricsMemory creates a new MetricsMemory, up to "max" metrics per
// command.
func NewMetricsMemory(max int) *MetricsMemory {
	return &MetricsMemory{
		max:     max,
		metrics: make(map[string]ztime.Durations),
	}
}

// Reset the contents.
func (m *MetricsMemory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = make(map[string]ztime.Durations)
}

// Record this command; commands are grouped by their text.
func (m *MetricsMemory) Record(d time.Duration, cmd *Command) {
	m.mu.Lock()
	defer m.mu.Unlock()

	x, ok := m.metrics[cmd.Text]
	if !ok {
		x = ztime.NewDurations(m.max)
	}
	x.Append(d)
	m.metrics[cmd.Text] = x
}

// CommandTimes is the list of durations for a command text.
type CommandTimes struct {
	Command string
	Times   ztime.Durations
}

// Commands gets a list of commands sorted by the total run time.
func (m *MetricsMemory) Commands() []CommandTimes {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := make([]CommandTimes, 0, len(m.metrics))
	for k, v := range m.metrics {
		l = append(l, CommandTimes{k, v})
	}
	sort.Slice(l, func(i, j int) bool {
		if s1, s2 := l[i].Times.Sum(), l[j].Times.Sum(); s1 != s2 {
			return s1 > s2
		}
		return l[i].Command < l[j].Command
	})
	return l
}

func (m *MetricsMemory) String() string {
	b := new(strings.Builder)
	for _, c := range m.Commands() {
		fmt.Fprintf(b, "Command %q:\n", c.Command)
		fmt.Fprintf(b, "    Run time:  %6s\n", c.Times.Sum())
		fmt.Fprintf(b, "    Min:       %6s\n", c.Times.Min())
		fmt.Fprintf(b, "    Max:       %6s\n", c.Times.Max())
		fmt.Fprintf(b, "    Median:    %6s\n", c.Times.Median())
		fmt.Fprintf(b, "    Mean:      %6s\n", c.Times.Mean())
	}
	return b.String()
}
