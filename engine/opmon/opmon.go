package opmon

import (
	"sort"
	"sync"
	"time"

	"github.com/xiaonanln/gwsync/engine/gwlog"
)

// OpStat summarizes the runs of one operation between two dumps
type OpStat struct {
	Name  string
	Count uint64
	Total time.Duration
	Max   time.Duration
}

// Avg returns the average duration of the operation
func (s OpStat) Avg() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

var (
	operationPool = sync.Pool{
		New: func() interface{} {
			return &Operation{}
		},
	}

	statsLock sync.Mutex
	stats     = map[string]*OpStat{}
)

func record(name string, d time.Duration) {
	statsLock.Lock()
	s := stats[name]
	if s == nil {
		s = &OpStat{Name: name}
		stats[name] = s
	}
	s.Count++
	s.Total += d
	s.Max = max(s.Max, d)
	statsLock.Unlock()
}

// Collect returns the operations recorded since the last Collect or Dump by name, and clears them
func Collect() []OpStat {
	statsLock.Lock()
	collected := stats
	stats = make(map[string]*OpStat, len(collected))
	statsLock.Unlock()

	list := make([]OpStat, 0, len(collected))
	for _, s := range collected {
		list = append(list, *s)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

// Dump logs the operations recorded since the last Dump
func Dump() {
	for _, s := range Collect() {
		gwlog.Infof("opmon: %-24s x%-8d AVG %-10s MAX %-10s", s.Name, s.Count, s.Avg(), s.Max)
	}
}

// Operation times one run of a named operation
type Operation struct {
	name  string
	start time.Time
}

// StartOperation starts timing an operation
func StartOperation(name string) *Operation {
	op := operationPool.Get().(*Operation)
	op.name = name
	op.start = time.Now()
	return op
}

// Finish records the duration of op in the stats and OperationDuration, warning if it reaches warnThreshold
//
// op must not be used after Finish.
func (op *Operation) Finish(warnThreshold time.Duration) time.Duration {
	d := time.Since(op.start)
	record(op.name, d)
	OperationDuration.WithLabelValues(op.name).Observe(d.Seconds())
	if d >= warnThreshold {
		gwlog.Warnf("opmon: operation %s takes %s > %s", op.name, d, warnThreshold)
	}
	operationPool.Put(op)
	return d
}
