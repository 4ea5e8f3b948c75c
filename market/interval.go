package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Interval K 线周期，单位秒。
type Interval int64

const (
	Interval30s Interval = 30
	Interval1m  Interval = 60
	Interval5m  Interval = 300
	Interval15m Interval = 900
	Interval1h  Interval = 3600
	Interval4h  Interval = 14400
	Interval1d  Interval = 86400
)

var intervalLabels = map[Interval]string{
	Interval30s: "30s",
	Interval1m:  "1m",
	Interval5m:  "5m",
	Interval15m: "15m",
	Interval1h:  "1h",
	Interval4h:  "4h",
	Interval1d:  "1d",
}

// DefaultIntervals 默认聚合的周期集合。
var DefaultIntervals = []Interval{Interval30s, Interval1m, Interval5m, Interval1h}

// ParseInterval 支持 30s/1m/5m/15m/1h/4h/1d，以及其他整秒的 Go duration（如 "2m"）。
func ParseInterval(label string) (Interval, error) {
	label = strings.TrimSpace(strings.ToLower(label))
	for iv, l := range intervalLabels {
		if l == label {
			return iv, nil
		}
	}
	d, err := time.ParseDuration(label)
	if err != nil {
		return 0, fmt.Errorf("unknown timeframe %q", label)
	}
	if d < time.Second || d%time.Second != 0 {
		return 0, fmt.Errorf("timeframe %q must be a positive whole number of seconds", label)
	}
	return Interval(d / time.Second), nil
}

// ParseIntervals 解析、去重并按从小到大排序。
func ParseIntervals(labels []string) ([]Interval, error) {
	seen := make(map[Interval]struct{}, len(labels))
	out := make([]Interval, 0, len(labels))
	for _, l := range labels {
		iv, err := ParseInterval(l)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[iv]; ok {
			continue
		}
		seen[iv] = struct{}{}
		out = append(out, iv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Label 返回周期的短名称。
func (i Interval) Label() string {
	if l, ok := intervalLabels[i]; ok {
		return l
	}
	return fmt.Sprintf("%ds", int64(i))
}

func (i Interval) String() string { return i.Label() }

func (i Interval) Millis() int64 { return int64(i) * 1000 }

func (i Interval) Duration() time.Duration { return time.Duration(i) * time.Second }

// BucketStart floor(ts / (I*1000)) * I*1000。
func (i Interval) BucketStart(ts int64) int64 {
	ms := i.Millis()
	b := ts / ms * ms
	if ts < 0 && ts%ms != 0 {
		b -= ms
	}
	return b
}
