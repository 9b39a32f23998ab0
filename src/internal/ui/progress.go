package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const Clear = "\033[2K\r"

type ProgressBar struct {
	out         io.Writer
	total       int
	current     int
	failed      int
	startTime   time.Time
	description string
	mu          sync.Mutex
	width       int
	live        bool
}

// NewProgressBar 创建进度条；live 为 false 时（非终端）不重绘，只在 Finish 时输出一次
func NewProgressBar(out io.Writer, total int, description string, live bool) *ProgressBar {
	return &ProgressBar{
		out:         out,
		total:       total,
		startTime:   time.Now(),
		description: description,
		width:       40, // 进度条长度
		live:        live,
	}
}

func (pb *ProgressBar) Increment(failed bool) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.current++
	if failed {
		pb.failed++
	}
	if pb.live {
		pb.render()
	}
}

func (pb *ProgressBar) PrintMsg(msg string) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.live {
		fmt.Fprint(pb.out, Clear)
	}
	fmt.Fprintln(pb.out, msg)
	if pb.live {
		pb.render()
	}
}

func (pb *ProgressBar) Finish() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if !pb.live {
		return
	}
	fmt.Fprint(pb.out, Clear)
	pb.render()
	fmt.Fprintln(pb.out)
}

func (pb *ProgressBar) render() {
	percent := 1.0
	if pb.total > 0 {
		percent = float64(pb.current) / float64(pb.total)
	}
	if percent > 1.0 {
		percent = 1.0
	}

	filled := int(float64(pb.width) * percent)
	bar := strings.Repeat("=", filled)
	if filled < pb.width {
		bar += ">" + strings.Repeat(".", pb.width-filled-1)
	}

	elapsed := time.Since(pb.startTime)
	remaining := time.Duration(0)
	if rate := float64(pb.current) / elapsed.Seconds(); rate > 0 {
		remaining = time.Duration(float64(pb.total-pb.current)/rate) * time.Second
	}
	etaStr := fmt.Sprintf("%02dm%02ds", int(remaining.Minutes()), int(remaining.Seconds())%60)

	barColor := Cyan
	if percent >= 1.0 {
		barColor = Green
	}
	failColor := Green
	if pb.failed > 0 {
		failColor = Red
	}

	fmt.Fprintf(pb.out, "%s%s %s[%s]%s %.0f%% | %d/%d | ETA: %s | Failed: %s%d%s",
		Clear,
		pb.description,
		barColor, bar, Reset,
		percent*100,
		pb.current, pb.total,
		etaStr,
		failColor, pb.failed, Reset,
	)
}
