package config

import (
	"context"
	"os"
	"time"
)

// Watcher 轮询配置文件 mtime，变化时重新加载并回调。
// 用于不支持 inotify 的文件系统（部分容器挂载卷）；其余情况用 fsnotify。
type Watcher struct {
	Path     string
	Interval time.Duration
	// LastMod 只有晚于它的修改才触发回调；零值表示首次检查即回调。
	LastMod  time.Time
}

// Start 阻塞直到 ctx 取消。加载或校验失败时 cfg 为零值、err 非空。
func (w Watcher) Start(ctx context.Context, onUpdate func(cfg AppConfig, err error)) error {
	if w.Interval <= 0 {
		w.Interval = 2 * time.Second
	}
	lastMod := w.LastMod
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			info, err := readFileInfo(w.Path)
			if err != nil {
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()
			cfg, err := LoadWithEnvOverrides(w.Path)
			if onUpdate != nil {
				onUpdate(cfg, err)
			}
		}
	}
}

// ModTime 当前文件修改时间，文件不存在时返回零值。
func ModTime(path string) time.Time {
	info, err := readFileInfo(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// readFileInfo is extracted for testing/mocking.
var readFileInfo = func(path string) (info interface{ ModTime() time.Time }, err error) {
	return os.Stat(path)
}
