package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"msmeconnect/internal/config"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup 标准库 log 同时输出到 stdout 和滚动文件
// 未配置 file_path 时只输出到 stdout；返回的 io.Closer 在退出时关闭文件
func Setup(cfg *config.LogConfig) io.Closer {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if cfg.FilePath == "" {
		log.SetOutput(os.Stdout)
		return nopCloser{}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		log.Printf("[Logging] 创建日志目录失败，仅输出到 stdout: %v", err)
		log.SetOutput(os.Stdout)
		return nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
