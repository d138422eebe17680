package cmd

import (
	"context"
	"io"
	"strings"

	"github.com/gogf/gf/v2/os/glog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var levels = map[string]int{
	"debug":   glog.LEVEL_DEBU,
	"info":    glog.LEVEL_INFO,
	"notice":  glog.LEVEL_NOTI,
	"warning": glog.LEVEL_WARN,
	"error":   glog.LEVEL_ERRO,
}

// setupLogging applies the level and, when a path is configured, the
// rotating file to every package logger through the default handler.
func setupLogging(c LogConfig) io.Closer {
	min := levels[c.Level]

	var out *lumberjack.Logger
	if c.Path != "" {
		out = &lumberjack.Logger{
			Filename:   c.Path,
			MaxSize:    c.MaxSize,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAge,
			Compress:   true,
		}
	}

	glog.SetDefaultHandler(func(ctx context.Context, in *glog.HandlerInput) {
		if in.Level < min {
			return
		}
		if out != nil {
			line := in.String()
			if !strings.HasSuffix(line, "\n") {
				line += "\n"
			}
			_, _ = io.WriteString(out, line)
			return
		}
		in.Next(ctx)
	})

	if out == nil {
		return io.NopCloser(nil)
	}
	return out
}
