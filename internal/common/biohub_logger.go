package common

import (
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

// SetupBiohubLogger builds biohubd's logger from a BiohubConfig: a file
// writer (logs/biohubd.log beside the executable) and/or a console writer,
// plus an in-memory writer, and installs it as the global logger.
func SetupBiohubLogger(config *BiohubConfig) arbor.ILogger {
	logger := arbor.NewLogger()

	timeFormat := config.Logging.TimeFormat
	if timeFormat == "" {
		timeFormat = "15:04:05"
	}
	writerConfig := func(t models.LogWriterType, filename string) models.WriterConfiguration {
		return models.WriterConfiguration{
			Type:             t,
			FileName:         filename,
			TimeFormat:       timeFormat,
			TextOutput:       true,
			DisableTimestamp: false,
			MaxSize:          100 * 1024 * 1024,
			MaxBackups:       3,
		}
	}

	hasFile, hasConsole := false, false
	for _, output := range config.Logging.Output {
		switch output {
		case "file":
			hasFile = true
		case "stdout", "console":
			hasConsole = true
		}
	}

	if hasFile {
		execPath, err := os.Executable()
		logsDir := "./logs"
		if err == nil {
			logsDir = filepath.Join(filepath.Dir(execPath), "logs")
		}
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			logger = logger.WithConsoleWriter(writerConfig(models.LogWriterTypeConsole, ""))
			logger.Warn().Err(err).Str("logs_dir", logsDir).Msg("failed to create logs directory")
		} else {
			logger = logger.WithFileWriter(writerConfig(models.LogWriterTypeFile, filepath.Join(logsDir, "biohubd.log")))
		}
	}
	if hasConsole || !hasFile {
		logger = logger.WithConsoleWriter(writerConfig(models.LogWriterTypeConsole, ""))
	}

	logger = logger.WithMemoryWriter(writerConfig(models.LogWriterTypeMemory, ""))
	logger = logger.WithLevelFromString(config.Logging.Level)

	InitLogger(logger)
	return logger
}
