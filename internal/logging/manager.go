package logging

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// LoggerManager управляет файловыми логгерами компонентов
// (scheduler, worker, engine). Пока файлы не включены, компоненты
// пишут в логгер по умолчанию.
type LoggerManager struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
	enabled bool
	console LogLevel
	file    LogLevel
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = &LoggerManager{
			loggers: make(map[string]*Logger),
			console: INFO,
			file:    DEBUG,
		}
	})
	return globalManager
}

// EnableFiles включает файлы компонентов с заданными порогами.
// Пороги применяются и к уже созданным логгерам.
func (lm *LoggerManager) EnableFiles(console, file LogLevel) {
	lm.mu.Lock()
	lm.enabled = true
	lm.console, lm.file = console, file
	components := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		components = append(components, component)
	}
	lm.mu.Unlock()

	for _, component := range components {
		_ = lm.SetLogLevel(component, console, file)
	}
}

// FilesEnabled сообщает, пишут ли компоненты в свои файлы
func (lm *LoggerManager) FilesEnabled() bool {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.enabled
}

// GetLogger возвращает логгер для компонента, создавая его при необходимости
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	if logger, exists := lm.loggers[component]; exists {
		lm.mu.RUnlock()
		return logger, nil
	}
	lm.mu.RUnlock()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	// Проверяем еще раз на случай race condition
	if logger, exists := lm.loggers[component]; exists {
		return logger, nil
	}

	logger, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger for %s: %w", component, err)
	}
	logger.SetLevels(lm.console, lm.file)

	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger возвращает логгер или консольный fallback при ошибке
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err != nil {
		lm.mu.RLock()
		fallback := NewConsoleLogger(os.Stdout, lm.console)
		lm.mu.RUnlock()
		fallback.component = component
		return fallback
	}
	return logger
}

// CloseAll закрывает все логгеры
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var lastErr error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close logger for %s: %w", component, err)
		}
	}

	lm.loggers = make(map[string]*Logger)
	lm.enabled = false
	return lastErr
}

// ListComponents возвращает список всех зарегистрированных компонентов
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	components := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		components = append(components, component)
	}
	sort.Strings(components)
	return components
}

// SetLogLevel устанавливает уровень логирования для компонента
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	lm.mu.RLock()
	logger, exists := lm.loggers[component]
	lm.mu.RUnlock()

	if !exists {
		return fmt.Errorf("logger for component %s not found", component)
	}

	logger.SetLevels(consoleLevel, fileLevel)
	return nil
}

// Component возвращает логгер компонента: файловый, если файлы включены,
// иначе логгер по умолчанию
func Component(component string) *Logger {
	lm := GetLoggerManager()
	if !lm.FilesEnabled() {
		return current()
	}
	return lm.MustGetLogger(component)
}
