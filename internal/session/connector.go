package session

import (
	"fmt"
	"os"

	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/quickfix/config"
)

// Connector is the engine side of a session: Start establishes it, Stop
// logs out and releases it.
type Connector interface {
	Start() error
	Stop()
}

// ConnectorFactory builds the connector that drives app.
type ConnectorFactory func(app quickfix.Application, storeFactory quickfix.MessageStoreFactory, settings *quickfix.Settings, logFactory quickfix.LogFactory) (Connector, error)

// NewInitiator is the default ConnectorFactory.
func NewInitiator(app quickfix.Application, storeFactory quickfix.MessageStoreFactory, settings *quickfix.Settings, logFactory quickfix.LogFactory) (Connector, error) {
	initiator, err := quickfix.NewInitiator(app, storeFactory, settings, logFactory)
	if err != nil {
		return nil, err
	}
	return initiator, nil
}

// LoadSettings reads a quickfix session settings file.
func LoadSettings(path string) (*quickfix.Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session settings: %w", err)
	}
	defer f.Close()

	settings, err := quickfix.ParseSettings(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session settings %s: %w", path, err)
	}
	return settings, nil
}

// engineStoreFactory picks the engine's own sequence-state store: on disk
// when FileStorePath is configured, in memory otherwise.
func engineStoreFactory(settings *quickfix.Settings) quickfix.MessageStoreFactory {
	if settings.GlobalSettings().HasSetting(config.FileStorePath) {
		return quickfix.NewFileStoreFactory(settings)
	}
	for _, s := range settings.SessionSettings() {
		if s.HasSetting(config.FileStorePath) {
			return quickfix.NewFileStoreFactory(settings)
		}
	}
	return quickfix.NewMemoryStoreFactory()
}
