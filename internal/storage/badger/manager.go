package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/radekstepan/therascript-sub007/internal/common"
	"github.com/radekstepan/therascript-sub007/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db       *BadgerDB
	analysis interfaces.AnalysisStorage
	sessions interfaces.SessionStorage
	logger   arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:       db,
		analysis: NewAnalysisStorage(db, logger),
		sessions: NewSessionStorage(db, logger),
		logger:   logger,
	}

	logger.Info().Msg("Badger storage manager initialized")
	return manager, nil
}

// AnalysisStorage returns the analysis job storage interface
func (m *Manager) AnalysisStorage() interfaces.AnalysisStorage {
	return m.analysis
}

// SessionStorage returns the session storage interface
func (m *Manager) SessionStorage() interfaces.SessionStorage {
	return m.sessions
}

// DB returns the underlying Badger connection, shared with the work queue
func (m *Manager) DB() *BadgerDB {
	return m.db
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
