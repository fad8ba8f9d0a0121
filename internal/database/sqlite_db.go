package walletstatedb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("record not found")

// Store is the local wallet database.
type Store struct {
	db *gorm.DB
}

// InitSQLiteDB opens (creating if needed) the wallet database at dbPath and
// migrates its schema.
func InitSQLiteDB(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	config := &gorm.Config{
		Logger: newGormLogger(),
	}

	db, err := gorm.Open(sqlite.Open(dbPath), config)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.AutoMigrate(
		&SQLiteAddress{},
		&SQLiteTransaction{},
		&SQLiteTxOut{},
		&SQLiteMetadata{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.WithField("path", dbPath).Debug("wallet database initialized")
	return &Store{db: db}, nil
}

// newGormLogger sends gorm errors to the wallet log. Lookups that find
// nothing are expected and stay quiet.
func newGormLogger() logger.Interface {
	return logger.New(log.StandardLogger(), logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  logger.Error,
		IgnoreRecordNotFoundError: true,
	})
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction runs fn inside a database transaction.
func (s *Store) Transaction(fn func(tx *Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// GetMetadata returns the value stored under key, or ErrNotFound.
func (s *Store) GetMetadata(key string) (string, error) {
	var meta SQLiteMetadata
	err := s.db.Where("key = ?", key).First(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return meta.Value, nil
}

// SetMetadata stores value under key.
func (s *Store) SetMetadata(key, value string) error {
	meta := SQLiteMetadata{Key: key, Value: value}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&meta).Error
}

// SaveAddresses inserts derived addresses, leaving existing rows untouched.
func (s *Store) SaveAddresses(addrs []SQLiteAddress) error {
	if len(addrs) == 0 {
		return nil
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&addrs).Error
}

// GetAddresses returns the addresses of a keychain ordered by index.
func (s *Store) GetAddresses(keychain string) ([]SQLiteAddress, error) {
	var addrs []SQLiteAddress
	err := s.db.Where("keychain = ?", keychain).
		Order("derivation_index asc").
		Find(&addrs).Error
	return addrs, err
}

// GetAddress returns the address at index on keychain, or ErrNotFound.
func (s *Store) GetAddress(keychain string, index uint32) (*SQLiteAddress, error) {
	var addr SQLiteAddress
	err := s.db.Where("keychain = ? AND derivation_index = ?", keychain, index).First(&addr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// GetLastAddressIndex returns the highest derived index on keychain, or -1.
func (s *Store) GetLastAddressIndex(keychain string) (int64, error) {
	return s.maxIndex(s.db.Where("keychain = ?", keychain))
}

// GetLastAllocatedIndex returns the highest handed out index on keychain,
// or -1 when nothing has been revealed yet.
func (s *Store) GetLastAllocatedIndex(keychain string) (int64, error) {
	return s.maxIndex(s.db.Where("keychain = ? AND status <> ?", keychain, AddressStatusAvailable))
}

func (s *Store) maxIndex(scope *gorm.DB) (int64, error) {
	var max sql.NullInt64
	err := scope.Model(&SQLiteAddress{}).
		Select("MAX(derivation_index)").
		Row().
		Scan(&max)
	if err != nil {
		return -1, err
	}
	if !max.Valid {
		return -1, nil
	}
	return max.Int64, nil
}

// AllocateAddresses marks every available address up to and including index
// on keychain as allocated.
func (s *Store) AllocateAddresses(keychain string, index uint32) error {
	now := time.Now()
	return s.db.Model(&SQLiteAddress{}).
		Where("keychain = ? AND derivation_index <= ? AND status = ?", keychain, index, AddressStatusAvailable).
		Updates(map[string]interface{}{
			"status":       AddressStatusAllocated,
			"allocated_at": now,
		}).Error
}

// MarkAddressAsUsed flags the address owning script as used.
func (s *Store) MarkAddressAsUsed(script []byte, blockHeight int32) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":  AddressStatusUsed,
		"used_at": now,
	}
	if blockHeight > 0 {
		updates["block_height"] = blockHeight
	}

	result := s.db.Model(&SQLiteAddress{}).
		Where("script = ?", script).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveTransaction inserts a transaction or refreshes its chain position.
func (s *Store) SaveTransaction(tx *SQLiteTransaction) error {
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "txid"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"raw_tx", "confirmed", "block_height", "block_time", "last_seen", "updated_at",
		}),
	}).Create(tx).Error
}

// GetTransactions returns all stored transactions.
func (s *Store) GetTransactions() ([]SQLiteTransaction, error) {
	var txs []SQLiteTransaction
	err := s.db.Order("id asc").Find(&txs).Error
	return txs, err
}

// DeleteTransaction removes a transaction for good.
func (s *Store) DeleteTransaction(txid string) error {
	return s.db.Unscoped().Where("txid = ?", txid).Delete(&SQLiteTransaction{}).Error
}

// SaveTxOuts stores previous outputs, ignoring ones already known.
func (s *Store) SaveTxOuts(outs []SQLiteTxOut) error {
	if len(outs) == 0 {
		return nil
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&outs).Error
}

// GetTxOuts returns all stored previous outputs.
func (s *Store) GetTxOuts() ([]SQLiteTxOut, error) {
	var outs []SQLiteTxOut
	err := s.db.Find(&outs).Error
	return outs, err
}
