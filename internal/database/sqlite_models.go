package walletstatedb

import (
	"time"

	"gorm.io/gorm"
)

// Address statuses. Available addresses are derived ahead of time for
// ownership checks, allocated ones have been handed out, used ones have
// history on chain.
const (
	AddressStatusAvailable = "available"
	AddressStatusAllocated = "allocated"
	AddressStatusUsed      = "used"
)

// Metadata keys.
const (
	NetworkKey                  = "network"
	DescriptorChecksumKey       = "descriptor_checksum"
	ChangeDescriptorChecksumKey = "change_descriptor_checksum"
	TipHeightKey                = "tip_height"
	LastSyncKey                 = "last_sync"
)

// SQLiteAddress is a script derived from one of the wallet keychains.
type SQLiteAddress struct {
	gorm.Model
	Keychain        string `gorm:"uniqueIndex:idx_keychain_derivation"`
	DerivationIndex uint32 `gorm:"uniqueIndex:idx_keychain_derivation"`
	Address         string `gorm:"uniqueIndex"`
	Script          []byte `gorm:"uniqueIndex"`
	Status          string `gorm:"index"` // available, allocated, used
	AllocatedAt     *time.Time
	UsedAt          *time.Time
	BlockHeight     *int32
}

// SQLiteTransaction is a transaction relevant to the wallet.
type SQLiteTransaction struct {
	gorm.Model
	TxID           string `gorm:"column:txid;uniqueIndex"`
	RawTx          []byte
	Confirmed      bool  `gorm:"index"`
	BlockHeight    int32 `gorm:"index"`
	BlockTime      int64
	LastSeen       int64
	LocalBroadcast bool
}

// SQLiteTxOut is a previous output learned from the chain backend, used to
// value inputs of transactions we did not fund ourselves.
type SQLiteTxOut struct {
	gorm.Model
	TxID   string `gorm:"column:txid;uniqueIndex:idx_outpoint"`
	Vout   uint32 `gorm:"uniqueIndex:idx_outpoint"`
	Value  int64
	Script []byte
}

// SQLiteMetadata stores miscellaneous metadata about the wallet
type SQLiteMetadata struct {
	gorm.Model
	Key   string `gorm:"uniqueIndex"`
	Value string
}
