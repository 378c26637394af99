package models

import (
	"time"

	"gorm.io/datatypes"
)

// Title is a sellable work whose revenue is shared on chain by a contract.
type Title struct {
	ID               string                      `gorm:"primaryKey" json:"id"`
	Name             string                      `json:"name"`
	ContractAddress  string                      `json:"contract_address"`
	StakeholderNodes datatypes.JSONSlice[string] `json:"stakeholder_nodes"`
	CreatedAt        time.Time                   `json:"created_at"`
}

// QuorumNode maps a node's address to its private transaction key.
type QuorumNode struct {
	Address    string    `gorm:"primaryKey" json:"address"`
	PrivateFor string    `json:"private_for"`
	OrgName    string    `json:"org_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Meta is a key/value row used for the connection check.
type Meta struct {
	Key       string `gorm:"primaryKey"`
	LastRun   time.Time
	UpdatedAt time.Time
}
