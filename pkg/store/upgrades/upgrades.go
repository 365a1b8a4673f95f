// Copyright 2024-2026 Aiku AI

package upgrades

import (
	"embed"

	"go.mau.fi/util/dbutil"
)

// Table holds the schema migrations of the relay database.
var Table dbutil.UpgradeTable

//go:embed *.sql
var rawUpgrades embed.FS

func init() {
	Table.RegisterFS(rawUpgrades)
}
