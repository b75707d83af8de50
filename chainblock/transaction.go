// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

package chainblock

import "crypto/sha256"

// Transaction is a single transaction inside a block. ContextFreeData holds
// the censorable context-free payload: it never participates in ID, so
// pruning it leaves the transaction's identity (and therefore the block's
// transaction merkle root and BlockID) unchanged.
type Transaction struct {
	Data            []byte
	ContextFreeData []byte
	Pruned          bool
}

// ID is the sha256 of Data alone. Deliberately excludes ContextFreeData.
func (t *Transaction) ID() [32]byte {
	return sha256.Sum256(t.Data)
}

// PruneAll censors the transaction's context-free data in place. It never
// touches Data, so ID and any merkle root over IDs is unaffected.
func (t *Transaction) PruneAll() {
	if t.Pruned {
		return
	}
	t.ContextFreeData = nil
	t.Pruned = true
}
