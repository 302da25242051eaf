package compact

// ApplySpamFilter zeroes the ephemeral key and ciphertext of every
// output belonging to a transaction whose combined output and action
// count exceeds threshold. Spend nullifiers are never touched.
// Commitments are always retained so the tree still advances
// correctly; only the decrypt candidate is destroyed. A threshold of
// 0 disables filtering entirely, matching the documented default.
func ApplySpamFilter(block *Block, threshold int) {
	if threshold <= 0 {
		return
	}
	for i := range block.Txs {
		tx := &block.Txs[i]
		if len(tx.Outputs) <= threshold {
			continue
		}
		for j := range tx.Outputs {
			tx.Outputs[j].Output.EphemeralKey = [32]byte{}
			tx.Outputs[j].Output.CipherText = [52]byte{}
		}
	}
}
