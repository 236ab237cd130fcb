package isam

import "github.com/go-isam/isamgo/record"

// BlockClassStats summarizes one block class (regular or overflow):
// occupancy counts and used-records-per-block extremes/average.
type BlockClassStats struct {
	EmptyBlocks   int
	PartialBlocks int
	FullBlocks    int
	UsedMin       int
	UsedMax       int
	UsedAvg       float64
}

// FileStats is the result of a read-only scan over every allocated block.
type FileStats struct {
	Regular  BlockClassStats
	Overflow BlockClassStats

	EmptyRecords int
	UsedRecords  int

	KeyLenMin int
	KeyLenMax int
	KeyLenAvg float64

	keyLenTotal int
	keyLenCount int
}

// FileStats scans every allocated block once, classifying occupancy and
// accumulating key-length statistics over VALID records (the
// strnlen-bounded length per spec.md 4.3, via record.View.StrnlenKeyLen).
func (db *DB) FileStats() (FileStats, error) {
	nrecPB := int(db.header.NrecPB)
	var stats FileStats

	var regUsed, ovUsed []int

	for blk := uint64(0); blk < db.header.CurBlocks; blk++ {
		buf, err := db.cacheBlockBuf(blk)
		if err != nil {
			return FileStats{}, newErr(ReadError, "stats block %d: %v", blk, err)
		}

		used := 0
		for s := 0; s < nrecPB; s++ {
			v := db.slotView(buf, uint64(s))
			if v.Free() {
				stats.EmptyRecords++
				continue
			}
			used++
			stats.UsedRecords++

			if v.HasFlag(record.Valid) {
				kl := v.StrnlenKeyLen()
				if stats.keyLenCount == 0 || kl < stats.KeyLenMin {
					stats.KeyLenMin = kl
				}
				if kl > stats.KeyLenMax {
					stats.KeyLenMax = kl
				}
				stats.keyLenTotal += kl
				stats.keyLenCount++
			}
		}

		if blk < db.header.Nblocks {
			regUsed = append(regUsed, used)
		} else {
			ovUsed = append(ovUsed, used)
		}
	}

	classifyBlocks(&stats.Regular, regUsed, nrecPB)
	classifyBlocks(&stats.Overflow, ovUsed, nrecPB)

	if stats.keyLenCount > 0 {
		stats.KeyLenAvg = float64(stats.keyLenTotal) / float64(stats.keyLenCount)
	}

	return stats, nil
}

func classifyBlocks(c *BlockClassStats, used []int, nrecPB int) {
	total := 0
	for i, u := range used {
		switch {
		case u == 0:
			c.EmptyBlocks++
		case u == nrecPB:
			c.FullBlocks++
		default:
			c.PartialBlocks++
		}
		if i == 0 || u < c.UsedMin {
			c.UsedMin = u
		}
		if u > c.UsedMax {
			c.UsedMax = u
		}
		total += u
	}
	if len(used) > 0 {
		c.UsedAvg = float64(total) / float64(len(used))
	}
}
