package partition

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/withObsrvr/obsrvr-bulk-loadgen/internal/framing"
)

// Block is a run of consecutive binary records that fills one bulk request.
type Block struct {
	Offset  int64 // byte offset of the first record
	Records int64
	Bytes   int64 // encoded size including length prefixes
}

// ScanRecords walks a length-prefixed record stream from offset 0 and groups
// records into blocks of blockSize. Only the last block may be short.
func ScanRecords(ctx context.Context, r io.Reader, blockSize int) ([]Block, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive: %d", blockSize)
	}

	rr := framing.NewRecordReader(r)
	var (
		blocks []Block
		cur    Block
	)
	for i := int64(0); ; i++ {
		if i%65536 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		start := rr.Offset()
		n, err := rr.Skip()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scan record %d: %w", i, err)
		}

		if cur.Records == 0 {
			cur.Offset = start
		}
		cur.Records++
		cur.Bytes += int64(framing.LengthPrefixSize + n)
		if cur.Records == int64(blockSize) {
			blocks = append(blocks, cur)
			cur = Block{}
		}
	}
	if cur.Records > 0 {
		blocks = append(blocks, cur)
	}
	return blocks, nil
}

// ByBlocks assigns contiguous runs of blocks to n workers. The first
// len(blocks)%n workers receive one extra block. Workers left without blocks
// get an empty range positioned at the end of the input.
func ByBlocks(blocks []Block, n int) ([]Range, error) {
	var total int64
	for _, b := range blocks {
		total += b.Records
	}
	if err := check(total, n); err != nil {
		return nil, err
	}

	per := len(blocks) / n
	rem := len(blocks) % n

	end := blocks[len(blocks)-1].Offset + blocks[len(blocks)-1].Bytes
	out := make([]Range, 0, n)
	var ordinal int64
	next := 0
	for i := 0; i < n; i++ {
		count := per
		if i < rem {
			count++
		}
		r := Range{Worker: i, Unit: UnitRecords, Start: ordinal, Offset: end}
		if count > 0 {
			r.Offset = blocks[next].Offset
		}
		for _, b := range blocks[next : next+count] {
			r.Length += b.Records
		}
		next += count
		ordinal += r.Length
		out = append(out, r)
	}
	return out, nil
}
