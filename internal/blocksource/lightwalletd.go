package blocksource

import (
	"context"
	"fmt"
	"io"

	"github.com/zcash/lightwalletd/walletrpc"
	"google.golang.org/grpc"

	"github.com/zecsync/warpcore/internal/compact"
	"github.com/zecsync/warpcore/internal/protocol"
)

// Lightwalletd is a Source backed by a lightwalletd gRPC endpoint,
// the real-world streaming compact-block server for Zcash light
// wallets (grounded in catalogfi-indexer's use of
// github.com/zcash/lightwalletd/{walletrpc,parser}).
type Lightwalletd struct {
	client walletrpc.CompactTxStreamerClient
}

// Dial connects to a lightwalletd endpoint. Callers own conn's
// lifecycle via the DialOption they pass in (TLS, keepalive, etc).
func Dial(ctx context.Context, addr string, opts ...grpc.DialOption) (*Lightwalletd, error) {
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("blocksource: dial lightwalletd: %w", err)
	}
	return &Lightwalletd{client: walletrpc.NewCompactTxStreamerClient(conn)}, nil
}

func NewFromClient(client walletrpc.CompactTxStreamerClient) *Lightwalletd {
	return &Lightwalletd{client: client}
}

func (l *Lightwalletd) GetBlockRange(ctx context.Context, start, end uint64, yield func(compact.Block) error) error {
	stream, err := l.client.GetBlockRange(ctx, &walletrpc.BlockRange{
		Start: &walletrpc.BlockID{Height: start},
		End:   &walletrpc.BlockID{Height: end},
	})
	if err != nil {
		return fmt.Errorf("blocksource: open GetBlockRange stream: %w", err)
	}

	for {
		cb, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("blocksource: GetBlockRange recv: %w", err)
		}
		if err := yield(convertBlock(cb)); err != nil {
			return err
		}
	}
}

func (l *Lightwalletd) GetLatestBlock(ctx context.Context) (Header, error) {
	id, err := l.client.GetLatestBlock(ctx, &walletrpc.ChainSpec{})
	if err != nil {
		return Header{}, fmt.Errorf("blocksource: GetLatestBlock: %w", err)
	}
	return Header{Height: id.Height, Hash: to32(id.Hash)}, nil
}

func (l *Lightwalletd) GetHeader(ctx context.Context, height uint64) (Header, error) {
	cb, err := l.client.GetBlock(ctx, &walletrpc.BlockID{Height: height})
	if err != nil {
		return Header{}, fmt.Errorf("blocksource: GetBlock(%d): %w", height, err)
	}
	return Header{
		Height:   cb.Height,
		Hash:     to32(cb.Hash),
		PrevHash: to32(cb.PrevHash),
	}, nil
}

func convertBlock(cb *walletrpc.CompactBlock) compact.Block {
	b := compact.Block{
		Height:   cb.Height,
		Hash:     to32(cb.Hash),
		PrevHash: to32(cb.PrevHash),
		Time:     cb.Time,
		Txs:      make([]compact.Tx, len(cb.Vtx)),
	}
	for i, ctx := range cb.Vtx {
		b.Txs[i] = convertTx(ctx)
	}
	return b
}

func convertTx(ct *walletrpc.CompactTx) compact.Tx {
	tx := compact.Tx{
		Index: ct.Index,
		Hash:  to32(ct.Hash),
	}

	for _, s := range ct.Spends {
		tx.Spends = append(tx.Spends, compact.Spend{
			Pool:      protocol.Sapling,
			Nullifier: to32(s.Nf),
		})
	}
	for i, o := range ct.Outputs {
		tx.Outputs = append(tx.Outputs, compact.Output{
			Pool:  protocol.Sapling,
			Index: i,
			Output: protocol.CompactOutput{
				EphemeralKey: to32(o.EphemeralKey),
				CipherText:   to52(o.Ciphertext),
				Commitment:   protocol.Node(to32(o.Cmu)),
			},
		})
	}
	for i, a := range ct.Actions {
		tx.Spends = append(tx.Spends, compact.Spend{
			Pool:      protocol.Orchard,
			Nullifier: to32(a.Nullifier),
		})
		tx.Outputs = append(tx.Outputs, compact.Output{
			Pool:  protocol.Orchard,
			Index: len(ct.Outputs) + i,
			Output: protocol.CompactOutput{
				EphemeralKey: to32(a.EphemeralKey),
				CipherText:   to52(a.Ciphertext),
				Commitment:   protocol.Node(to32(a.Cmx)),
			},
		})
	}
	return tx
}

func to32(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}

func to52(b []byte) [52]byte {
	var out [52]byte
	copy(out[:], b)
	return out
}
