package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/matsen/annot/internal/storage"
)

// chunkInfo is stored at "<key>.chunks" when a record was split.
type chunkInfo struct {
	Chunks int `json:"chunks"`
	Size   int `json:"size"`
}

func chunkKey(key string, i int) string {
	return key + ".chunk." + strconv.Itoa(i)
}

func infoKey(key string) string {
	return key + ".chunks"
}

// chunkingSink splits table records larger than chunkSize into numbered
// chunk records plus an info record. Other records pass straight through.
type chunkingSink struct {
	backend   storage.Backend
	chunkSize int
}

func (c *chunkingSink) Set(ctx context.Context, key string, value []byte) error {
	if !strings.HasSuffix(key, "/"+RecordTable) {
		return c.backend.Set(ctx, key, value)
	}

	prev, err := readInfo(ctx, c.backend, key)
	if err != nil {
		return err
	}

	if len(value) <= c.chunkSize {
		if err := c.backend.Set(ctx, key, value); err != nil {
			return err
		}
		if prev != nil {
			return c.removeChunks(ctx, key, 0, prev.Chunks, true)
		}
		return nil
	}

	n := 0
	for off := 0; off < len(value); off += c.chunkSize {
		end := min(off+c.chunkSize, len(value))
		if err := c.backend.Set(ctx, chunkKey(key, n), value[off:end]); err != nil {
			return err
		}
		n++
	}
	info, err := json.Marshal(chunkInfo{Chunks: n, Size: len(value)})
	if err != nil {
		return err
	}
	if err := c.backend.Set(ctx, infoKey(key), info); err != nil {
		return err
	}
	if err := c.backend.Remove(ctx, key); err != nil {
		return err
	}
	if prev != nil && prev.Chunks > n {
		return c.removeChunks(ctx, key, n, prev.Chunks, false)
	}
	return nil
}

func (c *chunkingSink) removeChunks(ctx context.Context, key string, from, to int, withInfo bool) error {
	if withInfo {
		if err := c.backend.Remove(ctx, infoKey(key)); err != nil {
			return err
		}
	}
	for i := from; i < to; i++ {
		if err := c.backend.Remove(ctx, chunkKey(key, i)); err != nil {
			return err
		}
	}
	return nil
}

func readInfo(ctx context.Context, b storage.Backend, key string) (*chunkInfo, error) {
	data, err := b.Get(ctx, infoKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var info chunkInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, infoKey(key), err)
	}
	return &info, nil
}

// readChunked reads a record written by chunkingSink. A missing record
// returns (nil, nil).
func readChunked(ctx context.Context, b storage.Backend, key string) ([]byte, error) {
	info, err := readInfo(ctx, b, key)
	if err != nil {
		return nil, err
	}
	if info == nil {
		data, err := b.Get(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return data, err
	}

	out := make([]byte, 0, info.Size)
	for i := 0; i < info.Chunks; i++ {
		part, err := b.Get(ctx, chunkKey(key, i))
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s: chunk %d missing", ErrCorruptRecord, key, i)
		}
		if err != nil {
			return nil, fmt.Errorf("reading chunk %d of %s: %w", i, key, err)
		}
		out = append(out, part...)
	}
	if len(out) != info.Size {
		return nil, fmt.Errorf("%w: %s: reassembled %d bytes, expected %d", ErrCorruptRecord, key, len(out), info.Size)
	}
	return out, nil
}
