package dlp

import (
	"context"
	"fmt"
	"io"
)

// ChunkSize returns size, or the default chunk size when size is not positive.
func ChunkSize(size int) int {
	if size <= 0 {
		return defaultChunkSize
	}
	return size
}

// ProcessStream reads src in chunks of at most chunkSize bytes and feeds each
// read to the analyzer. The context is checked between chunks; on cancellation
// the chunks already read stay accounted for.
func (a *Analyzer) ProcessStream(ctx context.Context, src io.Reader, chunkSize int) error {
	buf := make([]byte, ChunkSize(chunkSize))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if err := a.ProcessChunk(buf[:n]); err != nil {
				return fmt.Errorf("dlp: failed to process chunk: %w", err)
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return fmt.Errorf("dlp: read error: %w", readErr)
		}
	}
}

// ReadFrom implements io.ReaderFrom so io.Copy can drive an Analyzer.
func (a *Analyzer) ReadFrom(src io.Reader) (int64, error) {
	before := a.bytes
	err := a.ProcessStream(context.Background(), src, defaultChunkSize)
	return int64(a.bytes - before), err
}

// AnalyzeStream runs a fresh analyzer over src and finalizes it.
func AnalyzeStream(ctx context.Context, cfg Config, src io.Reader, chunkSize int) (Result, error) {
	a := NewAnalyzer(cfg)
	if err := a.ProcessStream(ctx, src, chunkSize); err != nil {
		return Result{}, err
	}
	return a.Finalize()
}
