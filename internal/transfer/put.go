package transfer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rovetools/rove/internal/session"
)

// PutFile streams a local file to the remote path, checking for
// cancellation between chunks. The remote file is truncated first; on
// failure or cancellation it is left as-is for the caller to inspect.
func PutFile(ctx context.Context, fs session.FS, localPath, remotePath string, bufferSize int) error {
	if bufferSize <= 0 {
		bufferSize = 32 * 1024
	}

	in, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer in.Close()

	out, err := fs.Create(remotePath)
	if err != nil {
		return err
	}

	buf := make([]byte, bufferSize)
	for {
		if ctx.Err() != nil {
			out.Close()
			return session.ErrCancelled
		}
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				return werr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			return fmt.Errorf("reading %s: %w", localPath, rerr)
		}
	}
	return out.Close()
}
