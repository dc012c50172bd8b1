package ssh

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/pkg/sftp"
)

var (
	ErrSFTPInit       = fmt.Errorf("failed to begin SFTP session")
	ErrRemoteNotFound = fmt.Errorf("remote file does not exist")
	ErrRemoteStat     = fmt.Errorf("failed to stat remote file")
	ErrFetch          = fmt.Errorf("failed to download remote file")
)

func (c *Client) sftpClient() (*sftp.Client, error) {
	c.sftpOnce.Do(func() {
		c.sftp, c.sftpErr = sftp.NewClient(c.conn)
		if c.sftpErr != nil {
			c.sftpErr = fmt.Errorf("%w: %w", ErrSFTPInit, c.sftpErr)
		}
	})
	return c.sftp, c.sftpErr
}

// Stat reports whether 'path' exists on the remote host. A missing file
// yields 'ErrRemoteNotFound'; anything else yields 'ErrRemoteStat'.
func (c *Client) Stat(path string) (fs.FileInfo, error) {
	client, err := c.sftpClient()
	if err != nil {
		return nil, err
	}
	info, err := client.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRemoteNotFound, path)
	} else if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRemoteStat, path, err)
	}
	return info, nil
}

// Fetch downloads 'remote' to the local file 'local', returning the number of
// bytes written. A partially written local file is removed on failure.
func (c *Client) Fetch(remote, local string) (int64, error) {
	client, err := c.sftpClient()
	if err != nil {
		return 0, err
	}
	src, err := client.Open(remote)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrRemoteNotFound, remote)
	} else if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrFetch, remote, err)
	}
	defer src.Close()

	dst, err := os.Create(local)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrFetch, remote, err)
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(local)
		return n, fmt.Errorf("%w: %s: %w", ErrFetch, remote, err)
	}
	return n, nil
}
