package ssh

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
)

// Uploader pushes files to the remote host over SFTP. The seed stage uses it
// to deliver example-data files before loading them.
type Uploader struct {
	client *Client
}

// NewUploader creates an uploader over an established SSH client.
func NewUploader(client *Client) *Uploader {
	return &Uploader{client: client}
}

// Upload copies a local file to remotePath, creating parent directories.
func (u *Uploader) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sshClient, err := u.client.getClient()
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return fmt.Errorf("failed to open sftp session: %w", err)
	}
	defer sftpClient.Close()

	return u.uploadFile(sftpClient, localPath, remotePath)
}

// UploadDir recursively copies a local directory under remoteDir.
func (u *Uploader) UploadDir(ctx context.Context, localDir, remoteDir string) error {
	sshClient, err := u.client.getClient()
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return fmt.Errorf("failed to open sftp session: %w", err)
	}
	defer sftpClient.Close()

	return filepath.WalkDir(localDir, func(localPath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(localDir, localPath)
		if err != nil {
			return err
		}

		remotePath := path.Join(remoteDir, filepath.ToSlash(rel))
		return u.uploadFile(sftpClient, localPath, remotePath)
	})
}

func (u *Uploader) uploadFile(sftpClient *sftp.Client, localPath, remotePath string) error {
	local, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer local.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("failed to create remote directory %s: %w", path.Dir(remotePath), err)
	}

	remote, err := sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", remotePath, err)
	}
	defer remote.Close()

	if _, err := io.Copy(remote, local); err != nil {
		return fmt.Errorf("failed to upload %s: %w", localPath, err)
	}

	return nil
}
