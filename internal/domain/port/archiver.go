package port

import "context"

type Archiver interface {
	CreateArchive(ctx context.Context, filePaths []string, outputPath string) error
}
