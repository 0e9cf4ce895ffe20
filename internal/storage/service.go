package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/voyagehub/assetsync/internal/common"
	"github.com/voyagehub/assetsync/internal/logging"
	"github.com/voyagehub/assetsync/internal/queue"
)

// ObjectStore is the remote store contract. S3Store implements it.
type ObjectStore interface {
	FolderCreator
	Upload(ctx context.Context, folderID, fileName, mimeType string, data []byte, vis Visibility) (UploadResult, error)
	Delete(ctx context.Context, objectIDOrURL string) error
	Move(ctx context.Context, objectID, toFolderID, fromFolderID string) (string, error)
	ListFolderContents(ctx context.Context, folderID string) ([]Asset, error)
	ListFolders(ctx context.Context, parentID string) ([]string, error)
}

// NameResolver maps a logical storage key to a folder path.
type NameResolver interface {
	ResolveName(ctx context.Context, name string) (string, error)
}

// Service is the storage surface used by the business layer. Uploads go
// through the queue so at most MaxConcurrent of them hit the store at once.
type Service struct {
	store    ObjectStore
	folders  *Hierarchy
	resolver NameResolver
	queue    *queue.Queue
	log      logging.Logger
}

func NewService(store ObjectStore, folders *Hierarchy, resolver NameResolver, q *queue.Queue, log logging.Logger) *Service {
	return &Service{
		store:    store,
		folders:  folders,
		resolver: resolver,
		queue:    q,
		log:      log.With("module", "storage-service"),
	}
}

// ResolveFolder maps a logical key such as "customer_documents" to the id
// of its folder, creating missing folders on the way.
func (s *Service) ResolveFolder(ctx context.Context, logicalKey string) (string, error) {
	p, err := s.resolver.ResolveName(ctx, logicalKey)
	if err != nil {
		return "", err
	}
	segments := SplitPath(p)
	if len(segments) == 0 {
		return "", common.NewOpError("resolve folder", common.ErrInvalidInput, fmt.Errorf("key %s resolves to an empty path", logicalKey))
	}
	return s.folders.EnsurePath(ctx, "", segments...)
}

// FolderPath resolves segments below rootID.
func (s *Service) FolderPath(ctx context.Context, rootID string, segments ...string) (string, error) {
	return s.folders.EnsurePath(ctx, rootID, segments...)
}

// EntityFolder resolves the folder holding docType documents of one entity
// below rootID.
func (s *Service) EntityFolder(ctx context.Context, rootID, entityType, entityID, entityName, docType string) (string, error) {
	segments, err := EntityPath(entityType, entityID, entityName, docType)
	if err != nil {
		return "", err
	}
	return s.folders.EnsurePath(ctx, rootID, segments...)
}

// Upload queues the upload and waits for it.
func (s *Service) Upload(ctx context.Context, folderID, fileName, mimeType string, data []byte, vis Visibility) (UploadResult, error) {
	return s.UploadAsync(ctx, folderID, fileName, mimeType, data, vis).Wait(ctx)
}

func (s *Service) UploadAsync(ctx context.Context, folderID, fileName, mimeType string, data []byte, vis Visibility) *queue.Future[UploadResult] {
	return queue.Submit(ctx, s.queue, func(ctx context.Context) (UploadResult, error) {
		return s.store.Upload(ctx, folderID, fileName, mimeType, data, vis)
	})
}

// UploadFileAsync queues an upload of the local file at localPath. The file
// is read only once the task is admitted, so queued work holds no buffers.
func (s *Service) UploadFileAsync(ctx context.Context, folderID, localPath, fileName, mimeType string, vis Visibility) *queue.Future[UploadResult] {
	return queue.Submit(ctx, s.queue, func(ctx context.Context) (UploadResult, error) {
		data, err := os.ReadFile(localPath)
		if err != nil {
			return UploadResult{}, fmt.Errorf("read %s: %w", localPath, err)
		}
		return s.store.Upload(ctx, folderID, fileName, mimeType, data, vis)
	})
}

func (s *Service) Delete(ctx context.Context, objectIDOrURL string) error {
	return s.store.Delete(ctx, objectIDOrURL)
}

// Move relocates objectID into targetFolderID. currentFolderID is optional
// and, when set, must be the object's folder. The new object id is returned.
func (s *Service) Move(ctx context.Context, objectID, targetFolderID, currentFolderID string) (string, error) {
	return s.store.Move(ctx, objectID, targetFolderID, currentFolderID)
}

func (s *Service) List(ctx context.Context, folderID string) ([]Asset, error) {
	return s.store.ListFolderContents(ctx, folderID)
}

// Subfolders lists the folder ids directly under parentID.
func (s *Service) Subfolders(ctx context.Context, parentID string) ([]string, error) {
	return s.store.ListFolders(ctx, parentID)
}

// InvalidateFolders forgets every memoized folder path, so the next
// resolution goes back to the object store.
func (s *Service) InvalidateFolders(ctx context.Context) int {
	return s.folders.Invalidate(ctx)
}

// Replace uploads data and then removes every older object in folderID with
// the same logical name. The new object exists before the old ones go, so
// readers never see the name missing. Cleanup failures are logged only.
func (s *Service) Replace(ctx context.Context, folderID, fileName, mimeType string, data []byte, vis Visibility) (UploadResult, error) {
	res, err := s.Upload(ctx, folderID, fileName, mimeType, data, vis)
	if err != nil {
		return UploadResult{}, err
	}

	assets, err := s.store.ListFolderContents(ctx, folderID)
	if err != nil {
		s.log.Warn(ctx, "replace: listing for cleanup failed", "folder", folderID, "error", err)
		return res, nil
	}
	for _, a := range assets {
		if a.LogicalName != fileName || a.ObjectID == res.ObjectID {
			continue
		}
		if err := s.store.Delete(ctx, a.ObjectID); err != nil {
			s.log.Warn(ctx, "replace: removing previous version failed", "object", a.ObjectID, "error", err)
		}
	}
	return res, nil
}
