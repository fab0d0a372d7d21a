package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/atinyakov/shoplist/internal/docstore"
	"go.uber.org/zap"
)

// DocumentRepository defines the persistence operations needed by the DocumentService.
type DocumentRepository interface {
	// GetDocument returns a snapshot with Exists == false for missing documents.
	GetDocument(ctx context.Context, collection, id string) (docstore.Snapshot, error)
	// SetDocument replaces a document's fields, creating it if needed.
	SetDocument(ctx context.Context, collection, id string, fields docstore.Fields) error
}

// ChangeNotifier reports that a document changed, without its content.
type ChangeNotifier interface {
	Watch(collection, id string, fn func()) (cancel func())
}

// DocumentService is a docstore.Store over a repository and a change feed.
type DocumentService struct {
	repo     DocumentRepository
	notifier ChangeNotifier
	log      *zap.Logger
}

// NewDocumentService constructs a DocumentService.
func NewDocumentService(repo DocumentRepository, notifier ChangeNotifier, log *zap.Logger) *DocumentService {
	return &DocumentService{repo: repo, notifier: notifier, log: log}
}

// Get reads collection/id.
func (s *DocumentService) Get(ctx context.Context, collection, id string) (docstore.Snapshot, error) {
	snap, err := s.repo.GetDocument(ctx, collection, id)
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("%w: %w", docstore.ErrRemoteRead, err)
	}
	return snap, nil
}

// Set replaces collection/id.
func (s *DocumentService) Set(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if err := s.repo.SetDocument(ctx, collection, id, fields); err != nil {
		return fmt.Errorf("%w: %w", docstore.ErrRemoteWrite, err)
	}
	return nil
}

// Subscribe delivers the current snapshot, then re-reads and delivers the
// document after every change notification. Deliveries are serialized. The
// subscription ends on Close or when ctx is done.
func (s *DocumentService) Subscribe(ctx context.Context, collection, id string, fn docstore.ChangeFunc) (docstore.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)

	var mu sync.Mutex
	deliver := func() {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		snap, err := s.Get(ctx, collection, id)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.log.Warn("subscription read failed", zap.String("collection", collection), zap.String("id", id), zap.Error(err))
		}
		fn(snap, err)
	}

	// watch before the first read so no change falls between them
	stopWatch := s.notifier.Watch(collection, id, deliver)
	deliver()

	var once sync.Once
	closeSub := func() error {
		once.Do(func() {
			cancel()
			stopWatch()
		})
		return nil
	}
	go func() {
		<-ctx.Done()
		_ = closeSub()
	}()
	return docstore.SubscriptionFunc(closeSub), nil
}
