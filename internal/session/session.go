package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yearbookpress/internal/ordering"
)

var (
	// ErrSaveInFlight 表示已有一次保存在进行中。
	ErrSaveInFlight = errors.New("a save is already in flight")
	// ErrPendingNotFound 表示本地待提交条目不存在。
	ErrPendingNotFound = errors.New("pending item not found")
)

// AutoSaveInterval 是草稿触达的固定周期。
const AutoSaveInterval = 60 * time.Second

// PendingPage is a page awaiting upload commit. It exists only inside the
// editing session; the Committed flag is the idempotent staging key that
// makes a re-entrant save skip already-applied items.
type PendingPage struct {
	LocalID    string
	Title      string
	PreviewURL string
	Committed  bool
	PageID     uint
}

// PendingTOCEntry mirrors a durable TOC entry but lacks identity until save.
type PendingTOCEntry struct {
	LocalID     string
	Title       string
	PageNumber  int
	Description string
	Committed   bool
	EntryID     uint
}

// Client is the request surface the editing session drives. The server side
// is stateless; all multi-step coordination lives here.
type Client interface {
	ListContent(yearbookID uint) ([]ordering.Item, error)
	CreatePage(yearbookID uint, pending PendingPage, pageNumber int) (uint, error)
	ReorderPage(pageID uint, newNumber int) error
	DeletePage(pageID uint) error
	CreateTOCEntry(yearbookID uint, entry PendingTOCEntry) (uint, error)
	PublishDrafts(yearbookID uint) error
	DiscardDrafts(yearbookID uint) error
	TouchDraft(yearbookID uint) error
	UnsavedDrafts(yearbookID uint) (bool, error)
}

// ReleasePreview revokes a client-local preview handle (an object url in the
// browser analogue). Nil is allowed.
type ReleasePreview func(previewURL string)

// EditingSession orchestrates one editor's actions against the engine:
// optimistic updates over the combined persisted+pending sequence, manual
// rollback on failure, and the save/discard/auto-save lifecycle.
type EditingSession struct {
	yearbookID uint
	client     Client
	runner     Runner
	release    ReleasePreview

	mu         sync.Mutex
	items      []ordering.Item
	pending    map[string]*PendingPage
	pendingTOC []*PendingTOCEntry
	saving     bool

	stopAutoSave chan struct{}
}

// New loads the current server sequence and opens an editing session on it.
func New(yearbookID uint, client Client, release ReleasePreview) (*EditingSession, error) {
	s := &EditingSession{
		yearbookID: yearbookID,
		client:     client,
		release:    release,
		pending:    make(map[string]*PendingPage),
	}
	if err := s.refreshLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// Items returns a snapshot of the combined sequence.
func (s *EditingSession) Items() []ordering.Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ordering.Item, len(s.items))
	copy(out, s.items)
	return out
}

// PendingCount returns the number of uncommitted pages.
func (s *EditingSession) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, p := range s.pending {
		if !p.Committed {
			count++
		}
	}
	return count
}

// AddPage stages a new page at the end of the combined sequence. Nothing is
// sent to the server until SaveAll; upload mode routing happens there.
func (s *EditingSession) AddPage(title, previewURL string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	localID := uuid.New().String()
	s.pending[localID] = &PendingPage{
		LocalID:    localID,
		Title:      title,
		PreviewURL: previewURL,
	}
	s.items = ordering.Append(s.items, ordering.Item{Kind: ordering.KindPending, LocalID: localID})
	return localID
}

// AddTOCEntry stages a table-of-contents entry.
func (s *EditingSession) AddTOCEntry(title string, pageNumber int, description string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	localID := uuid.New().String()
	s.pendingTOC = append(s.pendingTOC, &PendingTOCEntry{
		LocalID:     localID,
		Title:       title,
		PageNumber:  pageNumber,
		Description: description,
	})
	return localID
}

// Move drags the item to toIndex (0-based). The local sequence updates
// optimistically; renumbering of persisted pages is replayed as sequential
// point requests, and any failure rolls the whole move back.
func (s *EditingSession) Move(key string, toIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshotItems()

	after, err := ordering.Move(s.items, key, toIndex)
	if err != nil {
		return err
	}
	changed := ordering.Diff(s.items, after)

	return s.runner.Run(Command{
		Apply: func() error {
			s.items = after
			return nil
		},
		Request: func() error {
			for _, it := range changed {
				if it.Kind != ordering.KindPersisted {
					continue
				}
				if err := s.client.ReorderPage(it.ID, it.Number); err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func() {
			s.items = snapshot
		},
	})
}

// SetPosition is the manual page-number edit: 1-based, bounded by [1,N].
func (s *EditingSession) SetPosition(key string, number int) error {
	s.mu.Lock()
	count := len(s.items)
	s.mu.Unlock()

	if number < 1 || number > count {
		return ordering.ErrInvalidPosition
	}
	return s.Move(key, number-1)
}

// Swap exchanges two items. For two persisted pages the two point writes are
// fired concurrently and treated as one logical unit for rollback.
func (s *EditingSession) Swap(keyA, keyB string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshotItems()

	after, err := ordering.Swap(s.items, keyA, keyB)
	if err != nil {
		return err
	}
	changed := ordering.Diff(s.items, after)

	return s.runner.Run(Command{
		Apply: func() error {
			s.items = after
			return nil
		},
		Request: func() error {
			var persisted []ordering.Item
			for _, it := range changed {
				if it.Kind == ordering.KindPersisted {
					persisted = append(persisted, it)
				}
			}
			if len(persisted) == 0 {
				return nil
			}

			errs := make([]error, len(persisted))
			var wg sync.WaitGroup
			for i, it := range persisted {
				wg.Add(1)
				go func(i int, it ordering.Item) {
					defer wg.Done()
					errs[i] = s.client.ReorderPage(it.ID, it.Number)
				}(i, it)
			}
			wg.Wait()
			return errors.Join(errs...)
		},
		Rollback: func() {
			s.items = snapshot
		},
	})
}

// Delete removes an item. Pending items vanish locally and their preview is
// revoked; persisted items are deleted optimistically with rollback on
// request failure (the server decides live delete vs draft_deleted).
func (s *EditingSession) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshotItems()

	after, err := ordering.Delete(s.items, key)
	if err != nil {
		return err
	}

	var target ordering.Item
	for _, it := range s.items {
		if it.Key() == key {
			target = it
			break
		}
	}

	if target.Kind == ordering.KindPending {
		pending, ok := s.pending[target.LocalID]
		if !ok {
			return ErrPendingNotFound
		}
		s.items = after
		delete(s.pending, target.LocalID)
		s.releasePreview(pending.PreviewURL)
		return nil
	}

	return s.runner.Run(Command{
		Apply: func() error {
			s.items = after
			return nil
		},
		Request: func() error {
			return s.client.DeletePage(target.ID)
		},
		Rollback: func() {
			s.items = snapshot
		},
	})
}

// SaveAll commits every pending page with its final computed number, commits
// pending TOC entries, then runs the single publish-drafts transition. One
// failed upload does not block the others; the save returns the joined
// errors and a re-invocation skips everything already committed.
func (s *EditingSession) SaveAll() error {
	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return ErrSaveInFlight
	}
	s.saving = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.saving = false
		s.mu.Unlock()
	}()

	s.mu.Lock()
	type job struct {
		pending *PendingPage
		number  int
	}
	var jobs []job
	for _, it := range s.items {
		if it.Kind != ordering.KindPending {
			continue
		}
		if p, ok := s.pending[it.LocalID]; ok && !p.Committed {
			jobs = append(jobs, job{pending: p, number: it.Number})
		}
	}
	var tocJobs []*PendingTOCEntry
	for _, entry := range s.pendingTOC {
		if !entry.Committed {
			tocJobs = append(tocJobs, entry)
		}
	}
	s.mu.Unlock()

	var failures []error
	for _, j := range jobs {
		pageID, err := s.client.CreatePage(s.yearbookID, *j.pending, j.number)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		s.mu.Lock()
		j.pending.Committed = true
		j.pending.PageID = pageID
		s.replacePendingItem(j.pending.LocalID, pageID)
		s.mu.Unlock()
	}

	for _, entry := range tocJobs {
		entryID, err := s.client.CreateTOCEntry(s.yearbookID, *entry)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		s.mu.Lock()
		entry.Committed = true
		entry.EntryID = entryID
		s.mu.Unlock()
	}

	if len(failures) > 0 {
		// 留在 Published-Dirty：已提交的条目保持已提交，下次保存续传
		return errors.Join(failures...)
	}

	if err := s.client.PublishDrafts(s.yearbookID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for localID, p := range s.pending {
		if p.Committed {
			s.releasePreview(p.PreviewURL)
			delete(s.pending, localID)
		}
	}
	s.pendingTOC = s.pendingTOC[:0]
	return s.refreshLocked()
}

// DiscardAll drops every staged edit: pending uploads and TOC entries are
// forgotten locally (previews revoked) and the server restores its published
// state.
func (s *EditingSession) DiscardAll() error {
	s.mu.Lock()
	for localID, p := range s.pending {
		s.releasePreview(p.PreviewURL)
		delete(s.pending, localID)
	}
	s.pendingTOC = s.pendingTOC[:0]
	s.mu.Unlock()

	if err := s.client.DiscardDrafts(s.yearbookID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked()
}

// StartAutoSave begins the periodic draft touch. A tick is skipped while a
// save is in flight so the touch never races the draft-commit path.
func (s *EditingSession) StartAutoSave(interval time.Duration) {
	if interval <= 0 {
		interval = AutoSaveInterval
	}

	s.mu.Lock()
	if s.stopAutoSave != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.stopAutoSave = stop
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.autoSaveTick()
			}
		}
	}()
}

// StopAutoSave halts the periodic draft touch.
func (s *EditingSession) StopAutoSave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopAutoSave != nil {
		close(s.stopAutoSave)
		s.stopAutoSave = nil
	}
}

func (s *EditingSession) autoSaveTick() {
	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		return
	}
	hasPending := false
	for _, p := range s.pending {
		if !p.Committed {
			hasPending = true
			break
		}
	}
	s.mu.Unlock()

	if !hasPending {
		dirty, err := s.client.UnsavedDrafts(s.yearbookID)
		if err != nil || !dirty {
			return
		}
	}
	// 仅刷新草稿触达时间，不承诺任何持久化
	_ = s.client.TouchDraft(s.yearbookID)
}

func (s *EditingSession) refreshLocked() error {
	items, err := s.client.ListContent(s.yearbookID)
	if err != nil {
		return err
	}
	for _, p := range s.pending {
		if !p.Committed {
			items = append(items, ordering.Item{Kind: ordering.KindPending, LocalID: p.LocalID})
		}
	}
	s.items = ordering.Renumber(items)
	return nil
}

func (s *EditingSession) replacePendingItem(localID string, pageID uint) {
	key := ordering.PendingKey(localID)
	for i := range s.items {
		if s.items[i].Key() == key {
			s.items[i] = ordering.Item{
				Kind:   ordering.KindPersisted,
				ID:     pageID,
				Number: s.items[i].Number,
			}
			return
		}
	}
}

func (s *EditingSession) snapshotItems() []ordering.Item {
	out := make([]ordering.Item, len(s.items))
	copy(out, s.items)
	return out
}

func (s *EditingSession) releasePreview(previewURL string) {
	if s.release != nil && previewURL != "" {
		s.release(previewURL)
	}
}
