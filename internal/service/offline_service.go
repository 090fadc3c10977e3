package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"slugstate/internal/domain"
	"slugstate/internal/repository"
	"slugstate/pkg/autoconfig"
	"slugstate/pkg/codec"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultSyncInterval    = 30 * time.Second
	DefaultSyncConcurrency = 4
)

// RemoteTransport is the engine's view of the remote state server.
type RemoteTransport interface {
	// Push offers a new token for key. A rejected push is not an error.
	Push(ctx context.Context, key string, req *domain.PushRequest) (*domain.PushAck, error)
	// Pull returns the remote state for key and whether it exists.
	Pull(ctx context.Context, key string) (*domain.RemoteState, bool, error)
}

type OfflineConfig struct {
	Strategy    domain.ResolutionStrategy
	Custom      CustomResolver
	Settings    autoconfig.Settings
	Mode        autoconfig.Mode
	Policy      *autoconfig.Policy
	Password    string
	Interval    time.Duration
	Concurrency int
	DeviceID    string
}

// StateResult describes a local write.
type StateResult struct {
	Key       string
	Token     string
	Plan      *autoconfig.Plan
	Config    autoconfig.Config
	Version   int64
	FitsInURL bool
}

// OfflineService keeps application state in local records and reconciles
// them with the remote in the background. Writes never wait for the
// network.
type OfflineService struct {
	codec     *codec.Codec
	store     repository.LocalStore
	volatile  repository.LocalStore
	transport RemoteTransport
	resolver  *ConflictResolver
	cfg       OfflineConfig

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]bool

	statusMu    sync.Mutex
	online      bool
	syncing     bool
	lastSync    time.Time
	lastError   string
	subscribers map[int]chan domain.Status
	nextSub     int

	runMu sync.Mutex
	stop  chan struct{}
	wg    sync.WaitGroup

	now func() time.Time
}

// NewOfflineService builds an engine over store. transport may be nil,
// in which case every sync fails with ErrNoTransport and records stay
// dirty.
func NewOfflineService(c *codec.Codec, store repository.LocalStore, transport RemoteTransport, cfg OfflineConfig) *OfflineService {
	if cfg.Policy == nil {
		cfg.Policy = autoconfig.DefaultPolicy()
	}
	if cfg.Strategy == "" {
		cfg.Strategy = domain.ResolutionMerge
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSyncInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultSyncConcurrency
	}

	return &OfflineService{
		codec:       c,
		store:       store,
		volatile:    repository.NewMemoryStore(),
		transport:   transport,
		resolver:    NewConflictResolver(cfg.Custom),
		cfg:         cfg,
		locks:       make(map[string]*sync.Mutex),
		inflight:    make(map[string]bool),
		online:      transport != nil,
		subscribers: make(map[int]chan domain.Status),
		now:         time.Now,
	}
}

func (s *OfflineService) lockKey(key string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[key] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (s *OfflineService) load(ctx context.Context, key string) (*domain.SyncRecord, error) {
	record, err := s.store.Get(ctx, key)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}

	record, err = s.volatile.Get(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	return record, nil
}

// save writes record to the store selected by its Persisted flag and
// removes any copy from the other one.
func (s *OfflineService) save(ctx context.Context, record *domain.SyncRecord) error {
	target, other := s.store, s.volatile
	if !record.Persisted {
		target, other = s.volatile, s.store
	}

	if err := target.Put(ctx, record); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	if err := other.Delete(ctx, record.Key); err != nil {
		return fmt.Errorf("failed to remove stale record: %w", err)
	}
	return nil
}

func (s *OfflineService) encode(value any) (string, *autoconfig.Plan, autoconfig.Config, error) {
	plan, err := s.cfg.Policy.AnalyzeSchema(value, s.codec.SchemaVersion())
	if err != nil {
		return "", nil, autoconfig.Config{}, err
	}

	cfg := autoconfig.Compose(s.cfg.Settings, plan, s.cfg.Mode)
	token, err := s.codec.Encode(value, cfg.EncodeOptions(s.cfg.Password))
	if err != nil {
		return "", nil, autoconfig.Config{}, err
	}
	return token, plan, cfg, nil
}

func (s *OfflineService) decode(token string) (any, error) {
	return s.codec.Decode(token, codec.DecodeOptions{Password: s.cfg.Password})
}

// SetState encodes value and records it locally as dirty.
func (s *OfflineService) SetState(ctx context.Context, key string, value any) (*StateResult, error) {
	token, plan, cfg, err := s.encode(value)
	if err != nil {
		return nil, err
	}

	unlock := s.lockKey(key)
	record, err := s.load(ctx, key)
	switch {
	case errors.Is(err, ErrStateNotFound):
		record = &domain.SyncRecord{Key: key}
	case err != nil:
		unlock()
		return nil, err
	}

	record.Token = token
	record.Version++
	record.Revision++
	record.Dirty = true
	if !record.InConflict() {
		record.State = domain.SyncStateDirty
	}
	record.UpdatedAt = s.now().UTC()
	record.ContentHash = codec.Fingerprint(token)
	record.Persisted = cfg.PersistOffline

	err = s.save(ctx, record)
	unlock()
	if err != nil {
		return nil, err
	}

	s.publish()

	return &StateResult{
		Key:       key,
		Token:     token,
		Plan:      plan,
		Config:    cfg,
		Version:   record.Version,
		FitsInURL: codec.FitsInURL(token, s.cfg.Policy.URLBudget),
	}, nil
}

// GetState returns the decoded local value for key. A record in conflict
// returns its local side.
func (s *OfflineService) GetState(ctx context.Context, key string) (any, error) {
	record, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.decode(record.Token)
}

func (s *OfflineService) GetStateInto(ctx context.Context, key string, out any) error {
	record, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	return s.codec.DecodeInto(record.Token, out, codec.DecodeOptions{Password: s.cfg.Password})
}

// Record returns a copy of the local record for key.
func (s *OfflineService) Record(ctx context.Context, key string) (*domain.SyncRecord, error) {
	return s.load(ctx, key)
}

// Clear deletes the local record for key. The remote copy is kept.
func (s *OfflineService) Clear(ctx context.Context, key string) error {
	unlock := s.lockKey(key)
	err := errors.Join(s.store.Delete(ctx, key), s.volatile.Delete(ctx, key))
	unlock()
	if err != nil {
		return fmt.Errorf("failed to clear %q: %w", key, err)
	}

	s.publish()
	return nil
}

func (s *OfflineService) begin(key string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()

	if s.inflight[key] {
		return false
	}
	s.inflight[key] = true
	return true
}

func (s *OfflineService) end(key string) {
	s.inflightMu.Lock()
	delete(s.inflight, key)
	s.inflightMu.Unlock()
}

// Sync reconciles one key with the remote. Dirty records are pushed and
// clean records are refreshed. A key that is already syncing is skipped.
func (s *OfflineService) Sync(ctx context.Context, key string) error {
	if !s.begin(key) {
		return nil
	}
	defer s.end(key)
	defer s.publish()

	unlock := s.lockKey(key)
	record, err := s.load(ctx, key)
	if err != nil {
		unlock()
		if errors.Is(err, ErrStateNotFound) {
			return s.fetch(ctx, key)
		}
		return err
	}

	if record.InConflict() {
		err := s.resolveLocked(ctx, record, s.cfg.Strategy)
		unlock()
		return err
	}

	if s.transport == nil {
		unlock()
		return &SyncError{Key: key, Op: "push", Err: ErrNoTransport}
	}

	if !record.Dirty {
		unlock()
		return s.refresh(ctx, record)
	}

	snapshot := record.Clone()
	record.State = domain.SyncStateSyncing
	if err := s.save(ctx, record); err != nil {
		unlock()
		return err
	}
	unlock()

	ack, pushErr := s.transport.Push(ctx, key, &domain.PushRequest{
		Token:           snapshot.Token,
		ExpectedVersion: snapshot.BaseVersion,
		UpdatedAt:       snapshot.UpdatedAt,
		DeviceID:        s.cfg.DeviceID,
	})
	if pushErr == nil && ack == nil {
		pushErr = errors.New("empty push acknowledgement")
	}

	unlock = s.lockKey(key)
	defer unlock()

	record, err = s.load(ctx, key)
	if err != nil {
		// Cleared while the push was in flight.
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}

	if pushErr != nil {
		if record.State == domain.SyncStateSyncing {
			record.State = domain.SyncStateDirty
		}
		if err := s.save(ctx, record); err != nil {
			return err
		}
		s.setOnline(false)
		return &SyncError{Key: key, Op: "push", Err: pushErr}
	}
	s.setOnline(true)

	switch {
	case ack.Accepted:
		record.BaseVersion = ack.Version
		if record.Revision == snapshot.Revision {
			record.Dirty = false
			record.State = domain.SyncStateClean
		} else if record.State == domain.SyncStateSyncing {
			record.State = domain.SyncStateDirty
		}
		return s.save(ctx, record)

	case ack.Current != nil:
		log.Printf("[Sync] Conflict on %s: local base %d, remote %d", key, snapshot.BaseVersion, ack.Current.Version)
		record.State = domain.SyncStateConflict
		record.RemoteToken = ack.Current.Token
		record.RemoteVersion = ack.Current.Version
		record.RemoteUpdatedAt = ack.Current.UpdatedAt
		return s.resolveLocked(ctx, record, s.cfg.Strategy)

	default:
		// The key was deleted remotely; push it again as new.
		record.BaseVersion = 0
		if record.State == domain.SyncStateSyncing {
			record.State = domain.SyncStateDirty
		}
		return s.save(ctx, record)
	}
}

// refresh adopts a newer remote token for a clean record unless a local
// write lands meanwhile.
func (s *OfflineService) refresh(ctx context.Context, snapshot *domain.SyncRecord) error {
	remote, found, err := s.transport.Pull(ctx, snapshot.Key)
	if err != nil {
		s.setOnline(false)
		return &SyncError{Key: snapshot.Key, Op: "pull", Err: err}
	}
	s.setOnline(true)

	if !found || remote.Version <= snapshot.BaseVersion {
		return nil
	}

	unlock := s.lockKey(snapshot.Key)
	defer unlock()

	record, err := s.load(ctx, snapshot.Key)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}
	if record.Revision != snapshot.Revision || record.Dirty {
		return nil
	}

	s.adopt(record, remote)
	return s.save(ctx, record)
}

// fetch creates a local record for a key that only exists remotely.
func (s *OfflineService) fetch(ctx context.Context, key string) error {
	if s.transport == nil {
		return ErrStateNotFound
	}

	remote, found, err := s.transport.Pull(ctx, key)
	if err != nil {
		s.setOnline(false)
		return &SyncError{Key: key, Op: "pull", Err: err}
	}
	s.setOnline(true)
	if !found {
		return ErrStateNotFound
	}

	unlock := s.lockKey(key)
	defer unlock()

	if _, err := s.load(ctx, key); err == nil {
		return nil
	}

	record := &domain.SyncRecord{Key: key, Persisted: true}
	s.adopt(record, remote)
	return s.save(ctx, record)
}

func (s *OfflineService) adopt(record *domain.SyncRecord, remote *domain.RemoteState) {
	record.Token = remote.Token
	record.Version++
	record.Revision++
	record.BaseVersion = remote.Version
	record.UpdatedAt = remote.UpdatedAt
	record.Dirty = false
	record.State = domain.SyncStateClean
	record.ContentHash = codec.Fingerprint(remote.Token)
	record.ClearRemote()
}

// resolveLocked settles the conflict held in record. The caller holds the
// key lock. On failure the record is saved in the conflict state.
func (s *OfflineService) resolveLocked(ctx context.Context, record *domain.SyncRecord, strategy domain.ResolutionStrategy) error {
	unresolved := func(err error) error {
		record.State = domain.SyncStateConflict
		if saveErr := s.save(ctx, record); saveErr != nil {
			return errors.Join(err, saveErr)
		}
		return err
	}

	local, err := s.decode(record.Token)
	if err != nil {
		return unresolved(&ConflictUnresolvedError{Key: record.Key, Strategy: string(strategy), Err: err})
	}
	remote, err := s.decode(record.RemoteToken)
	if err != nil {
		return unresolved(&ConflictUnresolvedError{Key: record.Key, Strategy: string(strategy), Err: err})
	}

	resolution, err := s.resolver.Resolve(&domain.Conflict{
		Key:             record.Key,
		Local:           local,
		Remote:          remote,
		LocalVersion:    record.Version,
		RemoteVersion:   record.RemoteVersion,
		LocalUpdatedAt:  record.UpdatedAt,
		RemoteUpdatedAt: record.RemoteUpdatedAt,
	}, strategy)
	if err != nil {
		return unresolved(err)
	}

	if resolution.TakeRemote {
		s.adopt(record, &domain.RemoteState{
			Key:       record.Key,
			Token:     record.RemoteToken,
			Version:   record.RemoteVersion,
			UpdatedAt: record.RemoteUpdatedAt,
		})
		log.Printf("[Sync] Conflict on %s resolved with %s: remote kept", record.Key, strategy)
		return s.save(ctx, record)
	}

	if !equalValues(resolution.Value, local) {
		token, _, _, err := s.encode(resolution.Value)
		if err != nil {
			return unresolved(&ConflictUnresolvedError{Key: record.Key, Strategy: string(strategy), Err: err})
		}
		record.Token = token
		record.ContentHash = codec.Fingerprint(token)
		record.Version++
		record.Revision++
		record.UpdatedAt = s.now().UTC()
	}

	record.BaseVersion = record.RemoteVersion
	record.Dirty = true
	record.State = domain.SyncStateDirty
	record.ClearRemote()

	log.Printf("[Sync] Conflict on %s resolved with %s: pending push", record.Key, strategy)
	return s.save(ctx, record)
}

// Resolve settles a record stuck in the conflict state with strategy.
func (s *OfflineService) Resolve(ctx context.Context, key string, strategy domain.ResolutionStrategy) error {
	unlock := s.lockKey(key)
	defer s.publish()
	defer unlock()

	record, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	if !record.InConflict() {
		return ErrNoConflict
	}
	return s.resolveLocked(ctx, record, strategy)
}

func (s *OfflineService) records(ctx context.Context) ([]*domain.SyncRecord, error) {
	persisted, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	volatile, err := s.volatile.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return append(persisted, volatile...), nil
}

// Records returns copies of every local record, sorted by key.
func (s *OfflineService) Records(ctx context.Context) ([]*domain.SyncRecord, error) {
	records, err := s.records(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

// SyncAll syncs every dirty or conflicting key concurrently. Failures do
// not stop other keys; they are recorded in the status and joined.
func (s *OfflineService) SyncAll(ctx context.Context) error {
	records, err := s.records(ctx)
	if err != nil {
		return err
	}

	s.setSyncing(true)

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, record := range records {
		if !record.Dirty && !record.InConflict() {
			continue
		}
		key := record.Key
		g.Go(func() error {
			if err := s.Sync(ctx, key); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	err = errors.Join(errs...)
	s.finishSync(err)
	return err
}

// Start runs SyncAll every interval until Stop or ctx is done. Failed
// keys are retried on the next tick.
func (s *OfflineService) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.stop != nil {
		return
	}
	stop := make(chan struct{})
	s.stop = stop

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.SyncAll(ctx); err != nil {
					log.Printf("[Sync] Background sync failed: %v", err)
				}
			case <-stop:
				return
			case <-ctx.Done():
				// Let a later Start run again. A newer loop owns s.stop if it changed.
				s.runMu.Lock()
				if s.stop == stop {
					s.stop = nil
				}
				s.runMu.Unlock()
				return
			}
		}
	}()
}

// Stop ends the background loop and waits for a sync in progress to
// finish. Dirty records stay in the store.
func (s *OfflineService) Stop() {
	s.runMu.Lock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.runMu.Unlock()

	s.wg.Wait()
}

// Watch syncs every key received from keys until ctx is done or keys is
// closed.
func (s *OfflineService) Watch(ctx context.Context, keys <-chan string) {
	for {
		select {
		case key, ok := <-keys:
			if !ok {
				return
			}
			if err := s.Sync(ctx, key); err != nil {
				log.Printf("[Sync] Sync of announced key %s failed: %v", key, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// SetOnline records connectivity reported by the caller.
func (s *OfflineService) SetOnline(online bool) {
	s.setOnline(online)
	s.publish()
}

func (s *OfflineService) setOnline(online bool) {
	s.statusMu.Lock()
	s.online = online
	s.statusMu.Unlock()
}

func (s *OfflineService) setSyncing(syncing bool) {
	s.statusMu.Lock()
	s.syncing = syncing
	s.statusMu.Unlock()
	s.publish()
}

func (s *OfflineService) finishSync(err error) {
	s.statusMu.Lock()
	s.syncing = false
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
		s.lastSync = s.now().UTC()
	}
	s.statusMu.Unlock()
	s.publish()
}

// Status returns the current engine status. Counts are read from the
// stores.
func (s *OfflineService) Status() domain.Status {
	s.statusMu.Lock()
	status := domain.Status{
		Online:    s.online,
		Syncing:   s.syncing,
		LastSync:  s.lastSync,
		LastError: s.lastError,
	}
	s.statusMu.Unlock()

	records, err := s.records(context.Background())
	if err != nil {
		log.Printf("[Sync] Failed to read status: %v", err)
		return status
	}
	for _, record := range records {
		if record.Dirty {
			status.PendingChanges++
		}
		if record.InConflict() {
			status.ConflictCount++
		}
	}
	status.Conflicts = status.ConflictCount > 0

	return status
}

// Subscribe returns a channel that receives the latest status after each
// change. Slow readers only see the newest status. The returned func
// unsubscribes and closes the channel.
func (s *OfflineService) Subscribe() (<-chan domain.Status, func()) {
	ch := make(chan domain.Status, 1)

	s.statusMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	s.statusMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.statusMu.Lock()
			delete(s.subscribers, id)
			close(ch)
			s.statusMu.Unlock()
		})
	}
}

func (s *OfflineService) publish() {
	s.statusMu.Lock()
	empty := len(s.subscribers) == 0
	s.statusMu.Unlock()
	if empty {
		return
	}

	status := s.Status()

	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- status:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- status:
			default:
			}
		}
	}
}
