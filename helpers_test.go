package flocksync

import (
	"context"
	"sort"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/hillfarm/flocksync/creds"
	"github.com/hillfarm/flocksync/store"
)

// lamb is the typed record used across the document tests.
type lamb struct {
	Meta
	Tag      string  `json:"tag"`
	WeightKg float64 `json:"weight_kg"`
}

func (*lamb) Collection() string { return "lambs" }

type fakeOracle struct {
	mu     sync.Mutex
	online bool
	ch     chan bool
}

func newFakeOracle(online bool) *fakeOracle {
	return &fakeOracle{online: online, ch: make(chan bool, 8)}
}

func (o *fakeOracle) Online() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.online
}

func (o *fakeOracle) Changes() <-chan bool { return o.ch }

func (o *fakeOracle) set(online bool) {
	o.mu.Lock()
	o.online = online
	o.mu.Unlock()
	select {
	case o.ch <- online:
	default:
	}
}

type fakeProvider struct {
	mu         sync.Mutex
	accounts   map[string]string
	identities map[string]Identity
	current    *ProviderSession

	signInErr  error
	signUpErr  error
	refreshErr error

	signIns    int
	refreshes  int
	signOuts   int
	verifies   int
	resetsSent []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		accounts:   make(map[string]string),
		identities: make(map[string]Identity),
	}
}

func (p *fakeProvider) addAccount(id, email, password string, verified bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[email] = password
	p.identities[email] = Identity{ID: id, Email: email, Verified: verified}
}

func (p *fakeProvider) SignIn(ctx context.Context, email, password string) (*ProviderSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signIns++
	if p.signInErr != nil {
		return nil, p.signInErr
	}
	stored, ok := p.accounts[email]
	if !ok {
		return nil, ErrAccountNotFound
	}
	if stored != password {
		return nil, ErrInvalidCredential
	}
	ps := &ProviderSession{Identity: p.identities[email]}
	p.current = ps
	return ps, nil
}

func (p *fakeProvider) SignUp(ctx context.Context, email, password string) (*ProviderSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.signUpErr != nil {
		return nil, p.signUpErr
	}
	if _, ok := p.accounts[email]; ok {
		return nil, ErrAccountExists
	}
	p.accounts[email] = password
	identity := Identity{ID: "uid-" + email, Email: email}
	p.identities[email] = identity
	ps := &ProviderSession{Identity: identity}
	p.current = ps
	return ps, nil
}

func (p *fakeProvider) FederatedSignIn(ctx context.Context, providerID, token string) (*ProviderSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if token == "" {
		return nil, ErrInvalidCredential
	}
	ps := &ProviderSession{Identity: Identity{ID: "fed-" + providerID, Email: providerID + "@federated"}}
	p.current = ps
	return ps, nil
}

func (p *fakeProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOuts++
	p.current = nil
	return nil
}

func (p *fakeProvider) Refresh(ctx context.Context) (*ProviderSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes++
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	if p.current == nil {
		return nil, ErrAccountNotFound
	}
	return p.current, nil
}

func (p *fakeProvider) CurrentSession(ctx context.Context) (*ProviderSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

func (p *fakeProvider) SendVerification(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifies++
	return nil
}

func (p *fakeProvider) SendPasswordReset(ctx context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetsSent = append(p.resetsSent, email)
	return nil
}

type memSub struct {
	collection string
	id         string
	owner      string
	fn         func(store.Change)
	cancelled  bool
}

// memStore is an in-memory store.Interface with failure injection.
type memStore struct {
	mu   sync.Mutex
	docs map[string]map[string]*store.Doc

	failNext    int // fail this many upcoming ops
	failErr     error
	failBatchAt int // 1-based SetBatch call index to fail, 0 = never
	batchCalls  int
	batchSizes  []int
	subs        []*memSub
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]map[string]*store.Doc)}
}

func (s *memStore) failOps(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.failErr = err
}

func (s *memStore) takeFailure() error {
	if s.failNext > 0 {
		s.failNext--
		if s.failErr != nil {
			return s.failErr
		}
		return store.NewError(store.CodeUnavailable, "mem", nil)
	}
	return nil
}

func (s *memStore) Get(ctx context.Context, collection, id string) (*store.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	doc, ok := s.docs[collection][id]
	if !ok {
		return nil, store.NewError(store.CodeNotFound, "get", nil)
	}
	return doc.Clone(), nil
}

func (s *memStore) Set(ctx context.Context, collection string, doc *store.Doc) error {
	s.mu.Lock()
	if err := s.takeFailure(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.putLocked(collection, doc)
	subs := s.matchingSubsLocked(collection, doc)
	s.mu.Unlock()

	s.notify(subs, collection, doc)
	return nil
}

func (s *memStore) SetBatch(ctx context.Context, collection string, docs []*store.Doc) error {
	s.mu.Lock()
	s.batchCalls++
	s.batchSizes = append(s.batchSizes, len(docs))
	if s.failBatchAt != 0 && s.batchCalls == s.failBatchAt {
		s.mu.Unlock()
		return store.NewError(store.CodeInternal, "setbatch", nil)
	}
	if err := s.takeFailure(); err != nil {
		s.mu.Unlock()
		return err
	}
	for _, doc := range docs {
		s.putLocked(collection, doc)
	}
	s.mu.Unlock()
	return nil
}

func (s *memStore) putLocked(collection string, doc *store.Doc) {
	if s.docs[collection] == nil {
		s.docs[collection] = make(map[string]*store.Doc)
	}
	s.docs[collection][doc.ID] = doc.Clone()
}

func (s *memStore) GetAll(ctx context.Context, collection, ownerID string, limit int) ([]*store.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}

	var out []*store.Doc
	for _, doc := range s.docs[collection] {
		if doc.OwnerID != ownerID || doc.Deleted {
			continue
		}
		out = append(out, doc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListenDoc(ctx context.Context, collection, id string, fn func(store.Change)) (store.CancelFunc, error) {
	return s.subscribe(&memSub{collection: collection, id: id, fn: fn})
}

func (s *memStore) ListenAll(ctx context.Context, collection, ownerID string, fn func(store.Change)) (store.CancelFunc, error) {
	return s.subscribe(&memSub{collection: collection, owner: ownerID, fn: fn})
}

func (s *memStore) subscribe(sub *memSub) (store.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		sub.cancelled = true
	}, nil
}

func (s *memStore) matchingSubsLocked(collection string, doc *store.Doc) []*memSub {
	var out []*memSub
	for _, sub := range s.subs {
		if sub.cancelled || sub.collection != collection {
			continue
		}
		if sub.id != "" && sub.id != doc.ID {
			continue
		}
		if sub.owner != "" && sub.owner != doc.OwnerID {
			continue
		}
		out = append(out, sub)
	}
	return out
}

func (s *memStore) notify(subs []*memSub, collection string, doc *store.Doc) {
	kind := store.ChangeModified
	if doc.Deleted {
		kind = store.ChangeRemoved
	}
	for _, sub := range subs {
		sub.fn(store.Change{Kind: kind, Collection: collection, Doc: doc.Clone()})
	}
}

func (s *memStore) activeSubs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sub := range s.subs {
		if !sub.cancelled {
			n++
		}
	}
	return n
}

type engineOpts struct {
	provider *fakeProvider
	oracle   *fakeOracle
	st       store.Interface
	strong   creds.Tier
	fallback creds.Tier
	mutate   func(*Config)
}

func newTestEngine(t *testing.T, opts engineOpts) *Engine {
	t.Helper()

	if opts.provider == nil {
		opts.provider = newFakeProvider()
	}
	if opts.oracle == nil {
		opts.oracle = newFakeOracle(true)
	}
	if opts.st == nil {
		opts.st = newMemStore()
	}
	if opts.strong == nil && opts.fallback == nil {
		opts.strong = creds.NewMemTier()
	}

	cfg := defaultConfig()
	cfg.Audit.Enabled = false
	if opts.mutate != nil {
		opts.mutate(&cfg)
	}

	engine, err := NewBuilder().
		WithConfig(cfg).
		WithProvider(opts.provider).
		WithStore(opts.st).
		WithConnectivity(opts.oracle).
		WithCredentialTiers(opts.strong, opts.fallback).
		WithLogger(zap.NewNop()).
		Build()
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func mustStart(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
}

func mustSignIn(t *testing.T, e *Engine, email, password string) *Identity {
	t.Helper()
	res, err := e.Session().SignInWithPassword(context.Background(), email, password)
	if err != nil {
		t.Fatalf("SignInWithPassword(%q) failed: %v", email, err)
	}
	if res.Identity == nil {
		t.Fatalf("SignInWithPassword(%q) returned nil identity", email)
	}
	return res.Identity
}
