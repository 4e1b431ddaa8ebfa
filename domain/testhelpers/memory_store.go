package testhelpers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"matrixfund/domain/entities"
	"matrixfund/domain/events"
	"matrixfund/domain/interfaces"
)

// memoryState is the full ledger held by a MemoryStore. Values are stored by
// copy so callers never alias stored records.
type memoryState struct {
	users       map[entities.UserID]entities.User
	nextSeq     int64
	nodes       map[entities.UserID]entities.MatrixNode
	pools       map[entities.PoolType]entities.Pool
	credits     []entities.Credit
	purchases   []entities.Purchase
	withdrawals []entities.Withdrawal
	automation  map[entities.PoolType]entities.AutomationState
	runs        map[string]entities.DistributionRun
	runOrder    []string
	recipients  map[string][]entities.RunRecipient
	proposals   map[int64]entities.TreasuryProposal
	approvals   map[int64][]entities.UserID
	governance  entities.GovernanceState
	roles       map[entities.Role]map[entities.UserID]entities.RoleAssignment
	accounts    map[entities.UserID]int64
	nextID      int64
}

func newMemoryState() memoryState {
	st := memoryState{
		users:      map[entities.UserID]entities.User{},
		nodes:      map[entities.UserID]entities.MatrixNode{},
		pools:      map[entities.PoolType]entities.Pool{},
		automation: map[entities.PoolType]entities.AutomationState{},
		runs:       map[string]entities.DistributionRun{},
		recipients: map[string][]entities.RunRecipient{},
		proposals:  map[int64]entities.TreasuryProposal{},
		approvals:  map[int64][]entities.UserID{},
		roles:      map[entities.Role]map[entities.UserID]entities.RoleAssignment{},
		accounts:   map[entities.UserID]int64{},
		governance: entities.GovernanceState{
			RegistrationsEnabled: true,
			WithdrawalsEnabled:   true,
		},
	}
	for _, poolType := range entities.AllPoolTypes() {
		st.pools[poolType] = entities.Pool{Type: poolType}
	}
	return st
}

func (st memoryState) clone() memoryState {
	c := memoryState{
		users:       make(map[entities.UserID]entities.User, len(st.users)),
		nextSeq:     st.nextSeq,
		nodes:       make(map[entities.UserID]entities.MatrixNode, len(st.nodes)),
		pools:       make(map[entities.PoolType]entities.Pool, len(st.pools)),
		credits:     append([]entities.Credit(nil), st.credits...),
		purchases:   append([]entities.Purchase(nil), st.purchases...),
		withdrawals: append([]entities.Withdrawal(nil), st.withdrawals...),
		automation:  make(map[entities.PoolType]entities.AutomationState, len(st.automation)),
		runs:        make(map[string]entities.DistributionRun, len(st.runs)),
		runOrder:    append([]string(nil), st.runOrder...),
		recipients:  make(map[string][]entities.RunRecipient, len(st.recipients)),
		proposals:   make(map[int64]entities.TreasuryProposal, len(st.proposals)),
		approvals:   make(map[int64][]entities.UserID, len(st.approvals)),
		governance:  cloneGovernance(st.governance),
		roles:       make(map[entities.Role]map[entities.UserID]entities.RoleAssignment, len(st.roles)),
		accounts:    make(map[entities.UserID]int64, len(st.accounts)),
		nextID:      st.nextID,
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.nodes {
		c.nodes[k] = v
	}
	for k, v := range st.pools {
		c.pools[k] = v
	}
	for k, v := range st.automation {
		c.automation[k] = v
	}
	for k, v := range st.runs {
		c.runs[k] = cloneRun(v)
	}
	for k, v := range st.recipients {
		c.recipients[k] = append([]entities.RunRecipient(nil), v...)
	}
	for k, v := range st.proposals {
		c.proposals[k] = v
	}
	for k, v := range st.approvals {
		c.approvals[k] = append([]entities.UserID(nil), v...)
	}
	for role, holders := range st.roles {
		copied := make(map[entities.UserID]entities.RoleAssignment, len(holders))
		for k, v := range holders {
			copied[k] = v
		}
		c.roles[role] = copied
	}
	for k, v := range st.accounts {
		c.accounts[k] = v
	}
	return c
}

func cloneRun(run entities.DistributionRun) entities.DistributionRun {
	allotments := make(map[string]entities.RunAllotment, len(run.Allotments))
	for k, v := range run.Allotments {
		allotments[k] = v
	}
	run.Allotments = allotments
	return run
}

func cloneGovernance(state entities.GovernanceState) entities.GovernanceState {
	if state.AdminFeeBps != nil {
		fee := *state.AdminFeeBps
		state.AdminFeeBps = &fee
	}
	return state
}

// MemoryStore is an in-memory transactional fake of every ledger repository and
// the token vault. A transaction snapshots the state on Begin and restores it on
// Rollback. Failures can be injected per operation.
type MemoryStore struct {
	txMu     sync.Mutex // held while a unit of work is open
	mu       sync.Mutex // guards state and failures
	state    memoryState
	snapshot *memoryState
	failures map[string]error
}

// NewMemoryStore creates a store seeded the way the initial migration seeds
// Postgres: empty pools and an enabled switchboard
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state:    newMemoryState(),
		failures: map[string]error{},
	}
}

// FailOn makes every call to op return err until ClearFailures. Operation names
// are "<repo>.<Method>", for example "pools.Deposit" or "vault.TransferOut".
func (s *MemoryStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// ClearFailures removes every injected failure
func (s *MemoryStore) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = map[string]error{}
}

// fail must be called with s.mu held
func (s *MemoryStore) fail(op string) error {
	if err, ok := s.failures[op]; ok {
		return err
	}
	return nil
}

func (s *MemoryStore) begin() {
	s.txMu.Lock()
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.state.clone()
	s.snapshot = &snap
}

func (s *MemoryStore) commit() {
	s.mu.Lock()
	s.snapshot = nil
	s.mu.Unlock()
	s.txMu.Unlock()
}

func (s *MemoryStore) rollback() {
	s.mu.Lock()
	if s.snapshot != nil {
		s.state = *s.snapshot
		s.snapshot = nil
	}
	s.mu.Unlock()
	s.txMu.Unlock()
}

// Repository accessors

func (s *MemoryStore) Users() interfaces.UserRepository { return &memoryUserRepo{s} }

func (s *MemoryStore) Matrix() interfaces.MatrixRepository { return &memoryMatrixRepo{s} }

func (s *MemoryStore) Pools() interfaces.PoolRepository { return &memoryPoolRepo{s} }

func (s *MemoryStore) Credits() interfaces.CreditRepository { return &memoryCreditRepo{s} }

func (s *MemoryStore) Purchases() interfaces.PurchaseRepository { return &memoryPurchaseRepo{s} }

func (s *MemoryStore) Withdrawals() interfaces.WithdrawalRepository {
	return &memoryWithdrawalRepo{s}
}

func (s *MemoryStore) Automation() interfaces.AutomationRepository {
	return &memoryAutomationRepo{s}
}

func (s *MemoryStore) Runs() interfaces.DistributionRunRepository { return &memoryRunRepo{s} }

func (s *MemoryStore) Proposals() interfaces.ProposalRepository { return &memoryProposalRepo{s} }

func (s *MemoryStore) Governance() interfaces.GovernanceRepository {
	return &memoryGovernanceRepo{s}
}

func (s *MemoryStore) Vault() interfaces.TokenVault { return &memoryVault{s} }

// Inspection helpers for assertions

// User returns a copy of a stored user, nil when absent
func (s *MemoryStore) User(id entities.UserID) *entities.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.state.users[id]
	if !ok {
		return nil
	}
	return &user
}

// AllUsers returns every user in registration order
func (s *MemoryStore) AllUsers() []*entities.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedUsers()
}

// Node returns a copy of a stored matrix node, nil when absent
func (s *MemoryStore) Node(id entities.UserID) *entities.MatrixNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.state.nodes[id]
	if !ok {
		return nil
	}
	return &node
}

// NodeCount returns the number of matrix nodes
func (s *MemoryStore) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.nodes)
}

// Pool returns a copy of a pool
func (s *MemoryStore) Pool(poolType entities.PoolType) entities.Pool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.pools[poolType]
}

// AllCredits returns every credit in insertion order
func (s *MemoryStore) AllCredits() []entities.Credit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entities.Credit(nil), s.state.credits...)
}

// Balance returns a token account balance
func (s *MemoryStore) Balance(holder entities.UserID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.accounts[holder]
}

// Fund credits a token account directly
func (s *MemoryStore) Fund(holder entities.UserID, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.accounts[holder] += amount
}

// State returns a copy of a job's automation state, nil when absent
func (s *MemoryStore) State(job entities.PoolType) *entities.AutomationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.state.automation[job]
	if !ok {
		return nil
	}
	return &state
}

// SetState stores a job's automation state
func (s *MemoryStore) SetState(state entities.AutomationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.automation[state.Job] = state
}

// GovernanceState returns a copy of the switchboard
func (s *MemoryStore) GovernanceState() entities.GovernanceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneGovernance(s.state.governance)
}

// AllRuns returns every distribution run in creation order
func (s *MemoryStore) AllRuns() []entities.DistributionRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := make([]entities.DistributionRun, 0, len(s.state.runOrder))
	for _, id := range s.state.runOrder {
		runs = append(runs, cloneRun(s.state.runs[id]))
	}
	return runs
}

// WithdrawalCount returns the number of withdrawals recorded
func (s *MemoryStore) WithdrawalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.withdrawals)
}

func (s *MemoryStore) sortedUsers() []*entities.User {
	users := make([]*entities.User, 0, len(s.state.users))
	for _, user := range s.state.users {
		u := user
		users = append(users, &u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Seq < users[j].Seq })
	return users
}

// Unit of work

// MemoryUnitOfWork runs repository calls against a MemoryStore inside a
// snapshot transaction and publishes buffered events after commit
type MemoryUnitOfWork struct {
	store     *MemoryStore
	publisher interfaces.EventPublisher
	pending   []events.Event
	active    bool
}

// NewUnitOfWork creates a unit of work whose events go to publisher on commit
func (s *MemoryStore) NewUnitOfWork(publisher interfaces.EventPublisher) *MemoryUnitOfWork {
	return &MemoryUnitOfWork{store: s, publisher: publisher}
}

func (u *MemoryUnitOfWork) Begin(ctx context.Context) error {
	u.store.begin()
	u.active = true
	u.pending = nil
	return nil
}

func (u *MemoryUnitOfWork) Commit() error {
	if !u.active {
		return fmt.Errorf("unit of work not started")
	}
	u.store.commit()
	u.active = false
	for _, event := range u.pending {
		if u.publisher != nil {
			_ = u.publisher.Publish(event)
		}
	}
	u.pending = nil
	return nil
}

func (u *MemoryUnitOfWork) Rollback() error {
	u.pending = nil
	if !u.active {
		return nil
	}
	u.store.rollback()
	u.active = false
	return nil
}

// Publish buffers an event until commit
func (u *MemoryUnitOfWork) Publish(event events.Event) error {
	u.pending = append(u.pending, event)
	return nil
}

func (u *MemoryUnitOfWork) UserRepository() interfaces.UserRepository { return u.store.Users() }

func (u *MemoryUnitOfWork) MatrixRepository() interfaces.MatrixRepository {
	return u.store.Matrix()
}

func (u *MemoryUnitOfWork) PoolRepository() interfaces.PoolRepository { return u.store.Pools() }

func (u *MemoryUnitOfWork) CreditRepository() interfaces.CreditRepository {
	return u.store.Credits()
}

func (u *MemoryUnitOfWork) PurchaseRepository() interfaces.PurchaseRepository {
	return u.store.Purchases()
}

func (u *MemoryUnitOfWork) WithdrawalRepository() interfaces.WithdrawalRepository {
	return u.store.Withdrawals()
}

func (u *MemoryUnitOfWork) AutomationRepository() interfaces.AutomationRepository {
	return u.store.Automation()
}

func (u *MemoryUnitOfWork) DistributionRunRepository() interfaces.DistributionRunRepository {
	return u.store.Runs()
}

func (u *MemoryUnitOfWork) ProposalRepository() interfaces.ProposalRepository {
	return u.store.Proposals()
}

func (u *MemoryUnitOfWork) GovernanceRepository() interfaces.GovernanceRepository {
	return u.store.Governance()
}

func (u *MemoryUnitOfWork) TokenVault() interfaces.TokenVault { return u.store.Vault() }

func (u *MemoryUnitOfWork) EventBus() interfaces.EventPublisher { return u }

// Users

type memoryUserRepo struct{ s *MemoryStore }

func (r *memoryUserRepo) GetByID(ctx context.Context, id entities.UserID) (*entities.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("users.GetByID"); err != nil {
		return nil, err
	}
	user, ok := r.s.state.users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (r *memoryUserRepo) GetByIDs(ctx context.Context, ids []entities.UserID) ([]*entities.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("users.GetByIDs"); err != nil {
		return nil, err
	}
	users := make([]*entities.User, 0, len(ids))
	for _, id := range ids {
		if user, ok := r.s.state.users[id]; ok {
			users = append(users, &user)
		}
	}
	return users, nil
}

func (r *memoryUserRepo) Create(ctx context.Context, user *entities.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("users.Create"); err != nil {
		return err
	}
	if _, ok := r.s.state.users[user.ID]; ok {
		return fmt.Errorf("user %s already exists", user.ID)
	}
	r.s.state.nextSeq++
	user.Seq = r.s.state.nextSeq
	user.UpdatedAt = time.Now()
	r.s.state.users[user.ID] = *user
	return nil
}

// Update mirrors the Postgres repository: team size is owned by IncrementTeamSize
func (r *memoryUserRepo) Update(ctx context.Context, user *entities.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("users.Update"); err != nil {
		return err
	}
	stored, ok := r.s.state.users[user.ID]
	if !ok {
		return fmt.Errorf("user %s not found", user.ID)
	}
	updated := *user
	updated.Seq = stored.Seq
	updated.SponsorID = stored.SponsorID
	updated.RegisteredAt = stored.RegisteredAt
	updated.TeamSize = stored.TeamSize
	updated.UpdatedAt = time.Now()
	r.s.state.users[user.ID] = updated
	return nil
}

func (r *memoryUserRepo) IncrementTeamSize(ctx context.Context, ids []entities.UserID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("users.IncrementTeamSize"); err != nil {
		return err
	}
	for _, id := range ids {
		user, ok := r.s.state.users[id]
		if !ok {
			continue
		}
		user.TeamSize++
		r.s.state.users[id] = user
	}
	return nil
}

func (r *memoryUserRepo) GetSponsorChain(ctx context.Context, id entities.UserID, maxDepth int) ([]*entities.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("users.GetSponsorChain"); err != nil {
		return nil, err
	}
	var chain []*entities.User
	current, ok := r.s.state.users[id]
	for ok && current.SponsorID != nil && len(chain) < maxDepth {
		sponsor, found := r.s.state.users[*current.SponsorID]
		if !found {
			break
		}
		s := sponsor
		chain = append(chain, &s)
		current, ok = sponsor, true
	}
	return chain, nil
}

func (r *memoryUserRepo) Count(ctx context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("users.Count"); err != nil {
		return 0, err
	}
	return int64(len(r.s.state.users)), nil
}

// Matrix

type memoryMatrixRepo struct{ s *MemoryStore }

func (r *memoryMatrixRepo) GetNode(ctx context.Context, id entities.UserID) (*entities.MatrixNode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("matrix.GetNode"); err != nil {
		return nil, err
	}
	node, ok := r.s.state.nodes[id]
	if !ok {
		return nil, nil
	}
	return &node, nil
}

func (r *memoryMatrixRepo) GetNodes(ctx context.Context, ids []entities.UserID) ([]*entities.MatrixNode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("matrix.GetNodes"); err != nil {
		return nil, err
	}
	nodes := make([]*entities.MatrixNode, 0, len(ids))
	for _, id := range ids {
		if node, ok := r.s.state.nodes[id]; ok {
			nodes = append(nodes, &node)
		}
	}
	return nodes, nil
}

func (r *memoryMatrixRepo) Create(ctx context.Context, node *entities.MatrixNode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("matrix.Create"); err != nil {
		return err
	}
	if _, ok := r.s.state.nodes[node.UserID]; ok {
		return fmt.Errorf("matrix node %s already exists", node.UserID)
	}
	r.s.state.nodes[node.UserID] = *node
	return nil
}

func (r *memoryMatrixRepo) AttachChild(ctx context.Context, parent entities.UserID, side entities.MatrixSide, child entities.UserID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("matrix.AttachChild"); err != nil {
		return err
	}
	node, ok := r.s.state.nodes[parent]
	if !ok {
		return fmt.Errorf("matrix node %s not found", parent)
	}
	childID := child
	switch side {
	case entities.MatrixSideLeft:
		if node.LeftChild != nil {
			return fmt.Errorf("left slot of %s already taken", parent)
		}
		node.LeftChild = &childID
	case entities.MatrixSideRight:
		if node.RightChild != nil {
			return fmt.Errorf("right slot of %s already taken", parent)
		}
		node.RightChild = &childID
	default:
		return fmt.Errorf("invalid matrix side %q", side)
	}
	r.s.state.nodes[parent] = node
	return nil
}

func (r *memoryMatrixRepo) GetAncestors(ctx context.Context, id entities.UserID, maxDepth int) ([]entities.UserID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("matrix.GetAncestors"); err != nil {
		return nil, err
	}
	var ancestors []entities.UserID
	node, ok := r.s.state.nodes[id]
	for ok && node.ParentID != nil {
		if maxDepth > 0 && len(ancestors) >= maxDepth {
			break
		}
		ancestors = append(ancestors, *node.ParentID)
		node, ok = r.s.state.nodes[*node.ParentID]
	}
	return ancestors, nil
}

// Pools

type memoryPoolRepo struct{ s *MemoryStore }

func (r *memoryPoolRepo) Get(ctx context.Context, poolType entities.PoolType) (*entities.Pool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("pools.Get"); err != nil {
		return nil, err
	}
	pool, ok := r.s.state.pools[poolType]
	if !ok {
		return nil, fmt.Errorf("pool %s not found", poolType)
	}
	return &pool, nil
}

func (r *memoryPoolRepo) GetAll(ctx context.Context) ([]*entities.Pool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("pools.GetAll"); err != nil {
		return nil, err
	}
	pools := make([]*entities.Pool, 0, len(r.s.state.pools))
	for _, poolType := range entities.AllPoolTypes() {
		if pool, ok := r.s.state.pools[poolType]; ok {
			pools = append(pools, &pool)
		}
	}
	return pools, nil
}

func (r *memoryPoolRepo) update(op string, poolType entities.PoolType, amount int64, apply func(*entities.Pool) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail(op); err != nil {
		return err
	}
	if amount < 0 {
		return fmt.Errorf("negative pool amount %d", amount)
	}
	pool, ok := r.s.state.pools[poolType]
	if !ok {
		return fmt.Errorf("pool %s not found", poolType)
	}
	if err := apply(&pool); err != nil {
		return err
	}
	pool.UpdatedAt = time.Now()
	r.s.state.pools[poolType] = pool
	return nil
}

func (r *memoryPoolRepo) Deposit(ctx context.Context, poolType entities.PoolType, amount int64) error {
	return r.update("pools.Deposit", poolType, amount, func(p *entities.Pool) error {
		p.Balance += amount
		p.TotalReceived += amount
		return nil
	})
}

func (r *memoryPoolRepo) Withdraw(ctx context.Context, poolType entities.PoolType, amount int64) error {
	return r.update("pools.Withdraw", poolType, amount, func(p *entities.Pool) error {
		if p.Balance < amount {
			return fmt.Errorf("%w: %s pool holds %d, need %d", interfaces.ErrInsufficientFunds, poolType, p.Balance, amount)
		}
		p.Balance -= amount
		return nil
	})
}

func (r *memoryPoolRepo) Refund(ctx context.Context, poolType entities.PoolType, amount int64) error {
	return r.update("pools.Refund", poolType, amount, func(p *entities.Pool) error {
		p.Balance += amount
		return nil
	})
}

func (r *memoryPoolRepo) AddDistributed(ctx context.Context, poolType entities.PoolType, amount int64) error {
	return r.update("pools.AddDistributed", poolType, amount, func(p *entities.Pool) error {
		p.TotalDistributed += amount
		return nil
	})
}

// Credits

type memoryCreditRepo struct{ s *MemoryStore }

func (r *memoryCreditRepo) Record(ctx context.Context, credit *entities.Credit) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("credits.Record"); err != nil {
		return err
	}
	r.s.state.nextID++
	credit.ID = r.s.state.nextID
	if credit.CreatedAt.IsZero() {
		credit.CreatedAt = time.Now()
	}
	r.s.state.credits = append(r.s.state.credits, *credit)
	return nil
}

func (r *memoryCreditRepo) GetByRecipient(ctx context.Context, recipient entities.UserID, limit int) ([]*entities.Credit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("credits.GetByRecipient"); err != nil {
		return nil, err
	}
	var credits []*entities.Credit
	for i := len(r.s.state.credits) - 1; i >= 0; i-- {
		credit := r.s.state.credits[i]
		if credit.RecipientID != recipient {
			continue
		}
		credits = append(credits, &credit)
		if limit > 0 && len(credits) >= limit {
			break
		}
	}
	return credits, nil
}

func (r *memoryCreditRepo) SumByReference(ctx context.Context, refType entities.ReferenceType, refID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("credits.SumByReference"); err != nil {
		return 0, err
	}
	var total int64
	for _, credit := range r.s.state.credits {
		if credit.ReferenceType == refType && credit.ReferenceID == refID {
			total += credit.CreditedAmount
		}
	}
	return total, nil
}

// Purchases

type memoryPurchaseRepo struct{ s *MemoryStore }

func (r *memoryPurchaseRepo) Create(ctx context.Context, purchase *entities.Purchase) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("purchases.Create"); err != nil {
		return err
	}
	r.s.state.nextID++
	purchase.ID = r.s.state.nextID
	r.s.state.purchases = append(r.s.state.purchases, *purchase)
	return nil
}

func (r *memoryPurchaseRepo) GetByBuyer(ctx context.Context, buyer entities.UserID) ([]*entities.Purchase, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("purchases.GetByBuyer"); err != nil {
		return nil, err
	}
	var purchases []*entities.Purchase
	for _, purchase := range r.s.state.purchases {
		if purchase.BuyerID == buyer {
			p := purchase
			purchases = append(purchases, &p)
		}
	}
	return purchases, nil
}

// Withdrawals

type memoryWithdrawalRepo struct{ s *MemoryStore }

func (r *memoryWithdrawalRepo) Create(ctx context.Context, withdrawal *entities.Withdrawal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("withdrawals.Create"); err != nil {
		return err
	}
	r.s.state.nextID++
	withdrawal.ID = r.s.state.nextID
	r.s.state.withdrawals = append(r.s.state.withdrawals, *withdrawal)
	return nil
}

func (r *memoryWithdrawalRepo) GetByUser(ctx context.Context, id entities.UserID, limit int) ([]*entities.Withdrawal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("withdrawals.GetByUser"); err != nil {
		return nil, err
	}
	var withdrawals []*entities.Withdrawal
	for i := len(r.s.state.withdrawals) - 1; i >= 0; i-- {
		withdrawal := r.s.state.withdrawals[i]
		if withdrawal.UserID != id {
			continue
		}
		withdrawals = append(withdrawals, &withdrawal)
		if limit > 0 && len(withdrawals) >= limit {
			break
		}
	}
	return withdrawals, nil
}

// Automation

type memoryAutomationRepo struct{ s *MemoryStore }

func (r *memoryAutomationRepo) Get(ctx context.Context, job entities.PoolType) (*entities.AutomationState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("automation.Get"); err != nil {
		return nil, err
	}
	state, ok := r.s.state.automation[job]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (r *memoryAutomationRepo) GetAll(ctx context.Context) ([]*entities.AutomationState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("automation.GetAll"); err != nil {
		return nil, err
	}
	var states []*entities.AutomationState
	for _, job := range entities.AllPoolTypes() {
		if state, ok := r.s.state.automation[job]; ok {
			states = append(states, &state)
		}
	}
	return states, nil
}

func (r *memoryAutomationRepo) Save(ctx context.Context, state *entities.AutomationState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("automation.Save"); err != nil {
		return err
	}
	state.UpdatedAt = time.Now()
	r.s.state.automation[state.Job] = *state
	return nil
}

// Distribution runs

type memoryRunRepo struct{ s *MemoryStore }

func (r *memoryRunRepo) Create(ctx context.Context, run *entities.DistributionRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("runs.Create"); err != nil {
		return err
	}
	if _, ok := r.s.state.runs[run.ID]; ok {
		return fmt.Errorf("distribution run %s already exists", run.ID)
	}
	r.s.state.runs[run.ID] = cloneRun(*run)
	r.s.state.runOrder = append(r.s.state.runOrder, run.ID)
	return nil
}

func (r *memoryRunRepo) Update(ctx context.Context, run *entities.DistributionRun) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("runs.Update"); err != nil {
		return err
	}
	if _, ok := r.s.state.runs[run.ID]; !ok {
		return fmt.Errorf("distribution run %s not found", run.ID)
	}
	r.s.state.runs[run.ID] = cloneRun(*run)
	return nil
}

func (r *memoryRunRepo) GetInProgress(ctx context.Context) (*entities.DistributionRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("runs.GetInProgress"); err != nil {
		return nil, err
	}
	for _, id := range r.s.state.runOrder {
		run := r.s.state.runs[id]
		if run.Status == entities.RunStatusInProgress {
			copied := cloneRun(run)
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memoryRunRepo) GetLatest(ctx context.Context, job entities.PoolType) (*entities.DistributionRun, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("runs.GetLatest"); err != nil {
		return nil, err
	}
	for i := len(r.s.state.runOrder) - 1; i >= 0; i-- {
		run := r.s.state.runs[r.s.state.runOrder[i]]
		if run.Job == job {
			copied := cloneRun(run)
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memoryRunRepo) SnapshotRecipients(ctx context.Context, runID string, criteria entities.RecipientCriteria) (map[string]entities.RunAllotment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("runs.SnapshotRecipients"); err != nil {
		return nil, err
	}
	groups := map[string]entities.RunAllotment{}
	var recipients []entities.RunRecipient
	for _, user := range r.s.sortedUsers() {
		if !criteria.Matches(user) {
			continue
		}
		group := criteria.GroupOf(user)
		weight := criteria.WeightOf(user)
		recipients = append(recipients, entities.RunRecipient{
			RunID:  runID,
			UserID: user.ID,
			Seq:    user.Seq,
			Group:  group,
			Weight: weight,
		})
		allotment := groups[group]
		allotment.TotalWeight += weight
		allotment.Recipients++
		groups[group] = allotment
	}
	r.s.state.recipients[runID] = recipients
	return groups, nil
}

func (r *memoryRunRepo) NextUnpaid(ctx context.Context, runID string, limit int) ([]*entities.RunRecipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("runs.NextUnpaid"); err != nil {
		return nil, err
	}
	var unpaid []*entities.RunRecipient
	for _, recipient := range r.s.state.recipients[runID] {
		if recipient.Paid {
			continue
		}
		rec := recipient
		unpaid = append(unpaid, &rec)
		if len(unpaid) >= limit {
			break
		}
	}
	return unpaid, nil
}

func (r *memoryRunRepo) MarkPaid(ctx context.Context, runID string, userID entities.UserID, amount int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("runs.MarkPaid"); err != nil {
		return err
	}
	recipients := r.s.state.recipients[runID]
	for i := range recipients {
		if recipients[i].UserID != userID {
			continue
		}
		if recipients[i].Paid {
			return fmt.Errorf("recipient %s of run %s already paid", userID, runID)
		}
		recipients[i].Paid = true
		recipients[i].Amount = amount
		return nil
	}
	return fmt.Errorf("recipient %s not in run %s", userID, runID)
}

// Proposals

type memoryProposalRepo struct{ s *MemoryStore }

func (r *memoryProposalRepo) withApprovals(p entities.TreasuryProposal) *entities.TreasuryProposal {
	p.Approvals = append([]entities.UserID(nil), r.s.state.approvals[p.ID]...)
	return &p
}

func (r *memoryProposalRepo) Create(ctx context.Context, proposal *entities.TreasuryProposal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("proposals.Create"); err != nil {
		return err
	}
	r.s.state.nextID++
	proposal.ID = r.s.state.nextID
	stored := *proposal
	stored.Approvals = nil
	r.s.state.proposals[proposal.ID] = stored
	return nil
}

func (r *memoryProposalRepo) GetByID(ctx context.Context, id int64) (*entities.TreasuryProposal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("proposals.GetByID"); err != nil {
		return nil, err
	}
	proposal, ok := r.s.state.proposals[id]
	if !ok {
		return nil, nil
	}
	return r.withApprovals(proposal), nil
}

func (r *memoryProposalRepo) Update(ctx context.Context, proposal *entities.TreasuryProposal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("proposals.Update"); err != nil {
		return err
	}
	stored, ok := r.s.state.proposals[proposal.ID]
	if !ok {
		return fmt.Errorf("proposal %d not found", proposal.ID)
	}
	stored.Executed = proposal.Executed
	stored.Cancelled = proposal.Cancelled
	stored.ExecutedAt = proposal.ExecutedAt
	r.s.state.proposals[proposal.ID] = stored
	return nil
}

func (r *memoryProposalRepo) AddApproval(ctx context.Context, id int64, signer entities.UserID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("proposals.AddApproval"); err != nil {
		return err
	}
	if _, ok := r.s.state.proposals[id]; !ok {
		return fmt.Errorf("proposal %d not found", id)
	}
	for _, existing := range r.s.state.approvals[id] {
		if existing == signer {
			return fmt.Errorf("duplicate approval by %s on proposal %d", signer, id)
		}
	}
	r.s.state.approvals[id] = append(r.s.state.approvals[id], signer)
	return nil
}

func (r *memoryProposalRepo) list(op string, keep func(*entities.TreasuryProposal) bool) ([]*entities.TreasuryProposal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail(op); err != nil {
		return nil, err
	}
	var proposals []*entities.TreasuryProposal
	for _, proposal := range r.s.state.proposals {
		p := r.withApprovals(proposal)
		if keep(p) {
			proposals = append(proposals, p)
		}
	}
	sort.Slice(proposals, func(i, j int) bool { return proposals[i].ID < proposals[j].ID })
	return proposals, nil
}

func (r *memoryProposalRepo) ListOpen(ctx context.Context, now time.Time) ([]*entities.TreasuryProposal, error) {
	return r.list("proposals.ListOpen", func(p *entities.TreasuryProposal) bool {
		return p.Status(now) == entities.ProposalStatusOpen
	})
}

func (r *memoryProposalRepo) ListExpired(ctx context.Context, now time.Time) ([]*entities.TreasuryProposal, error) {
	return r.list("proposals.ListExpired", func(p *entities.TreasuryProposal) bool {
		return p.Status(now) == entities.ProposalStatusExpired
	})
}

// Governance

type memoryGovernanceRepo struct{ s *MemoryStore }

func (r *memoryGovernanceRepo) GetState(ctx context.Context) (*entities.GovernanceState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("governance.GetState"); err != nil {
		return nil, err
	}
	state := cloneGovernance(r.s.state.governance)
	return &state, nil
}

func (r *memoryGovernanceRepo) SaveState(ctx context.Context, state *entities.GovernanceState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("governance.SaveState"); err != nil {
		return err
	}
	state.UpdatedAt = time.Now()
	r.s.state.governance = cloneGovernance(*state)
	return nil
}

func (r *memoryGovernanceRepo) HasRole(ctx context.Context, id entities.UserID, role entities.Role) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("governance.HasRole"); err != nil {
		return false, err
	}
	_, ok := r.s.state.roles[role][id]
	return ok, nil
}

func (r *memoryGovernanceRepo) GrantRole(ctx context.Context, assignment *entities.RoleAssignment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("governance.GrantRole"); err != nil {
		return err
	}
	holders, ok := r.s.state.roles[assignment.Role]
	if !ok {
		holders = map[entities.UserID]entities.RoleAssignment{}
		r.s.state.roles[assignment.Role] = holders
	}
	if _, exists := holders[assignment.UserID]; !exists {
		holders[assignment.UserID] = *assignment
	}
	return nil
}

func (r *memoryGovernanceRepo) RevokeRole(ctx context.Context, id entities.UserID, role entities.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("governance.RevokeRole"); err != nil {
		return err
	}
	delete(r.s.state.roles[role], id)
	return nil
}

func (r *memoryGovernanceRepo) ListByRole(ctx context.Context, role entities.Role) ([]entities.UserID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("governance.ListByRole"); err != nil {
		return nil, err
	}
	var holders []entities.UserID
	for id := range r.s.state.roles[role] {
		holders = append(holders, id)
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i] < holders[j] })
	return holders, nil
}

// Token vault

type memoryVault struct{ s *MemoryStore }

func (v *memoryVault) move(op string, from, to entities.UserID, amount int64) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if err := v.s.fail(op); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive amount %d", interfaces.ErrTransferFailed, amount)
	}
	if v.s.state.accounts[from] < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", interfaces.ErrInsufficientFunds, from, v.s.state.accounts[from], amount)
	}
	v.s.state.accounts[from] -= amount
	v.s.state.accounts[to] += amount
	return nil
}

func (v *memoryVault) TransferIn(ctx context.Context, from entities.UserID, amount int64) error {
	return v.move("vault.TransferIn", from, entities.VaultHolder, amount)
}

func (v *memoryVault) TransferOut(ctx context.Context, to entities.UserID, amount int64) error {
	return v.move("vault.TransferOut", entities.VaultHolder, to, amount)
}

func (v *memoryVault) Fund(ctx context.Context, holder entities.UserID, amount int64) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if err := v.s.fail("vault.Fund"); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive amount %d", interfaces.ErrTransferFailed, amount)
	}
	v.s.state.accounts[holder] += amount
	return nil
}

func (v *memoryVault) BalanceOf(ctx context.Context, holder entities.UserID) (int64, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if err := v.s.fail("vault.BalanceOf"); err != nil {
		return 0, err
	}
	return v.s.state.accounts[holder], nil
}
